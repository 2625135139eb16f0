package batch_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/batch"
	"github.com/picdex/picdex/pkg/catalog"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/imagetool"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/mimetype"
	"github.com/picdex/picdex/pkg/registry"
	"github.com/picdex/picdex/pkg/scanner"
	"github.com/picdex/picdex/pkg/store/storetest"
)

type harness struct {
	fake     *storetest.FakeStore
	catalog  *catalog.Operations
	registry *registry.InFlight
	engine   *batch.Engine
}

func newHarness(t *testing.T, tool imagetool.Handler) *harness {
	t.Helper()
	log := clog.NewDiscard()
	fake := storetest.New()
	if tool == nil {
		tool = imagetool.NewNative(log)
	}
	cat := catalog.New(log, fake)
	reg := registry.New()
	sc := scanner.New(log, mimetype.NewImageAllowSet([]string{"jpeg", "png"}))
	eng := batch.New(context.Background(), log, fake, cat, reg, sc, tool, t.TempDir())
	return &harness{fake: fake, catalog: cat, registry: reg, engine: eng}
}

func writeJPEG(t *testing.T, path string, width, height int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// writeBrokenJPEG writes a file with a JPEG magic number but no valid
// image stream, admissible to the scanner and fatal to the probe.
func writeBrokenJPEG(t *testing.T, path string) {
	t.Helper()
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0xAB}, 64)...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func drain(events <-chan v1alpha1.Event) []v1alpha1.Event {
	var out []v1alpha1.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func countByType(events []v1alpha1.Event) map[v1alpha1.EventType]int {
	counts := make(map[v1alpha1.EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts
}

func twoVariants() []v1alpha1.VariantSpec {
	return []v1alpha1.VariantSpec{
		{Name: "screen", Format: "JPEG", Width: 64},
		{Name: "thumb", Format: "JPEG", Width: 16},
	}
}

func TestImportHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "a.jpg"), 128, 96)
	writeJPEG(t, filepath.Join(dir, "b.jpg"), 200, 100)
	writeJPEG(t, filepath.Join(dir, "c.jpg"), 64, 64)

	created, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:    true,
		IgnoreDotfiles:  true,
		DesiredVariants: twoVariants(),
	})
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusInit, created.Status)
	assert.Equal(t, 3, created.NumToImport)

	all := drain(events)
	require.NotEmpty(t, all)
	assert.Equal(t, v1alpha1.EventStarted, all[0].Type)
	assert.Equal(t, v1alpha1.EventCompleted, all[len(all)-1].Type)

	counts := countByType(all)
	assert.Equal(t, 3, counts[v1alpha1.EventImgVariantCreated])
	assert.Equal(t, 3, counts[v1alpha1.EventImgSaved])
	assert.Zero(t, counts[v1alpha1.EventImgError])

	final := all[len(all)-1].Batch
	require.NotNil(t, final)
	assert.Equal(t, v1alpha1.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.NumAttempted)
	assert.Equal(t, 3, final.NumSuccess)
	assert.Zero(t, final.NumError)
	assert.False(t, final.CompletedAt.IsZero())

	// the batch left the in-flight registry after the terminal persist
	assert.Nil(t, h.registry.Get(created.ID))

	// 1 batch + 3 originals + 6 variants
	assert.Equal(t, 10, h.fake.NumDocs())

	persisted, err := h.catalog.GetBatch(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusCompleted, persisted.Status)
}

func TestImportSavedImagesCarryVariantsAndAttachments(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 128, 64)

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:    true,
		DesiredVariants: twoVariants(),
	})
	require.NoError(t, err)

	var saved *v1alpha1.ImageSchema
	for _, ev := range drain(events) {
		if ev.Type == v1alpha1.EventImgSaved {
			saved = ev.Image
		}
	}
	require.NotNil(t, saved)
	assert.Equal(t, "photo.jpg", saved.Name)
	assert.Equal(t, "JPEG", saved.Format)
	assert.Equal(t, "128x64", saved.Geometry)
	assert.NotEmpty(t, saved.MetadataRaw)

	// variants ascending width: thumb 16x8, screen 64x32
	type rendition struct {
		Name          string
		Width, Height int
	}
	var got []rendition
	for _, v := range saved.Variants {
		got = append(got, rendition{v.Name, v.Size.Width, v.Size.Height})
	}
	want := []rendition{{"thumb", 16, 8}, {"screen", 64, 32}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, saved.Variants, 2)
	for _, v := range saved.Variants {
		assert.Equal(t, saved.ID, v.OriginalID)
		assert.Equal(t, saved.BatchID, v.BatchID)
		assert.Equal(t, saved.CreatedAt, v.CreatedAt)
	}

	// attachment bytes landed under the right names
	_, ok := h.fake.GetAttachment(saved.ID, "photo.jpg")
	assert.True(t, ok)
	_, ok = h.fake.GetAttachment(saved.Variants[0].ID, "thumb")
	assert.True(t, ok)
	_, ok = h.fake.GetAttachment(saved.Variants[1].ID, "screen")
	assert.True(t, ok)
}

func TestImportSkipsOriginalAttachmentWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 64, 64)

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:    false,
		DesiredVariants: twoVariants(),
	})
	require.NoError(t, err)

	var saved *v1alpha1.ImageSchema
	for _, ev := range drain(events) {
		if ev.Type == v1alpha1.EventImgSaved {
			saved = ev.Image
		}
	}
	require.NotNil(t, saved)
	_, ok := h.fake.GetAttachment(saved.ID, "photo.jpg")
	assert.False(t, ok)
	_, ok = h.fake.GetAttachment(saved.Variants[0].ID, "thumb")
	assert.True(t, ok)
}

func TestImportWithoutVariants(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 64, 64)

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{SaveOriginal: true})
	require.NoError(t, err)

	all := drain(events)
	counts := countByType(all)
	// no preview means no IMG_VARIANT_CREATED, just the one save
	assert.Zero(t, counts[v1alpha1.EventImgVariantCreated])
	assert.Equal(t, 1, counts[v1alpha1.EventImgSaved])

	final := all[len(all)-1].Batch
	assert.Equal(t, v1alpha1.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.NumSuccess)

	// 1 batch + 1 original, no variant docs
	assert.Equal(t, 2, h.fake.NumDocs())
}

// failingResizeTool fails every resize to the given width, leaving
// smaller renditions intact.
type failingResizeTool struct {
	imagetool.Handler
	failWidth int
}

func (f *failingResizeTool) Resize(ctx context.Context, src string, spec imagetool.ResizeSpec, dest string) (string, error) {
	if spec.Width == f.failWidth {
		return "", errcode.New(errcode.ProbeFailure, "resize to %dpx failed", f.failWidth)
	}
	return f.Handler.Resize(ctx, src, spec, dest)
}

func TestImportSecondRenditionFailureKeepsTallyConsistent(t *testing.T) {
	tool := &failingResizeTool{Handler: imagetool.NewNative(clog.NewDiscard()), failWidth: 64}
	h := newHarness(t, tool)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 128, 64)

	// thumb succeeds in pass 1, screen fails in pass 2
	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:    true,
		DesiredVariants: twoVariants(),
	})
	require.NoError(t, err)

	all := drain(events)
	counts := countByType(all)
	assert.Equal(t, 1, counts[v1alpha1.EventImgVariantCreated])
	assert.Zero(t, counts[v1alpha1.EventImgSaved])
	assert.Equal(t, 1, counts[v1alpha1.EventImgError])

	final := all[len(all)-1].Batch
	require.NotNil(t, final)
	assert.Equal(t, v1alpha1.StatusError, final.Status)
	assert.Equal(t, 1, final.NumAttempted)
	assert.Zero(t, final.NumSuccess)
	assert.Equal(t, 1, final.NumError)
	assert.Equal(t, final.NumAttempted, final.NumSuccess+final.NumError)
	assert.LessOrEqual(t, final.NumSuccess+final.NumError, final.NumToImport)
}

func TestImportGeneratesChecksums(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 32, 32)

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:      true,
		GenerateChecksums: true,
	})
	require.NoError(t, err)

	var saved *v1alpha1.ImageSchema
	for _, ev := range drain(events) {
		if ev.Type == v1alpha1.EventImgSaved {
			saved = ev.Image
		}
	}
	require.NotNil(t, saved)
	assert.Len(t, saved.Checksum, 64)
}

func TestImportEmptyDirectory(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.engine.CreateFromFS(t.TempDir(), v1alpha1.ImportOptions{})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.NoFilesFound))
	// nothing persisted, nothing registered
	assert.Zero(t, h.fake.NumDocs())
}

func TestImportRecordsPerImageErrors(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "good.jpg"), 64, 64)
	writeBrokenJPEG(t, filepath.Join(dir, "broken.jpg"))

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:    true,
		DesiredVariants: twoVariants(),
	})
	require.NoError(t, err)

	all := drain(events)
	counts := countByType(all)
	assert.Equal(t, 1, counts[v1alpha1.EventImgError])
	assert.Equal(t, 1, counts[v1alpha1.EventImgVariantCreated])
	assert.Equal(t, 1, counts[v1alpha1.EventImgSaved])

	var imgErr v1alpha1.Event
	for _, ev := range all {
		if ev.Type == v1alpha1.EventImgError {
			imgErr = ev
		}
	}
	assert.Contains(t, imgErr.Path, "broken.jpg")
	assert.NotEmpty(t, imgErr.Error)

	// one failure does not fail the batch
	final := all[len(all)-1].Batch
	assert.Equal(t, v1alpha1.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.NumAttempted)
	assert.Equal(t, 1, final.NumSuccess)
	assert.Equal(t, 1, final.NumError)
}

func TestImportAllFailuresEndsInError(t *testing.T) {
	h := newHarness(t, nil)
	dir := t.TempDir()
	writeBrokenJPEG(t, filepath.Join(dir, "broken.jpg"))

	_, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{SaveOriginal: true})
	require.NoError(t, err)

	all := drain(events)
	final := all[len(all)-1].Batch
	assert.Equal(t, v1alpha1.StatusError, final.Status)
	assert.Zero(t, final.NumSuccess)
	assert.Equal(t, 1, final.NumError)
}

// gatedTool blocks the first probe until released, pinning the engine
// inside its first chunk so abort timing is deterministic.
type gatedTool struct {
	imagetool.Handler
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedTool(inner imagetool.Handler) *gatedTool {
	return &gatedTool{
		Handler: inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTool) Probe(ctx context.Context, path string, verbose bool) (imagetool.ProbeResult, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Handler.Probe(ctx, path, verbose)
}

func TestImportAbortBetweenChunks(t *testing.T) {
	tool := newGatedTool(imagetool.NewNative(clog.NewDiscard()))
	h := newHarness(t, tool)
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		writeJPEG(t, filepath.Join(dir, name), 32, 32)
	}

	created, events, err := h.engine.CreateFromFS(dir, v1alpha1.ImportOptions{
		SaveOriginal:       true,
		ToProcessBatchSize: 2,
	})
	require.NoError(t, err)

	// the engine is inside chunk 1 once the first probe is reached
	<-tool.entered
	require.True(t, h.registry.SetStatus(created.ID, v1alpha1.StatusAbortRequested))
	close(tool.release)

	all := drain(events)
	final := all[len(all)-1].Batch
	assert.Equal(t, v1alpha1.StatusAborted, final.Status)
	// the in-flight chunk finished, the rest never started
	assert.Equal(t, 2, final.NumSuccess)
	assert.Equal(t, 2, final.NumAttempted)
	assert.Zero(t, final.NumError)
	assert.False(t, final.CompletedAt.IsZero())
	assert.Nil(t, h.registry.Get(created.ID))

	persisted, err := h.catalog.GetBatch(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusAborted, persisted.Status)
}
