package service_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/config"
	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/service"
	"github.com/picdex/picdex/pkg/store/storetest"
)

func newFacade(t *testing.T, fake *storetest.FakeStore) *service.Facade {
	t.Helper()
	cfg := config.ServiceConfig{
		Store: config.StoreConfig{URL: "http://localhost:5984", Database: "picdex"},
		Import: config.ImportConfig{
			WorkingDir:   t.TempDir(),
			AllowedTypes: []string{"jpeg", "png"},
			DefaultVariants: []v1alpha1.VariantSpec{
				{Name: "thumb", Format: "JPEG", Width: 16},
			},
			NumJobs:            2,
			ToProcessBatchSize: 5,
		},
	}
	return service.New(context.Background(), clog.NewDiscard(), cfg, fake, nil)
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 48, 32)), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func registerStarted(f *service.Facade, id string) {
	f.Registry.Register(&v1alpha1.BatchSchema{
		ID:        id,
		ClassName: v1alpha1.ClassImportBatch,
		Status:    v1alpha1.StatusStarted,
		Errors:    make(map[string]string),
	})
}

func TestImportUsesConfiguredDefaults(t *testing.T) {
	fake := storetest.New()
	f := newFacade(t, fake)
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "a.jpg"))

	_, events, err := f.Import(dir, v1alpha1.ImportOptions{SaveOriginal: true})
	require.NoError(t, err)

	var saved *v1alpha1.ImageSchema
	for ev := range events {
		if ev.Type == v1alpha1.EventImgSaved {
			saved = ev.Image
		}
	}
	require.NotNil(t, saved)
	// the configured default variant applied
	require.Len(t, saved.Variants, 1)
	assert.Equal(t, "thumb", saved.Variants[0].Name)
	assert.Equal(t, 16, saved.Variants[0].Size.Width)
}

func TestUpdateBatchRejectsUnknownFields(t *testing.T) {
	f := newFacade(t, storetest.New())
	registerStarted(f, "b1")

	_, err := f.UpdateBatch("b1", map[string]interface{}{"num_success": 7})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.Conflict))
}

func TestUpdateBatchRequiresStatus(t *testing.T) {
	f := newFacade(t, storetest.New())
	registerStarted(f, "b1")

	_, err := f.UpdateBatch("b1", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.AttributeValidationFailure))
}

func TestUpdateBatchOnlyPermitsAbortRequest(t *testing.T) {
	f := newFacade(t, storetest.New())
	registerStarted(f, "b1")

	_, err := f.UpdateBatch("b1", map[string]interface{}{"status": "COMPLETED"})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.AttributeValidationFailure))

	_, err = f.UpdateBatch("b1", map[string]interface{}{"status": 42})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.AttributeValidationFailure))
}

func TestUpdateBatchNotInFlight(t *testing.T) {
	f := newFacade(t, storetest.New())

	_, err := f.UpdateBatch("gone", map[string]interface{}{"status": "ABORT_REQUESTED"})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ImportNotFound))
}

func TestUpdateBatchNeedsStartedState(t *testing.T) {
	f := newFacade(t, storetest.New())
	f.Registry.Register(&v1alpha1.BatchSchema{
		ID:        "b1",
		ClassName: v1alpha1.ClassImportBatch,
		Status:    v1alpha1.StatusInit,
	})

	_, err := f.UpdateBatch("b1", map[string]interface{}{"status": "ABORT_REQUESTED"})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.AttributeValidationFailure))
}

func TestUpdateBatchAcceptsAbortRequest(t *testing.T) {
	f := newFacade(t, storetest.New())
	registerStarted(f, "b1")

	snap, err := f.UpdateBatch("b1", map[string]interface{}{"status": "ABORT_REQUESTED"})
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusAbortRequested, snap.Status)

	// a second request finds the batch past STARTED
	_, err = f.UpdateBatch("b1", map[string]interface{}{"status": "ABORT_REQUESTED"})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.AttributeValidationFailure))
}

func TestShowBatchPrefersLiveRecord(t *testing.T) {
	fake := storetest.New()
	f := newFacade(t, fake)

	// persisted copy says COMPLETED, live record says STARTED
	persisted := &v1alpha1.BatchSchema{
		ID:        "b1",
		ClassName: v1alpha1.ClassImportBatch,
		Status:    v1alpha1.StatusCompleted,
	}
	_, err := fake.Put(context.Background(), persisted)
	require.NoError(t, err)
	registerStarted(f, "b1")

	b, err := f.ShowBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusStarted, b.Status)

	f.Registry.Remove("b1")
	b, err = f.ShowBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.StatusCompleted, b.Status)

	_, err = f.ShowBatch("missing")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ImportNotFound))
}

func TestListBatchesOverlaysInFlight(t *testing.T) {
	fake := storetest.New()
	f := newFacade(t, fake)
	ctx := context.Background()

	stale := &v1alpha1.BatchSchema{
		ID:        "b1",
		ClassName: v1alpha1.ClassImportBatch,
		Status:    v1alpha1.StatusStarted,
		CreatedAt: time.Now(),
	}
	_, err := fake.Put(ctx, stale)
	require.NoError(t, err)

	f.Registry.Register(&v1alpha1.BatchSchema{
		ID:         "b1",
		ClassName:  v1alpha1.ClassImportBatch,
		Status:     v1alpha1.StatusStarted,
		NumSuccess: 3,
	})

	batches, err := f.ListBatches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].NumSuccess)
}

func TestSaveSingleImage(t *testing.T) {
	fake := storetest.New()
	f := newFacade(t, fake)
	path := filepath.Join(t.TempDir(), "single.jpg")
	writeJPEG(t, path)

	img, err := f.Save(path, v1alpha1.ImportOptions{SaveOriginal: true})
	require.NoError(t, err)
	assert.Equal(t, "single.jpg", img.Name)
	assert.Equal(t, "JPEG", img.Format)
	assert.Equal(t, "48x32", img.Geometry)
	assert.Empty(t, img.BatchID)
	assert.NotEmpty(t, img.MetadataRaw)
	assert.Empty(t, img.Variants)

	_, ok := fake.GetAttachment(img.ID, "single.jpg")
	assert.True(t, ok)
}
