package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/imagetool"
)

// workItem is the per-image state of one chunk. Exactly one worker
// touches an item during a concurrent phase, so items need no locking.
type workItem struct {
	entry    v1alpha1.FileEntry
	original *v1alpha1.ImageSchema
	variant  *v1alpha1.ImageSchema
	temp     string
	err      error
}

// chunkResult carries a chunk's pass-1 survivors into pass 2.
type chunkResult struct {
	items []*workItem
}

// passOne processes one chunk: probe and persist the originals, derive
// the single preview variant per image, persist and attach, then emit
// IMG_VARIANT_CREATED for each image that got a preview. A batch with no
// desired variants emits none. A nil error with partial results means per-image
// failures only; a non-nil error is fatal for the batch.
func (e *Engine) passOne(id string, chunk []v1alpha1.FileEntry, first *v1alpha1.VariantSpec, opts v1alpha1.ImportOptions, events chan<- v1alpha1.Event) (*chunkResult, error) {
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.NumAttempted += len(chunk)
	})

	items := make([]*workItem, len(chunk))
	g := new(errgroup.Group)
	g.SetLimit(opts.NumJobs)
	for i, entry := range chunk {
		items[i] = &workItem{entry: entry}
		item := items[i]
		g.Go(func() error {
			item.original, item.err = e.buildOriginal(id, item.entry, opts)
			return nil
		})
	}
	_ = g.Wait()

	live := e.reap(id, items, events)
	if len(live) == 0 {
		return &chunkResult{}, nil
	}

	docs := make([]v1alpha1.Document, 0, len(live))
	for _, item := range live {
		docs = append(docs, item.original)
	}
	results, err := e.Store.BulkPut(e.Context, docs)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		live[i].err = r.Err
	}
	live = e.reap(id, live, events)

	if first != nil {
		g = new(errgroup.Group)
		g.SetLimit(opts.NumJobs)
		for _, item := range live {
			item := item
			g.Go(func() error {
				item.variant, item.temp, item.err = e.deriveVariant(item.original, *first)
				return nil
			})
		}
		_ = g.Wait()
		live = e.reap(id, live, events)

		docs = docs[:0]
		for _, item := range live {
			docs = append(docs, item.variant)
		}
		if len(docs) > 0 {
			results, err = e.Store.BulkPut(e.Context, docs)
			if err != nil {
				return nil, err
			}
			for i, r := range results {
				live[i].err = r.Err
			}
			live = e.reap(id, live, events)
		}
	}

	var survivors []*workItem
	for _, item := range live {
		if item.err = e.attachItem(item, opts); item.err != nil {
			e.recordImageError(id, item.entry.Path, item.err, events)
			continue
		}
		e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
			b.NumSuccess++
		})
		if item.variant != nil {
			preview := *item.original
			preview.Variants = []*v1alpha1.ImageSchema{item.variant}
			events <- v1alpha1.Event{Type: v1alpha1.EventImgVariantCreated, Image: &preview}
		}
		survivors = append(survivors, item)
	}
	return &chunkResult{items: survivors}, nil
}

// passTwo derives the remaining variants for a chunk's survivors,
// persists and attaches them, then reloads each image and emits
// IMG_SAVED.
func (e *Engine) passTwo(id string, result *chunkResult, first *v1alpha1.VariantSpec, opts v1alpha1.ImportOptions, events chan<- v1alpha1.Event) error {
	remaining := remainingVariants(opts.DesiredVariants, first)

	type derived struct {
		variant *v1alpha1.ImageSchema
		temp    string
	}
	perItem := make([][]derived, len(result.items))

	if len(remaining) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(opts.NumJobs)
		for i, item := range result.items {
			i, item := i, item
			g.Go(func() error {
				for _, spec := range remaining {
					variant, temp, err := e.deriveVariant(item.original, spec)
					if err != nil {
						item.err = err
						return nil
					}
					perItem[i] = append(perItem[i], derived{variant: variant, temp: temp})
				}
				return nil
			})
		}
		_ = g.Wait()

		var docs []v1alpha1.Document
		var owners []*workItem
		for i, item := range result.items {
			if item.err != nil {
				e.failSurvivor(id, item.entry.Path, item.err, events)
				continue
			}
			for _, d := range perItem[i] {
				docs = append(docs, d.variant)
				owners = append(owners, item)
			}
		}
		if len(docs) > 0 {
			results, err := e.Store.BulkPut(e.Context, docs)
			if err != nil {
				return err
			}
			for j, r := range results {
				if r.Err != nil && owners[j].err == nil {
					owners[j].err = r.Err
					e.failSurvivor(id, owners[j].entry.Path, r.Err, events)
				}
			}
		}
		for i, item := range result.items {
			if item.err != nil {
				continue
			}
			for _, d := range perItem[i] {
				if err := e.attachVariant(d.variant, d.temp); err != nil {
					item.err = err
					e.failSurvivor(id, item.entry.Path, err, events)
					break
				}
			}
		}
	}

	for _, item := range result.items {
		if item.err != nil {
			continue
		}
		full, err := e.Catalog.Show(e.Context, item.original.ID, v1alpha1.QueryOptions{ShowMetadata: true})
		if err != nil {
			e.Log.Warn(enginePrefix+"reload %s: %v", item.original.ID, err)
			full = item.original
		}
		events <- v1alpha1.Event{Type: v1alpha1.EventImgSaved, Image: full}
	}
	return nil
}

// reap splits failed items out of the slice, recording and emitting
// their errors, and returns the healthy remainder.
func (e *Engine) reap(id string, items []*workItem, events chan<- v1alpha1.Event) []*workItem {
	live := items[:0]
	for _, item := range items {
		if item.err != nil {
			e.recordImageError(id, item.entry.Path, item.err, events)
			continue
		}
		live = append(live, item)
	}
	return live
}

// failSurvivor retracts the pass-1 success of an image that failed a
// later rendition, then records the error. Keeps num_attempted equal to
// num_success plus num_error at finalization.
func (e *Engine) failSurvivor(id, path string, cause error, events chan<- v1alpha1.Event) {
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.NumSuccess--
	})
	e.recordImageError(id, path, cause, events)
}

// recordImageError counts a failed image, emits IMG_ERROR and persists
// the error record. The error document write is best effort.
func (e *Engine) recordImageError(id, path string, cause error, events chan<- v1alpha1.Event) {
	e.Log.Warn(enginePrefix+"batch %s: %s: %v", id, path, cause)
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.NumError++
		b.Errors[path] = cause.Error()
	})
	events <- v1alpha1.Event{Type: v1alpha1.EventImgError, Path: path, Error: cause.Error()}

	record := &v1alpha1.ImportErrorSchema{
		ID:        uuid.NewString(),
		ClassName: v1alpha1.ClassImportError,
		BatchID:   id,
		Path:      path,
		Error:     cause.Error(),
		CreatedAt: time.Now(),
	}
	if _, err := e.Store.Put(e.Context, record); err != nil {
		e.Log.Warn(enginePrefix+"batch %s: persisting error record: %v", id, err)
	}
}

// buildOriginal probes a scanned file into an original image document.
func (e *Engine) buildOriginal(batchID string, entry v1alpha1.FileEntry, opts v1alpha1.ImportOptions) (*v1alpha1.ImageSchema, error) {
	probe, err := e.Tool.Probe(e.Context, entry.Path, true)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	img := &v1alpha1.ImageSchema{
		ID:          uuid.NewString(),
		ClassName:   v1alpha1.ClassImage,
		Kind:        v1alpha1.KindOriginal,
		BatchID:     batchID,
		Path:        entry.Path,
		Name:        filepath.Base(entry.Path),
		Format:      probe.Format,
		Geometry:    probe.Geometry(),
		Size:        v1alpha1.Size{Width: probe.Width, Height: probe.Height},
		Filesize:    probe.Filesize,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        []string{},
		MetadataRaw: probe.Raw,
	}
	if opts.GenerateChecksums {
		data, err := e.Tool.OpenStream(entry.Path)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		img.Checksum = hex.EncodeToString(sum[:])
	}
	return img, nil
}

// deriveVariant resizes the original into a working-directory temp file
// named from (image_id, variant_name), probes it and returns the
// variant document. Variant timestamps mirror the original's.
func (e *Engine) deriveVariant(original *v1alpha1.ImageSchema, spec v1alpha1.VariantSpec) (*v1alpha1.ImageSchema, string, error) {
	temp := filepath.Join(e.WorkingDir, fmt.Sprintf("%s_%s.%s", original.ID, spec.Name, strings.ToLower(spec.Format)))
	if _, err := e.Tool.Resize(e.Context, original.Path, imagetool.ResizeSpec{Width: spec.Width, Height: spec.Height}, temp); err != nil {
		return nil, "", err
	}
	probe, err := e.Tool.Probe(e.Context, temp, false)
	if err != nil {
		return nil, "", err
	}
	variant := &v1alpha1.ImageSchema{
		ID:         uuid.NewString(),
		ClassName:  v1alpha1.ClassImage,
		Kind:       v1alpha1.KindVariant,
		OriginalID: original.ID,
		BatchID:    original.BatchID,
		Path:       original.Path,
		Name:       spec.Name,
		Format:     probe.Format,
		Geometry:   probe.Geometry(),
		Size:       v1alpha1.Size{Width: probe.Width, Height: probe.Height},
		Filesize:   probe.Filesize,
		CreatedAt:  original.CreatedAt,
		UpdatedAt:  original.UpdatedAt,
		Tags:       []string{},
	}
	return variant, temp, nil
}

// attachItem uploads an item's bytes: the original when save_original
// is on, then the preview variant. Attach order follows persist order.
func (e *Engine) attachItem(item *workItem, opts v1alpha1.ImportOptions) error {
	if opts.SaveOriginal {
		data, err := e.Tool.OpenStream(item.entry.Path)
		if err != nil {
			return err
		}
		rev, err := e.Store.Attach(e.Context, item.original.ID, item.original.AttachmentName(), data, item.original.ContentType(), item.original.Rev)
		if err != nil {
			return err
		}
		item.original.Rev = rev
	}
	if item.variant != nil {
		if err := e.attachVariant(item.variant, item.temp); err != nil {
			return err
		}
	}
	return nil
}

// attachVariant uploads a derived file and removes the temp. A missed
// delete is logged, never fatal.
func (e *Engine) attachVariant(variant *v1alpha1.ImageSchema, temp string) error {
	data, err := e.Tool.OpenStream(temp)
	if err != nil {
		return err
	}
	rev, err := e.Store.Attach(e.Context, variant.ID, variant.AttachmentName(), data, variant.ContentType(), variant.Rev)
	if err != nil {
		return err
	}
	variant.Rev = rev
	if err := os.Remove(temp); err != nil {
		e.Log.Warn(enginePrefix+"removing temp %s: %v", temp, err)
	}
	return nil
}

// remainingVariants lists the renditions pass 2 still owes, preserving
// list order.
func remainingVariants(specs []v1alpha1.VariantSpec, first *v1alpha1.VariantSpec) []v1alpha1.VariantSpec {
	if first == nil {
		return nil
	}
	out := make([]v1alpha1.VariantSpec, 0, len(specs))
	for _, s := range specs {
		if s.Name == first.Name {
			continue
		}
		out = append(out, s)
	}
	return out
}
