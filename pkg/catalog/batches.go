package catalog

import (
	"context"
	"encoding/json"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

// BatchDetail is a batch record together with its images and the
// tallies from the batch_by_oid_w_image_by_ctime reduce.
type BatchDetail struct {
	Batch            *v1alpha1.BatchSchema
	Images           []*v1alpha1.ImageSchema
	NumImages        int
	NumImagesInTrash int
}

// ListBatches returns batch records newest-first.
func (o *Operations) ListBatches(ctx context.Context) ([]*v1alpha1.BatchSchema, error) {
	rows, err := o.Store.View(ctx, view.BatchByCtime, store.ViewQuery{
		IncludeDocs: true,
		Descending:  true,
	})
	if err != nil {
		return nil, err
	}
	batches := make([]*v1alpha1.BatchSchema, 0, len(rows))
	for _, row := range rows {
		b, err := store.DecodeBatch(row.Doc)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// GetBatch reads a single batch record from the store.
func (o *Operations) GetBatch(ctx context.Context, id string) (*v1alpha1.BatchSchema, error) {
	raw, _, err := o.Store.Get(ctx, id)
	if err != nil {
		if errcode.Is(err, errcode.NotFound) {
			return nil, errcode.New(errcode.ImportNotFound, "batch %s", id)
		}
		return nil, err
	}
	b, err := store.DecodeBatch(raw)
	if err != nil {
		return nil, err
	}
	if b.Class() != v1alpha1.ClassImportBatch || b.ClassName != v1alpha1.ClassImportBatch {
		return nil, errcode.New(errcode.ImportNotFound, "document %s is not a batch", id)
	}
	return b, nil
}

// ShowBatchWithImages reads a batch, its originals with variants nested
// newest-first, and the image tallies in two view queries.
func (o *Operations) ShowBatchWithImages(ctx context.Context, id string, opts v1alpha1.QueryOptions) (*BatchDetail, error) {
	batch, err := o.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &BatchDetail{Batch: batch}

	startKey := view.BatchStartKey(id)
	endKey := view.BatchEndKey(id)

	rows, err := o.Store.View(ctx, view.BatchByOidWithImageByCtime, store.ViewQuery{
		StartKey:    endKey,
		EndKey:      startKey,
		Descending:  true,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	imageRows := make([]store.Row, 0, len(rows))
	for _, row := range rows {
		if row.ID == id {
			continue
		}
		imageRows = append(imageRows, row)
	}
	detail.Images, err = groupVariants(imageRows, opts.ShowMetadata)
	if err != nil {
		return nil, err
	}

	reduced, err := o.Store.View(ctx, view.BatchByOidWithImageByCtime, store.ViewQuery{
		StartKey: startKey,
		EndKey:   endKey,
		Reduce:   true,
	})
	if err != nil {
		return nil, err
	}
	if len(reduced) != 1 {
		return nil, errcode.New(errcode.ViewReduceFailure, "batch %s tally returned %d rows", id, len(reduced))
	}
	var tally struct {
		NumImages        int `json:"num_images"`
		NumImagesInTrash int `json:"num_images_intrash"`
	}
	if err := json.Unmarshal(reduced[0].Value, &tally); err != nil {
		return nil, errcode.Wrap(errcode.ViewReduceFailure, err, "batch %s tally", id)
	}
	detail.NumImages = tally.NumImages
	detail.NumImagesInTrash = tally.NumImagesInTrash
	return detail, nil
}
