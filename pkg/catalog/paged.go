package catalog

import (
	"context"
	"errors"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

// Move selects the paging direction relative to a cursor.
type Move int

const (
	MoveAt Move = iota
	MoveNext
	MovePrevious
)

// PagedFindByCreationTime pages over images newest-first. It runs the
// reducible name view for total_size, pages the base view with a filter
// that drops variant rows, then fans out one keyed view query to attach
// the requested variants.
func (o *Operations) PagedFindByCreationTime(ctx context.Context, cursor string, move Move, opts v1alpha1.QueryOptions, variantNames []string) (*view.Page, error) {
	if opts.TrashState == v1alpha1.TrashIn && opts.TagSelection != v1alpha1.TagsAny {
		return nil, errcode.New(errcode.NotImplemented, "paging the trash with a tag filter")
	}
	base, count := creationView(opts.TagSelection)
	startKey, endKey, err := creationRange(opts)
	if err != nil {
		return nil, err
	}

	pager := &view.Pager{
		Log:         o.Log,
		Store:       o.Store,
		View:        base,
		CountView:   count,
		PageSize:    opts.PageSize,
		Descending:  true,
		StartKey:    startKey,
		EndKey:      endKey,
		IncludeDocs: true,
		Filter: func(row store.Row) bool {
			img, err := store.DecodeImage(row.Doc)
			if err != nil {
				return false
			}
			return !img.IsVariant()
		},
		Transform: func(row store.Row) (interface{}, error) {
			img, err := store.DecodeImage(row.Doc)
			if err != nil {
				return nil, err
			}
			project(img, opts.ShowMetadata)
			return img, nil
		},
	}

	var page *view.Page
	switch move {
	case MoveNext:
		page, err = pager.Next(ctx, cursor)
	case MovePrevious:
		page, err = pager.Previous(ctx, cursor)
	default:
		page, err = pager.At(ctx, cursor)
	}
	endOfIteration := errors.Is(err, view.ErrEndOfIteration)
	if err != nil && !endOfIteration {
		return nil, err
	}

	total, terr := pager.Total(ctx)
	if terr != nil {
		return nil, terr
	}
	page.TotalSize = total

	if err := o.attachVariants(ctx, page, variantNames); err != nil {
		return nil, err
	}
	if endOfIteration {
		return page, view.ErrEndOfIteration
	}
	return page, nil
}

// attachVariants fans out one keyed query against batch_by_oid_w_image
// using explicit [batch_id, original_id, 2, name] keys. Images without
// a batch fall back to a full show.
func (o *Operations) attachVariants(ctx context.Context, page *view.Page, variantNames []string) error {
	var keys []interface{}
	byID := make(map[string]*v1alpha1.ImageSchema, len(page.Items))
	for _, item := range page.Items {
		img, ok := item.(*v1alpha1.ImageSchema)
		if !ok {
			continue
		}
		byID[img.ID] = img
		if img.BatchID == "" || len(variantNames) == 0 {
			hydrated, err := o.Show(ctx, img.ID, v1alpha1.QueryOptions{})
			if err != nil && !errcode.Is(err, errcode.NotFound) {
				return err
			}
			if hydrated != nil {
				img.Variants = hydrated.Variants
			}
			continue
		}
		for _, name := range variantNames {
			keys = append(keys, view.BatchImageKey(img.BatchID, img.ID, view.RowTypeVariant, name))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	rows, err := o.Store.View(ctx, view.BatchByOidWithImage, store.ViewQuery{
		Keys:        keys,
		IncludeDocs: true,
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		variant, err := store.DecodeImage(row.Doc)
		if err != nil {
			return err
		}
		if parent, ok := byID[variant.OriginalID]; ok {
			parent.Variants = append(parent.Variants, variant)
		}
	}
	for _, img := range byID {
		sortVariants(img)
	}
	return nil
}
