package catalog

import (
	"context"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

// resolveFamily loads an original and its variants as a flat document
// list, original first.
func (o *Operations) resolveFamily(ctx context.Context, id string) ([]*v1alpha1.ImageSchema, error) {
	original, err := o.Show(ctx, id, v1alpha1.QueryOptions{ShowMetadata: true})
	if err != nil {
		return nil, err
	}
	family := []*v1alpha1.ImageSchema{original}
	family = append(family, original.Variants...)
	return family, nil
}

// setTrash flips the trash flag on an original and all its variants,
// keeping the family consistent. Already-matching images are no-ops.
func (o *Operations) setTrash(ctx context.Context, ids []string, inTrash bool) error {
	for _, id := range ids {
		family, err := o.resolveFamily(ctx, id)
		if err != nil {
			return err
		}
		for _, img := range family {
			if img.InTrash == inTrash {
				continue
			}
			_, err := o.withCAS(ctx, img.ID, func(doc *v1alpha1.ImageSchema) {
				doc.InTrash = inTrash
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// SendToTrash moves originals and their variants into the trash.
func (o *Operations) SendToTrash(ctx context.Context, ids []string) error {
	return o.setTrash(ctx, ids, true)
}

// RestoreFromTrash moves originals and their variants out of the trash.
func (o *Operations) RestoreFromTrash(ctx context.Context, ids []string) error {
	return o.setTrash(ctx, ids, false)
}

// ViewTrash lists trashed originals with their variants nested;
// variants never surface as top-level rows.
func (o *Operations) ViewTrash(ctx context.Context) ([]*v1alpha1.ImageSchema, error) {
	rows, err := o.Store.View(ctx, view.ByTrash, store.ViewQuery{IncludeDocs: true})
	if err != nil {
		return nil, err
	}
	var originals []*v1alpha1.ImageSchema
	for _, row := range rows {
		img, err := store.DecodeImage(row.Doc)
		if err != nil {
			return nil, err
		}
		if img.IsVariant() {
			continue
		}
		full, err := o.Show(ctx, img.ID, v1alpha1.QueryOptions{})
		if err != nil {
			return nil, err
		}
		originals = append(originals, full)
	}
	return originals, nil
}

// FindByTrashState lists originals by trash membership.
func (o *Operations) FindByTrashState(ctx context.Context, state v1alpha1.TrashState) ([]*v1alpha1.ImageSchema, error) {
	rows, err := o.Store.View(ctx, view.ByOidWithoutVariant, store.ViewQuery{IncludeDocs: true})
	if err != nil {
		return nil, err
	}
	var results []*v1alpha1.ImageSchema
	for _, row := range rows {
		img, err := store.DecodeImage(row.Doc)
		if err != nil {
			return nil, err
		}
		switch state {
		case v1alpha1.TrashIn:
			if !img.InTrash {
				continue
			}
		case v1alpha1.TrashOut:
			if img.InTrash {
				continue
			}
		case v1alpha1.TrashAny:
		default:
			return nil, errcode.New(errcode.InvalidMethodArgument, "trash state %q", state)
		}
		full, err := o.Show(ctx, img.ID, v1alpha1.QueryOptions{})
		if err != nil {
			return nil, err
		}
		results = append(results, full)
	}
	return results, nil
}

// DeleteImages permanently removes originals and all their variants in
// a single tombstone bulk write.
func (o *Operations) DeleteImages(ctx context.Context, ids []string) error {
	var docs []v1alpha1.Document
	for _, id := range ids {
		family, err := o.resolveFamily(ctx, id)
		if err != nil {
			if errcode.Is(err, errcode.NotFound) {
				o.Log.Warn(catalogPrefix+"delete: image %s not found", id)
				continue
			}
			return err
		}
		for _, img := range family {
			docs = append(docs, img)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	results, err := o.Store.Destroy(ctx, docs)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// EmptyTrash permanently deletes everything in the trash.
func (o *Operations) EmptyTrash(ctx context.Context) error {
	trashed, err := o.ViewTrash(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(trashed))
	for _, img := range trashed {
		ids = append(ids, img.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	o.Log.Info(catalogPrefix+"emptying trash: %d images", len(ids))
	return o.DeleteImages(ctx, ids)
}
