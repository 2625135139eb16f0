package catalog

import (
	"context"
	"sort"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

const catalogPrefix string = "[Catalog] "

// fetchBatchSize bounds a single bulk fetch round trip.
const fetchBatchSize int = 100

// Operations is the catalog query & mutation layer. All reads return
// originals with their variants attached in ascending width, except
// views explicitly about variants.
type Operations struct {
	Log   clog.PluggableLoggerInterface
	Store store.Store
}

func New(log clog.PluggableLoggerInterface, st store.Store) *Operations {
	return &Operations{Log: log, Store: st}
}

// Show reads an original and all its variants in ascending width.
func (o *Operations) Show(ctx context.Context, id string, opts v1alpha1.QueryOptions) (*v1alpha1.ImageSchema, error) {
	rows, err := o.Store.View(ctx, view.ByOidWithVariant, store.ViewQuery{
		StartKey:    view.OidVariantStartKey(id),
		EndKey:      view.OidVariantEndKey(id),
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errcode.New(errcode.NotFound, "image %s", id)
	}
	var original *v1alpha1.ImageSchema
	var variants []*v1alpha1.ImageSchema
	for _, row := range rows {
		img, err := store.DecodeImage(row.Doc)
		if err != nil {
			return nil, err
		}
		project(img, opts.ShowMetadata)
		if img.IsVariant() {
			variants = append(variants, img)
		} else {
			original = img
		}
	}
	if original == nil {
		return nil, errcode.New(errcode.NotFound, "image %s has no original row", id)
	}
	original.Variants = variants
	return original, nil
}

// FindByIDs bulk-fetches images in batches. No ordering guarantee.
func (o *Operations) FindByIDs(ctx context.Context, ids []string) ([]*v1alpha1.ImageSchema, error) {
	var images []*v1alpha1.ImageSchema
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		docs, missing, err := o.Store.BulkFetch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, m := range missing {
			o.Log.Debug(catalogPrefix+"missing document %s", m)
		}
		for _, raw := range docs {
			img, err := store.DecodeImage(raw)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		}
	}
	return images, nil
}

// creationView picks the base view for a tag selection.
func creationView(sel v1alpha1.TagSelection) (base string, count string) {
	switch sel {
	case v1alpha1.TagsTagged:
		return view.ByCreationTimeTagged, view.ByCreationTimeNameTagged
	case v1alpha1.TagsUntagged:
		return view.ByCreationTimeUntagged, view.ByCreationTimeNameUntagged
	}
	return view.ByCreationTime, view.ByCreationTimeName
}

// creationRange maps the optional YYYYMMDD range to descending
// iteration bounds: the end of the range is the start key.
func creationRange(opts v1alpha1.QueryOptions) (startKey, endKey view.Key, err error) {
	if opts.EndDate != "" {
		day, perr := view.ParseDay(opts.EndDate)
		if perr != nil {
			return nil, nil, errcode.Wrap(errcode.InvalidMethodArgument, perr, "end date %q", opts.EndDate)
		}
		startKey = view.DayHighKey(day)
	}
	if opts.StartDate != "" {
		day, perr := view.ParseDay(opts.StartDate)
		if perr != nil {
			return nil, nil, errcode.Wrap(errcode.InvalidMethodArgument, perr, "start date %q", opts.StartDate)
		}
		endKey = view.DayLowKey(day)
	}
	return startKey, endKey, nil
}

// FindByCreationTime returns images newest-first, optionally narrowed
// to a date range and a tag selection.
func (o *Operations) FindByCreationTime(ctx context.Context, opts v1alpha1.QueryOptions) ([]*v1alpha1.ImageSchema, error) {
	base, _ := creationView(opts.TagSelection)
	startKey, endKey, err := creationRange(opts)
	if err != nil {
		return nil, err
	}
	rows, err := o.Store.View(ctx, base, store.ViewQuery{
		StartKey:    keyOrNil(startKey),
		EndKey:      keyOrNil(endKey),
		Descending:  true,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	return groupVariants(rows, opts.ShowMetadata)
}

// groupVariants decodes rows of a creation-time view and nests variant
// docs under their originals, preserving row order for originals.
func groupVariants(rows []store.Row, showMetadata bool) ([]*v1alpha1.ImageSchema, error) {
	var originals []*v1alpha1.ImageSchema
	byID := make(map[string]*v1alpha1.ImageSchema)
	var orphans []*v1alpha1.ImageSchema
	for _, row := range rows {
		img, err := store.DecodeImage(row.Doc)
		if err != nil {
			return nil, err
		}
		project(img, showMetadata)
		if img.IsVariant() {
			orphans = append(orphans, img)
			continue
		}
		originals = append(originals, img)
		byID[img.ID] = img
	}
	for _, v := range orphans {
		if parent, ok := byID[v.OriginalID]; ok {
			parent.Variants = append(parent.Variants, v)
		}
	}
	for _, img := range originals {
		sortVariants(img)
	}
	return originals, nil
}

func sortVariants(img *v1alpha1.ImageSchema) {
	sort.SliceStable(img.Variants, func(i, j int) bool {
		return img.Variants[i].Size.Width < img.Variants[j].Size.Width
	})
}

// project applies the show_metadata flag.
func project(img *v1alpha1.ImageSchema, showMetadata bool) {
	if !showMetadata {
		img.MetadataRaw = ""
	}
}

func keyOrNil(k view.Key) interface{} {
	if k == nil {
		return nil
	}
	return k
}
