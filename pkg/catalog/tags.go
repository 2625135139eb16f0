package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

// normalizeTags keeps a tag set sorted ascending and duplicate-free,
// the at-rest invariant for every image.
func normalizeTags(tags []string) []string {
	out := lo.Uniq(tags)
	sort.Strings(out)
	return out
}

// withCAS encapsulates fetch-mutate-write with exactly one
// CONFLICT-driven retry. A second conflict surfaces to the caller.
func (o *Operations) withCAS(ctx context.Context, id string, mutate func(*v1alpha1.ImageSchema)) (*v1alpha1.ImageSchema, error) {
	write := func() (*v1alpha1.ImageSchema, error) {
		raw, _, err := o.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		img, err := store.DecodeImage(raw)
		if err != nil {
			return nil, err
		}
		mutate(img)
		img.UpdatedAt = time.Now()
		if _, err := o.Store.Put(ctx, img); err != nil {
			return nil, err
		}
		return img, nil
	}
	img, err := write()
	if err != nil && errcode.Is(err, errcode.Conflict) {
		img, err = write()
	}
	return img, err
}

// TagsAdd merges tags into each image's tag set.
func (o *Operations) TagsAdd(ctx context.Context, ids []string, tags []string) error {
	for _, id := range ids {
		_, err := o.withCAS(ctx, id, func(img *v1alpha1.ImageSchema) {
			img.Tags = normalizeTags(append(img.Tags, tags...))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// TagsRemove drops tags from each image's tag set.
func (o *Operations) TagsRemove(ctx context.Context, ids []string, tags []string) error {
	for _, id := range ids {
		_, err := o.withCAS(ctx, id, func(img *v1alpha1.ImageSchema) {
			img.Tags = normalizeTags(lo.Without(img.Tags, tags...))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// TagsReplace substitutes tags positionally: oldTags[i] becomes
// newTags[i].
func (o *Operations) TagsReplace(ctx context.Context, ids []string, oldTags, newTags []string) error {
	if len(oldTags) != len(newTags) {
		return errcode.New(errcode.InvalidMethodArgument, "replace needs matching tag lists, got %d and %d", len(oldTags), len(newTags))
	}
	for _, id := range ids {
		_, err := o.withCAS(ctx, id, func(img *v1alpha1.ImageSchema) {
			for i, old := range oldTags {
				img.Tags = lo.Without(img.Tags, old)
				img.Tags = append(img.Tags, newTags[i])
			}
			img.Tags = normalizeTags(img.Tags)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// TagsGetAll lists every tag in use, via the by_tag reduce grouped by
// key.
func (o *Operations) TagsGetAll(ctx context.Context) ([]string, error) {
	rows, err := o.Store.View(ctx, view.ByTag, store.ViewQuery{
		Reduce: true,
		Group:  true,
	})
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(rows))
	for _, row := range rows {
		tag, err := decodeTagKey(row.Key)
		if err != nil {
			return nil, errcode.Wrap(errcode.ViewReduceFailure, err, "by_tag group key %s", string(row.Key))
		}
		tags = append(tags, tag)
	}
	return normalizeTags(tags), nil
}

// TagsGetImagesTags returns the sorted union of the given images' tags.
func (o *Operations) TagsGetImagesTags(ctx context.Context, ids []string) ([]string, error) {
	images, err := o.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var union []string
	for _, img := range images {
		union = append(union, img.Tags...)
	}
	return normalizeTags(union), nil
}

// FindByTags selects images matching a tag filter: AND requires every
// eq tag on the image, OR any; ne rules always exclude images carrying
// the tag. Results are hydrated and sorted newest-first.
func (o *Operations) FindByTags(ctx context.Context, filter v1alpha1.TagFilter, opts v1alpha1.QueryOptions) ([]*v1alpha1.ImageSchema, error) {
	values, excluded, err := splitTagRules(filter.Rules)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errcode.New(errcode.InvalidMethodArgument, "tag filter needs at least one eq rule")
	}
	keys := make([]interface{}, 0, len(values))
	for _, v := range values {
		keys = append(keys, view.Key{v})
	}
	rows, err := o.Store.View(ctx, view.ByTag, store.ViewQuery{
		Keys:        keys,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var matched []*v1alpha1.ImageSchema
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		img, err := store.DecodeImage(row.Doc)
		if err != nil {
			return nil, err
		}
		if matchesTags(img.Tags, values, filter.GroupOp) && !lo.Some(img.Tags, excluded) {
			matched = append(matched, img)
		}
	}

	hydrated := make([]*v1alpha1.ImageSchema, 0, len(matched))
	for _, img := range matched {
		full, err := o.Show(ctx, img.ID, opts)
		if err != nil {
			return nil, err
		}
		hydrated = append(hydrated, full)
	}
	sort.SliceStable(hydrated, func(i, j int) bool {
		return hydrated[i].CreatedAt.After(hydrated[j].CreatedAt)
	})
	return hydrated, nil
}

// splitTagRules partitions the filter into eq and ne tag lists. An
// empty op means eq; any other op is rejected.
func splitTagRules(rules []v1alpha1.TagRule) (include, exclude []string, err error) {
	for _, r := range rules {
		switch r.Op {
		case "", "eq":
			include = append(include, r.Data)
		case "ne":
			exclude = append(exclude, r.Data)
		default:
			return nil, nil, errcode.New(errcode.InvalidMethodArgument, "unsupported tag rule op %q", r.Op)
		}
	}
	return include, exclude, nil
}

func matchesTags(have []string, want []string, op v1alpha1.GroupOp) bool {
	switch op {
	case v1alpha1.GroupOr:
		return lo.Some(have, want)
	default:
		return lo.Every(have, want)
	}
}

// decodeTagKey unwraps the single-element [tag] key the by_tag view
// emits.
func decodeTagKey(raw []byte) (string, error) {
	var key []string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", err
	}
	if len(key) != 1 {
		return "", fmt.Errorf("tag key has %d elements", len(key))
	}
	return key[0], nil
}
