// Package storetest provides an in-memory Store with view emulation,
// used by catalog and engine tests in place of a running document
// store. Rows are collated the way the store collates structured keys:
// null < bool < number < string < array < object, arrays element-wise.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/store"
	"github.com/picdex/picdex/pkg/view"
)

// Attachment is a stored binary payload.
type Attachment struct {
	ContentType string
	Data        []byte
}

// FakeStore implements store.Store in memory.
type FakeStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
	revs map[string]int
	atts map[string]map[string]Attachment

	// Injectable failures, applied once set.
	FailPut     error
	FailBulkPut error
	FailAttach  error
	FailView    error
}

// New returns an empty fake store.
func New() *FakeStore {
	return &FakeStore{
		docs: make(map[string]json.RawMessage),
		revs: make(map[string]int),
		atts: make(map[string]map[string]Attachment),
	}
}

func (f *FakeStore) Ping(ctx context.Context) error { return nil }

func (f *FakeStore) Get(ctx context.Context, id string) (json.RawMessage, string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	raw, ok := f.docs[id]
	if !ok {
		return nil, "", errcode.New(errcode.NotFound, "document %s", id)
	}
	return raw, f.revString(id), nil
}

func (f *FakeStore) Head(ctx context.Context, id string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.docs[id]; !ok {
		return "", errcode.New(errcode.NotFound, "document %s", id)
	}
	return f.revString(id), nil
}

func (f *FakeStore) revString(id string) string {
	return fmt.Sprintf("%d-fake", f.revs[id])
}

func (f *FakeStore) putLocked(doc v1alpha1.Document) (string, error) {
	id := doc.DocID()
	if id == "" {
		return "", errcode.New(errcode.InvalidMethodArgument, "document id is required")
	}
	if _, exists := f.docs[id]; exists {
		if doc.DocRev() != f.revString(id) {
			return "", errcode.New(errcode.Conflict, "document %s", id)
		}
	} else if doc.DocRev() != "" {
		return "", errcode.New(errcode.Conflict, "document %s", id)
	}
	if deleted(doc) {
		delete(f.docs, id)
		delete(f.atts, id)
		f.revs[id]++
		return f.revString(id), nil
	}
	f.revs[id]++
	rev := f.revString(id)
	doc.SetDocRev(rev)
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	f.docs[id] = raw
	return rev, nil
}

func deleted(doc v1alpha1.Document) bool {
	switch t := doc.(type) {
	case *v1alpha1.ImageSchema:
		return t.Deleted
	case *v1alpha1.BatchSchema:
		return t.Deleted
	case *v1alpha1.ImportErrorSchema:
		return t.Deleted
	}
	return false
}

func (f *FakeStore) Put(ctx context.Context, doc v1alpha1.Document) (string, error) {
	if f.FailPut != nil {
		return "", f.FailPut
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(doc)
}

func (f *FakeStore) BulkPut(ctx context.Context, docs []v1alpha1.Document) ([]store.BulkResult, error) {
	if f.FailBulkPut != nil {
		return nil, f.FailBulkPut
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]store.BulkResult, 0, len(docs))
	for _, d := range docs {
		rev, err := f.putLocked(d)
		results = append(results, store.BulkResult{ID: d.DocID(), Rev: rev, Err: err})
	}
	return results, nil
}

func (f *FakeStore) BulkFetch(ctx context.Context, ids []string) ([]json.RawMessage, []string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var docs []json.RawMessage
	var missing []string
	for _, id := range ids {
		raw, ok := f.docs[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		docs = append(docs, raw)
	}
	return docs, missing, nil
}

func (f *FakeStore) Attach(ctx context.Context, id, name string, data []byte, contentType, rev string) (string, error) {
	if f.FailAttach != nil {
		return "", f.FailAttach
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return "", errcode.New(errcode.NotFound, "document %s", id)
	}
	if rev != f.revString(id) {
		return "", errcode.New(errcode.Conflict, "attachment %s/%s", id, name)
	}
	if f.atts[id] == nil {
		f.atts[id] = make(map[string]Attachment)
	}
	f.atts[id][name] = Attachment{ContentType: contentType, Data: append([]byte(nil), data...)}
	f.revs[id]++
	// keep the stored body's _rev in step with the attachment write
	var body map[string]interface{}
	if err := json.Unmarshal(f.docs[id], &body); err == nil {
		body["_rev"] = f.revString(id)
		if raw, err := json.Marshal(body); err == nil {
			f.docs[id] = raw
		}
	}
	return f.revString(id), nil
}

// GetAttachment exposes stored attachments to assertions.
func (f *FakeStore) GetAttachment(id, name string) (Attachment, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	att, ok := f.atts[id][name]
	return att, ok
}

// NumDocs reports how many documents are stored.
func (f *FakeStore) NumDocs() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.docs)
}

// HasDoc reports whether a document exists.
func (f *FakeStore) HasDoc(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.docs[id]
	return ok
}

func (f *FakeStore) Destroy(ctx context.Context, docs []v1alpha1.Document) ([]store.BulkResult, error) {
	for _, d := range docs {
		switch t := d.(type) {
		case *v1alpha1.ImageSchema:
			t.Deleted = true
		case *v1alpha1.BatchSchema:
			t.Deleted = true
		case *v1alpha1.ImportErrorSchema:
			t.Deleted = true
		}
	}
	return f.BulkPut(ctx, docs)
}

type emitted struct {
	key   interface{}
	id    string
	value interface{}
	doc   json.RawMessage
}

func (f *FakeStore) View(ctx context.Context, name string, q store.ViewQuery) ([]store.Row, error) {
	if f.FailView != nil {
		return nil, f.FailView
	}
	f.mu.RLock()
	rows := f.emit(name)
	f.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		c := collate(rows[i].key, rows[j].key)
		if c != 0 {
			return c < 0
		}
		return rows[i].id < rows[j].id
	})

	if q.Reduce {
		return reduceRows(name, rows, q)
	}

	if len(q.Keys) > 0 {
		var out []store.Row
		for _, want := range q.Keys {
			for _, r := range rows {
				if collate(normalize(want), r.key) == 0 {
					out = append(out, f.toRow(r, q.IncludeDocs))
				}
			}
		}
		return out, nil
	}

	if q.Descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	var out []store.Row
	skipped := 0
	for _, r := range rows {
		if q.StartKey != nil {
			c := collate(r.key, normalize(q.StartKey))
			if (!q.Descending && c < 0) || (q.Descending && c > 0) {
				continue
			}
		}
		if q.EndKey != nil {
			c := collate(r.key, normalize(q.EndKey))
			if (!q.Descending && c > 0) || (q.Descending && c < 0) {
				continue
			}
		}
		if skipped < q.Skip {
			skipped++
			continue
		}
		out = append(out, f.toRow(r, q.IncludeDocs))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *FakeStore) toRow(e emitted, includeDoc bool) store.Row {
	key, _ := json.Marshal(e.key)
	val, _ := json.Marshal(e.value)
	row := store.Row{ID: e.id, Key: key, Value: val}
	if includeDoc {
		row.Doc = f.docs[e.id]
	}
	return row
}

// emit runs the map function of the named view over every document.
func (f *FakeStore) emit(name string) []emitted {
	var rows []emitted
	add := func(key view.Key, id string, value interface{}) {
		rows = append(rows, emitted{key: normalize(key), id: id, value: value})
	}
	for id, raw := range f.docs {
		doc, err := store.DecodeDocument(raw)
		if err != nil {
			continue
		}
		switch d := doc.(type) {
		case *v1alpha1.ImageSchema:
			emitImage(name, d, id, add)
		case *v1alpha1.BatchSchema:
			emitBatch(name, d, id, add)
		}
	}
	return rows
}

func emitImage(name string, d *v1alpha1.ImageSchema, id string, add func(view.Key, string, interface{})) {
	dateKey := view.DateKey(d.CreatedAt)
	switch name {
	case view.ByOidWithVariant:
		if d.IsVariant() {
			add(view.VariantRowKey(d.OriginalID, d.Size.Width), id, nil)
		} else {
			add(view.OriginalRowKey(d.ID, d.Size.Width), id, nil)
		}
	case view.ByOidWithoutVariant:
		if !d.IsVariant() {
			add(view.Key{d.ID}, id, nil)
		}
	case view.ByCreationTime:
		if !d.InTrash {
			add(dateKey.Append(d.ID), id, nil)
		}
	case view.ByCreationTimeTagged:
		if !d.InTrash && imageTagged(d) {
			add(dateKey.Append(d.ID), id, nil)
		}
	case view.ByCreationTimeUntagged:
		if !d.InTrash && !imageTagged(d) {
			add(dateKey.Append(d.ID), id, nil)
		}
	case view.ByCreationTimeName:
		if !d.InTrash && !d.IsVariant() {
			add(dateKey.Append(d.Name, d.ID), id, 1)
		}
	case view.ByCreationTimeNameTagged:
		if !d.InTrash && !d.IsVariant() && imageTagged(d) {
			add(dateKey.Append(d.Name, d.ID), id, 1)
		}
	case view.ByCreationTimeNameUntagged:
		if !d.InTrash && !d.IsVariant() && !imageTagged(d) {
			add(dateKey.Append(d.Name, d.ID), id, 1)
		}
	case view.BatchByOidWithImage:
		if d.BatchID == "" {
			return
		}
		if d.IsVariant() {
			add(view.BatchImageKey(d.BatchID, d.OriginalID, view.RowTypeVariant, d.Name), id, nil)
		} else {
			add(view.BatchImageKey(d.BatchID, d.ID, view.RowTypeOriginal, d.Name), id, nil)
		}
	case view.BatchByOidWithImageByCtime:
		if d.BatchID == "" {
			return
		}
		rowType := view.RowTypeOriginal
		origID := d.ID
		if d.IsVariant() {
			rowType = view.RowTypeVariant
			origID = d.OriginalID
		}
		key := view.Key{d.BatchID, rowType, d.InTrash}.Append(dateKey...).Append(d.Name, origID)
		add(key, id, nil)
	case view.ByTag:
		if !d.InTrash {
			for _, tag := range d.Tags {
				add(view.Key{tag}, id, 1)
			}
		}
	case view.ByTrash:
		if d.InTrash {
			add(view.Key{d.ID}, id, nil)
		}
	}
}

func emitBatch(name string, d *v1alpha1.BatchSchema, id string, add func(view.Key, string, interface{})) {
	switch name {
	case view.BatchByCtime:
		if !d.InTrash {
			add(view.DateKey(d.CreatedAt).Append(d.ID, 0), id, nil)
		}
	case view.BatchByOidWithImage:
		add(view.BatchImageKey(d.ID, "", view.RowTypeImport, ""), id, nil)
	case view.BatchByOidWithImageByCtime:
		key := view.Key{d.ID, view.RowTypeImport, false}.Append(view.DateKey(d.CreatedAt)...).Append("", "")
		add(key, id, nil)
	}
}

func imageTagged(d *v1alpha1.ImageSchema) bool {
	return len(d.Tags) > 0
}

// reduceRows emulates the predefined reduce functions: count for the
// by_creation_time_name family and by_tag, image/trash tallies for
// batch_by_oid_w_image_by_ctime.
func reduceRows(name string, rows []emitted, q store.ViewQuery) ([]store.Row, error) {
	inRange := func(r emitted) bool {
		if q.StartKey != nil && collate(r.key, normalize(q.StartKey)) < 0 {
			return false
		}
		if q.EndKey != nil && collate(r.key, normalize(q.EndKey)) > 0 {
			return false
		}
		return true
	}
	switch name {
	case view.ByCreationTimeName, view.ByCreationTimeNameTagged, view.ByCreationTimeNameUntagged:
		count := 0
		for _, r := range rows {
			if inRange(r) {
				count++
			}
		}
		val, _ := json.Marshal(count)
		return []store.Row{{Value: val}}, nil
	case view.ByTag:
		if q.Group {
			type kv struct {
				key   interface{}
				count int
			}
			var groups []kv
			for _, r := range rows {
				if !inRange(r) {
					continue
				}
				if len(groups) > 0 && collate(groups[len(groups)-1].key, r.key) == 0 {
					groups[len(groups)-1].count++
					continue
				}
				groups = append(groups, kv{key: r.key, count: 1})
			}
			var out []store.Row
			for _, g := range groups {
				key, _ := json.Marshal(g.key)
				val, _ := json.Marshal(g.count)
				out = append(out, store.Row{Key: key, Value: val})
			}
			return out, nil
		}
		count := 0
		for _, r := range rows {
			if inRange(r) {
				count++
			}
		}
		val, _ := json.Marshal(count)
		return []store.Row{{Value: val}}, nil
	case view.BatchByOidWithImageByCtime:
		numImages := 0
		numInTrash := 0
		for _, r := range rows {
			if !inRange(r) {
				continue
			}
			key, ok := r.key.([]interface{})
			if !ok || len(key) < 3 {
				continue
			}
			rowType, _ := key[1].(float64)
			if int(rowType) != view.RowTypeOriginal {
				continue
			}
			numImages++
			if trash, _ := key[2].(bool); trash {
				numInTrash++
			}
		}
		val, _ := json.Marshal(map[string]int{"num_images": numImages, "num_images_intrash": numInTrash})
		return []store.Row{{Value: val}}, nil
	}
	return nil, errcode.New(errcode.ViewReduceFailure, "view %s has no reduce", name)
}

// normalize round-trips a value through JSON so collation sees the same
// shapes the wire protocol produces.
func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []interface{}:
		return 4
	case map[string]interface{}:
		return 5
	}
	return 6
}

// collate orders two normalized JSON values the way the store orders
// view keys.
func collate(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case []interface{}:
		bv := b.([]interface{})
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := collate(av[i], bv[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(av) < len(bv):
			return -1
		case len(av) > len(bv):
			return 1
		}
		return 0
	case map[string]interface{}:
		// objects collate equal to each other for our purposes; they
		// only appear as the high sentinel
		return 0
	}
	return 0
}
