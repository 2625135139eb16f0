package store

import (
	"context"
	"encoding/json"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

// DesignDoc is the design document holding all predefined views.
const DesignDoc string = "catalog"

// Row is a single view result row. Key and Value stay raw so typed
// wrappers in pkg/view can decode the tuple shapes they expect.
type Row struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// ViewQuery selects rows from a predefined view. StartKey/EndKey/Keys
// are marshalled as-is, so callers pass the typed key tuples.
type ViewQuery struct {
	StartKey    interface{}
	EndKey      interface{}
	Keys        []interface{}
	IncludeDocs bool
	Reduce      bool
	Group       bool
	Descending  bool
	Limit       int
	Skip        int
}

// BulkResult reports the per-document outcome of a bulk write.
// Atomicity is per document, never across the batch.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// Store abstracts the document store. It is the only component allowed
// to mutate document revisions; callers treat revisions as opaque.
type Store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, id string) (json.RawMessage, string, error)
	Head(ctx context.Context, id string) (string, error)
	Put(ctx context.Context, doc v1alpha1.Document) (string, error)
	BulkPut(ctx context.Context, docs []v1alpha1.Document) ([]BulkResult, error)
	BulkFetch(ctx context.Context, ids []string) ([]json.RawMessage, []string, error)
	Attach(ctx context.Context, id, name string, data []byte, contentType, rev string) (string, error)
	View(ctx context.Context, name string, q ViewQuery) ([]Row, error)
	Destroy(ctx context.Context, docs []v1alpha1.Document) ([]BulkResult, error)
}

// DecodeDocument decodes a raw document into its typed form,
// discriminated by the class_name field.
func DecodeDocument(raw json.RawMessage) (v1alpha1.Document, error) {
	var peek struct {
		ClassName string `json:"class_name"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, err
	}
	switch peek.ClassName {
	case v1alpha1.ClassImage:
		var img v1alpha1.ImageSchema
		if err := json.Unmarshal(raw, &img); err != nil {
			return nil, err
		}
		return &img, nil
	case v1alpha1.ClassImportBatch:
		var b v1alpha1.BatchSchema
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case v1alpha1.ClassImportError:
		var e v1alpha1.ImportErrorSchema
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		return &e, nil
	}
	var img v1alpha1.ImageSchema
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// DecodeImage decodes a raw document into an image schema.
func DecodeImage(raw json.RawMessage) (*v1alpha1.ImageSchema, error) {
	var img v1alpha1.ImageSchema
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// DecodeBatch decodes a raw document into a batch schema.
func DecodeBatch(raw json.RawMessage) (*v1alpha1.BatchSchema, error) {
	var b v1alpha1.BatchSchema
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
