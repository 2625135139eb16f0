package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ImageKind defines the content type of an image document.
// nolint: recvcheck
type ImageKind int

// KindOriginal is default
const (
	KindOriginal ImageKind = iota
	KindVariant
)

var imageKindStrings = map[ImageKind]string{
	KindOriginal: "original",
	KindVariant:  "variant",
}

var imageStringsKind = map[string]ImageKind{
	"original": KindOriginal,
	"variant":  KindVariant,
}

// String returns the string representation
// of an ImageKind
func (ik ImageKind) String() string {
	return imageKindStrings[ik]
}

// MarshalJSON marshals the ImageKind as a quoted json string
func (ik ImageKind) MarshalJSON() ([]byte, error) {
	if err := ik.validate(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	// nolint: wrapcheck
	return json.Marshal(ik.String())
}

// UnmarshalJSON unmarshals a quoted json string to the ImageKind
// nolint: recvcheck
func (ik *ImageKind) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("%w", err)
	}

	*ik = imageStringsKind[j]
	return nil
}

func (ik ImageKind) validate() error {
	if _, ok := imageKindStrings[ik]; !ok {
		return errors.New("unknown image kind")
	}
	return nil
}

// Size holds pixel dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FileEntry is a single admissible file discovered by the directory
// scanner, carrying the sniffed format subtype (e.g. "jpeg").
type FileEntry struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

// ImageSchema is the persisted image document, covering both originals
// and variants. A non-empty OriginalID marks a variant; its timestamps
// and batch id always equal its original's.
type ImageSchema struct {
	ID          string    `json:"_id,omitempty"`
	Rev         string    `json:"_rev,omitempty"`
	ClassName   string    `json:"class_name"`
	Kind        ImageKind `json:"kind"`
	OriginalID  string    `json:"original_id"`
	BatchID     string    `json:"batch_id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Format      string    `json:"format"`
	Geometry    string    `json:"geometry"`
	Size        Size      `json:"size"`
	Filesize    string    `json:"filesize"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags"`
	InTrash     bool      `json:"in_trash"`
	MetadataRaw string    `json:"metadata_raw,omitempty"`
	Deleted     bool      `json:"_deleted,omitempty"`

	// Variants is hydrated by catalog reads, ascending width. Never persisted.
	Variants []*ImageSchema `json:"-"`
}

func (o *ImageSchema) DocID() string        { return o.ID }
func (o *ImageSchema) DocRev() string       { return o.Rev }
func (o *ImageSchema) SetDocID(id string)   { o.ID = id }
func (o *ImageSchema) SetDocRev(rev string) { o.Rev = rev }
func (o *ImageSchema) Class() string        { return ClassImage }

// IsVariant reports whether the image is a derived rendition.
func (o *ImageSchema) IsVariant() bool {
	return o.OriginalID != ""
}

// AttachmentName is the name under which the image bytes are stored:
// the filename for originals, the rendition name for variants.
func (o *ImageSchema) AttachmentName() string {
	return o.Name
}

// ContentType derives the attachment content type from the probed format.
func (o *ImageSchema) ContentType() string {
	return "image/" + normalizeFormat(o.Format)
}

func normalizeFormat(format string) string {
	switch format {
	case "JPEG", "jpg", "JPG":
		return "jpeg"
	case "PNG":
		return "png"
	case "TIFF", "tif", "TIF":
		return "tiff"
	case "GIF":
		return "gif"
	}
	return format
}

// ImportErrorSchema is the optional per-image error record persisted
// with a back-reference to the batch that produced it.
type ImportErrorSchema struct {
	ID        string    `json:"_id,omitempty"`
	Rev       string    `json:"_rev,omitempty"`
	ClassName string    `json:"class_name"`
	BatchID   string    `json:"batch_id"`
	Path      string    `json:"path"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"_deleted,omitempty"`
}

func (o *ImportErrorSchema) DocID() string        { return o.ID }
func (o *ImportErrorSchema) DocRev() string       { return o.Rev }
func (o *ImportErrorSchema) SetDocID(id string)   { o.ID = id }
func (o *ImportErrorSchema) SetDocRev(rev string) { o.Rev = rev }
func (o *ImportErrorSchema) Class() string        { return ClassImportError }
