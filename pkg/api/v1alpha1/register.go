package v1alpha1

const (
	version = "v1alpha1"
	group   = "catalog.picdex.io"
)

// GroupVersion contains the "group" and the "version", which uniquely identifies the API.
type GroupVersion struct {
	Group   string
	Version string
}

var (
	groupVersion = GroupVersion{Group: group, Version: version}
)

// Document class discriminators, persisted in the class_name field of
// every stored document.
const (
	ClassImage       string = "image"
	ClassImportBatch string = "import_batch"
	ClassImportError string = "import_error"
)

// Document is the storage-boundary contract shared by all persisted
// entity kinds. The store adapter is the only component allowed to set
// revisions.
type Document interface {
	DocID() string
	DocRev() string
	SetDocID(id string)
	SetDocRev(rev string)
	Class() string
}
