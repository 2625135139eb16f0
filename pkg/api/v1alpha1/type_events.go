package v1alpha1

// EventType identifies an import batch progress event.
type EventType int

const (
	EventStarted EventType = iota
	EventImgVariantCreated
	EventImgSaved
	EventImgError
	EventCompleted
)

var eventTypeStrings = map[EventType]string{
	EventStarted:           "STARTED",
	EventImgVariantCreated: "IMG_VARIANT_CREATED",
	EventImgSaved:          "IMG_SAVED",
	EventImgError:          "IMG_ERROR",
	EventCompleted:         "COMPLETED",
}

func (et EventType) String() string {
	return eventTypeStrings[et]
}

// Event is a single entry on a batch's ordered progress stream.
// Batch carries a snapshot for STARTED and COMPLETED; Image carries the
// image (first variant hydrated for IMG_VARIANT_CREATED, all variants
// for IMG_SAVED); Path and Error describe an IMG_ERROR.
type Event struct {
	Type  EventType
	Batch *BatchSchema
	Image *ImageSchema
	Path  string
	Error string
}
