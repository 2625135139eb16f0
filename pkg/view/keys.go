package view

import (
	"time"
)

// Predefined view names. The document store must be provisioned with
// these on the catalog design document before use.
const (
	ByOidWithVariant           string = "by_oid_with_variant"
	ByOidWithoutVariant        string = "by_oid_without_variant"
	ByCreationTime             string = "by_creation_time"
	ByCreationTimeTagged       string = "by_creation_time_tagged"
	ByCreationTimeUntagged     string = "by_creation_time_untagged"
	ByCreationTimeName         string = "by_creation_time_name"
	ByCreationTimeNameTagged   string = "by_creation_time_name_tagged"
	ByCreationTimeNameUntagged string = "by_creation_time_name_untagged"
	BatchByCtime               string = "batch_by_ctime"
	BatchByOidWithImage        string = "batch_by_oid_w_image"
	BatchByOidWithImageByCtime string = "batch_by_oid_w_image_by_ctime"
	ByTag                      string = "by_tag"
	ByTrash                    string = "by_trash"
)

// Row type discriminators used by the batch views: the batch row sorts
// before its originals, which sort before their variants.
const (
	RowTypeImport   int = 0
	RowTypeOriginal int = 1
	RowTypeVariant  int = 2
)

// Key is a structured view key. Building keys through the typed
// constructors below keeps the tuple shapes consistent; mis-typed keys
// are the main defect class in ad-hoc view code.
type Key []interface{}

// HighSentinel collates after every number, string and array in the
// store's key ordering, making it the upper bound for range scans.
var HighSentinel = map[string]interface{}{}

// Append returns a new key with extra elements added.
func (k Key) Append(elems ...interface{}) Key {
	out := make(Key, 0, len(k)+len(elems))
	out = append(out, k...)
	out = append(out, elems...)
	return out
}

// DateKey encodes a timestamp as the 7-element array
// [year, month, day, hour, minute, second, millisecond].
func DateKey(t time.Time) Key {
	return Key{
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		t.Nanosecond() / int(time.Millisecond),
	}
}

// ParseDay parses a YYYYMMDD date string to midnight local time.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, time.Local)
}

// DayLowKey is the inclusive lower bound of a calendar day.
func DayLowKey(day time.Time) Key {
	return DateKey(day)
}

// DayHighKey is the upper bound of a calendar day: midnight of the next
// day with the sentinel appended so longer keys still fall inside.
func DayHighKey(day time.Time) Key {
	return DateKey(day.AddDate(0, 0, 1)).Append(HighSentinel)
}

// OidVariantStartKey bounds by_oid_with_variant at an original's first
// row: [id, 0, 0].
func OidVariantStartKey(id string) Key {
	return Key{id, 0, 0}
}

// OidVariantEndKey bounds by_oid_with_variant past the original's
// widest variant: [id, 1, sentinel].
func OidVariantEndKey(id string) Key {
	return Key{id, 1, HighSentinel}
}

// OriginalRowKey is the by_oid_with_variant key emitted for an original.
func OriginalRowKey(id string, width int) Key {
	return Key{id, 0, width}
}

// VariantRowKey is the by_oid_with_variant key emitted for a variant.
func VariantRowKey(originalID string, width int) Key {
	return Key{originalID, 1, width}
}

// BatchImageKey addresses one row of batch_by_oid_w_image:
// [batch_id, original_id, row_type, name].
func BatchImageKey(batchID, originalID string, rowType int, name string) Key {
	return Key{batchID, originalID, rowType, name}
}

// BatchStartKey bounds batch_by_oid_w_image at the batch record row.
func BatchStartKey(batchID string) Key {
	return Key{batchID}
}

// BatchEndKey bounds batch_by_oid_w_image past the batch's last image.
func BatchEndKey(batchID string) Key {
	return Key{batchID, HighSentinel}
}
