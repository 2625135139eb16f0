package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BatchStatus defines the lifecycle state of an import batch.
// nolint: recvcheck
type BatchStatus int

// StatusInit is default
const (
	StatusInit BatchStatus = iota
	StatusStarted
	StatusAbortRequested
	StatusAborting
	StatusAborted
	StatusError
	StatusCompleted
)

var batchStatusStrings = map[BatchStatus]string{
	StatusInit:           "INIT",
	StatusStarted:        "STARTED",
	StatusAbortRequested: "ABORT_REQUESTED",
	StatusAborting:       "ABORTING",
	StatusAborted:        "ABORTED",
	StatusError:          "ERROR",
	StatusCompleted:      "COMPLETED",
}

var batchStringsStatus = map[string]BatchStatus{
	"INIT":            StatusInit,
	"STARTED":         StatusStarted,
	"ABORT_REQUESTED": StatusAbortRequested,
	"ABORTING":        StatusAborting,
	"ABORTED":         StatusAborted,
	"ERROR":           StatusError,
	"COMPLETED":       StatusCompleted,
}

// String returns the string representation
// of a BatchStatus
func (bs BatchStatus) String() string {
	return batchStatusStrings[bs]
}

// MarshalJSON marshals the BatchStatus as a quoted json string
func (bs BatchStatus) MarshalJSON() ([]byte, error) {
	if err := bs.validate(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	// nolint: wrapcheck
	return json.Marshal(bs.String())
}

// UnmarshalJSON unmarshals a quoted json string to the BatchStatus
// nolint: recvcheck
func (bs *BatchStatus) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("%w", err)
	}

	*bs = batchStringsStatus[j]
	return nil
}

func (bs BatchStatus) validate() error {
	if _, ok := batchStatusStrings[bs]; !ok {
		return errors.New("unknown batch status")
	}
	return nil
}

// IsTerminal reports whether the status ends the batch lifecycle.
// Only terminal batches leave the in-flight registry.
func (bs BatchStatus) IsTerminal() bool {
	return bs == StatusCompleted || bs == StatusError || bs == StatusAborted
}

var batchTransitions = map[BatchStatus][]BatchStatus{
	StatusInit:           {StatusStarted, StatusError},
	StatusStarted:        {StatusCompleted, StatusError, StatusAbortRequested},
	StatusAbortRequested: {StatusAborting, StatusError},
	StatusAborting:       {StatusAborted, StatusError},
}

// CanTransition reports whether the state machine allows moving from
// the current status to the given one.
func (bs BatchStatus) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[bs] {
		if next == to {
			return true
		}
	}
	return false
}

// BatchSchema is the persisted import batch record. The transient
// fields track in-flight state and are never written to the store.
type BatchSchema struct {
	ID           string      `json:"_id,omitempty"`
	Rev          string      `json:"_rev,omitempty"`
	ClassName    string      `json:"class_name"`
	Path         string      `json:"path"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	CompletedAt  time.Time   `json:"completed_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
	InTrash      bool        `json:"in_trash"`
	NumToImport  int         `json:"num_to_import"`
	NumAttempted int         `json:"num_attempted"`
	NumSuccess   int         `json:"num_success"`
	NumError     int         `json:"num_error"`
	Deleted      bool        `json:"_deleted,omitempty"`

	// transient, in-flight only
	ImagesToImport []FileEntry       `json:"-"`
	Errors         map[string]string `json:"-"`
}

func (o *BatchSchema) DocID() string        { return o.ID }
func (o *BatchSchema) DocRev() string       { return o.Rev }
func (o *BatchSchema) SetDocID(id string)   { o.ID = id }
func (o *BatchSchema) SetDocRev(rev string) { o.Rev = rev }
func (o *BatchSchema) Class() string        { return ClassImportBatch }

// Snapshot returns a copy of the persisted fields, safe to hand to
// event subscribers while the engine keeps mutating the live batch.
func (o *BatchSchema) Snapshot() *BatchSchema {
	cp := *o
	cp.ImagesToImport = nil
	cp.Errors = nil
	return &cp
}
