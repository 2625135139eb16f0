package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

func newBatch(id string) *v1alpha1.BatchSchema {
	return &v1alpha1.BatchSchema{
		ID:        id,
		ClassName: v1alpha1.ClassImportBatch,
		Status:    v1alpha1.StatusInit,
		Errors:    make(map[string]string),
	}
}

func TestRegisterAndRemove(t *testing.T) {
	r := New()
	r.Register(newBatch("b1"))

	assert.NotNil(t, r.Get("b1"))
	assert.Nil(t, r.Get("other"))

	r.Remove("b1")
	assert.Nil(t, r.Get("b1"))
	assert.Nil(t, r.Snapshot("b1"))
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	r.Register(newBatch("b1"))

	snap := r.Snapshot("b1")
	require.NotNil(t, snap)
	snap.NumSuccess = 99

	assert.Zero(t, r.Get("b1").NumSuccess)
	// transient fields never leave the registry
	assert.Nil(t, snap.Errors)
}

func TestMutateUpdatesLiveRecord(t *testing.T) {
	r := New()
	r.Register(newBatch("b1"))

	r.Mutate("b1", func(b *v1alpha1.BatchSchema) {
		b.NumSuccess++
		b.NumAttempted += 5
	})
	r.Mutate("missing", func(b *v1alpha1.BatchSchema) {
		t.Fatal("mutate must not run for unknown batches")
	})

	snap := r.Snapshot("b1")
	assert.Equal(t, 1, snap.NumSuccess)
	assert.Equal(t, 5, snap.NumAttempted)
}

func TestSetStatusEnforcesTransitions(t *testing.T) {
	r := New()
	r.Register(newBatch("b1"))

	assert.False(t, r.SetStatus("b1", v1alpha1.StatusCompleted), "INIT cannot complete")
	assert.True(t, r.SetStatus("b1", v1alpha1.StatusStarted))
	assert.True(t, r.SetStatus("b1", v1alpha1.StatusAbortRequested))
	// the abort request is accepted exactly once
	assert.False(t, r.SetStatus("b1", v1alpha1.StatusAbortRequested))
	assert.True(t, r.SetStatus("b1", v1alpha1.StatusAborting))
	assert.True(t, r.SetStatus("b1", v1alpha1.StatusAborted))

	status, ok := r.Status("b1")
	require.True(t, ok)
	assert.Equal(t, v1alpha1.StatusAborted, status)

	assert.False(t, r.SetStatus("missing", v1alpha1.StatusStarted))
	_, ok = r.Status("missing")
	assert.False(t, ok)
}

func TestListSnapshotsEverything(t *testing.T) {
	r := New()
	r.Register(newBatch("b1"))
	r.Register(newBatch("b2"))

	list := r.List()
	assert.Len(t, list, 2)
	ids := map[string]bool{}
	for _, b := range list {
		ids[b.ID] = true
	}
	assert.True(t, ids["b1"] && ids["b2"])
}
