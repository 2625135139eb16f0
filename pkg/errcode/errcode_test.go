package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(NotFound, "image %s", "abc")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND: image abc", err.Error())
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(DBConnectionError, cause, "store unreachable")
	assert.True(t, Is(err, DBConnectionError))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "DB_CONNECTION_ERROR")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := New(Conflict, "document d1")
	outer := fmt.Errorf("saving: %w", inner)
	assert.True(t, Is(outer, Conflict))
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed", New(NoFilesFound, "empty dir"), NoFilesFound},
		{"wrapped", fmt.Errorf("outer: %w", New(ProbeFailure, "bad file")), ProbeFailure},
		{"plain", errors.New("boom"), UnknownError},
		{"nil chain", Wrap(ViewReduceFailure, errors.New("bad shape"), "reduce"), ViewReduceFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}
