package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

func TestParseVariants(t *testing.T) {
	specs, err := ParseVariants("thumb:jpeg:200x, screen:jpeg:1280x720")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, v1alpha1.VariantSpec{Name: "thumb", Format: "jpeg", Width: 200}, specs[0])
	assert.Equal(t, v1alpha1.VariantSpec{Name: "screen", Format: "jpeg", Width: 1280, Height: 720}, specs[1])

	specs, err = ParseVariants("tall:png:x480")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Zero(t, specs[0].Width)
	assert.Equal(t, 480, specs[0].Height)
}

func TestParseVariantsEmpty(t *testing.T) {
	specs, err := ParseVariants("  ")
	require.NoError(t, err)
	assert.Nil(t, specs)
}

func TestParseVariantsRejectsMalformedEntries(t *testing.T) {
	cases := []string{
		"thumb:jpeg",          // missing dimensions
		"thumb:jpeg:200",      // no x separator
		"thumb:jpeg:x",        // both dimensions empty
		"thumb:jpeg:abcx100",  // non-numeric width
		"thumb:jpeg:200x-50",  // negative height
		"thumb:jpeg:200x:100", // too many parts
	}
	for _, in := range cases {
		_, err := ParseVariants(in)
		assert.Error(t, err, "ParseVariants(%q)", in)
	}
}

func TestTagSelection(t *testing.T) {
	assert.Equal(t, v1alpha1.TagsAny, (&RunOptions{}).TagSelection())
	assert.Equal(t, v1alpha1.TagsTagged, (&RunOptions{Tagged: true}).TagSelection())
	assert.Equal(t, v1alpha1.TagsUntagged, (&RunOptions{Untagged: true}).TagSelection())
	// both flags cancel out
	assert.Equal(t, v1alpha1.TagsAny, (&RunOptions{Tagged: true, Untagged: true}).TagSelection())
}

func TestImportOptionsProjection(t *testing.T) {
	o := &RunOptions{
		RecursionDepth: 1,
		NumJobs:        4,
		ChunkSize:      25,
		NoOriginal:     true,
		Checksums:      true,
		Variants:       "thumb:jpeg:200x",
	}
	opts, err := o.ImportOptions()
	require.NoError(t, err)
	assert.Equal(t, 1, opts.RecursionDepth)
	assert.Equal(t, 4, opts.NumJobs)
	assert.Equal(t, 25, opts.ToProcessBatchSize)
	assert.False(t, opts.SaveOriginal)
	assert.True(t, opts.GenerateChecksums)
	assert.True(t, opts.IgnoreDotfiles)
	require.Len(t, opts.DesiredVariants, 1)
	assert.Equal(t, "thumb", opts.DesiredVariants[0].Name)

	o.Variants = "broken"
	_, err = o.ImportOptions()
	assert.Error(t, err)
}

func TestQueryOptionsProjection(t *testing.T) {
	o := &RunOptions{
		ShowMetadata: true,
		PageSize:     50,
		StartDate:    "20240101",
		EndDate:      "20240131",
		Tagged:       true,
	}
	q := o.QueryOptions()
	assert.True(t, q.ShowMetadata)
	assert.Equal(t, 50, q.PageSize)
	assert.Equal(t, "20240101", q.StartDate)
	assert.Equal(t, "20240131", q.EndDate)
	assert.Equal(t, v1alpha1.TagsTagged, q.TagSelection)
}
