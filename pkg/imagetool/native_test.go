package imagetool

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
)

func writeTestJPEG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	path := filepath.Join(dir, "test.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestNativeProbe(t *testing.T) {
	src := writeTestJPEG(t, t.TempDir(), 64, 48)
	tool := NewNative(clog.NewDiscard())

	result, err := tool.Probe(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, "JPEG", result.Format)
	assert.Equal(t, 64, result.Width)
	assert.Equal(t, 48, result.Height)
	assert.Equal(t, "64x48", result.Geometry())
	assert.NotEmpty(t, result.Filesize)
	assert.Empty(t, result.Raw)
}

func TestNativeProbeVerbose(t *testing.T) {
	src := writeTestJPEG(t, t.TempDir(), 10, 10)
	tool := NewNative(clog.NewDiscard())

	result, err := tool.Probe(context.Background(), src, true)
	require.NoError(t, err)
	assert.Contains(t, result.Raw, "format=JPEG")
	assert.Contains(t, result.Raw, "geometry=10x10")
}

func TestNativeProbeRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a jpeg"), 0o600))

	tool := NewNative(clog.NewDiscard())
	_, err := tool.Probe(context.Background(), path, false)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ProbeFailure))
}

func TestNativeResizeExact(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, 64, 48)
	dest := filepath.Join(dir, "out.jpeg")

	tool := NewNative(clog.NewDiscard())
	got, err := tool.Resize(context.Background(), src, ResizeSpec{Width: 20, Height: 30}, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	result, err := tool.Probe(context.Background(), dest, false)
	require.NoError(t, err)
	assert.Equal(t, 20, result.Width)
	assert.Equal(t, 30, result.Height)
}

func TestNativeResizePreservesAspect(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, 64, 32)
	dest := filepath.Join(dir, "thumb.jpeg")

	tool := NewNative(clog.NewDiscard())
	_, err := tool.Resize(context.Background(), src, ResizeSpec{Width: 16}, dest)
	require.NoError(t, err)

	result, err := tool.Probe(context.Background(), dest, false)
	require.NoError(t, err)
	assert.Equal(t, 16, result.Width)
	assert.Equal(t, 8, result.Height)
}

func TestNativeResizeNeedsDimensions(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, 8, 8)
	tool := NewNative(clog.NewDiscard())
	_, err := tool.Resize(context.Background(), src, ResizeSpec{}, filepath.Join(dir, "out.jpeg"))
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.InvalidMethodArgument))
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{500, "500B"},
		{1024, "1.0K"},
		{1536, "1.5K"},
		{498_073, "486.4K"},
		{5 * 1024 * 1024, "5.0M"},
		{3 * 1024 * 1024 * 1024, "3.0G"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HumanSize(tc.in), "HumanSize(%d)", tc.in)
	}
}

func TestParseIdentify(t *testing.T) {
	result, err := parseIdentify("JPEG 1024 768 498073\n")
	require.NoError(t, err)
	assert.Equal(t, "JPEG", result.Format)
	assert.Equal(t, 1024, result.Width)
	assert.Equal(t, 768, result.Height)
	assert.Equal(t, "486.4K", result.Filesize)

	_, err = parseIdentify("")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ProbeFailure))

	_, err = parseIdentify("JPEG x y z")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ProbeFailure))
}

func TestResizeGeometry(t *testing.T) {
	g, err := resizeGeometry(ResizeSpec{Width: 200, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, "200x100!", g)

	g, err = resizeGeometry(ResizeSpec{Width: 200})
	require.NoError(t, err)
	assert.Equal(t, "200x", g)

	g, err = resizeGeometry(ResizeSpec{Height: 100})
	require.NoError(t, err)
	assert.Equal(t, "x100", g)

	_, err = resizeGeometry(ResizeSpec{})
	assert.Error(t, err)
}
