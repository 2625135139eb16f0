package mimetype

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func encodeImage(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, img))
	return buf.Bytes()
}

func TestClassifyJPEG(t *testing.T) {
	data := encodeImage(t, func(buf *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(buf, img, nil)
	})
	tag, err := Classify(writeFile(t, "photo.jpg", data))
	require.NoError(t, err)
	assert.Equal(t, Tag{Top: "image", Sub: "jpeg"}, tag)
}

func TestClassifyPNG(t *testing.T) {
	data := encodeImage(t, func(buf *bytes.Buffer, img image.Image) error {
		return png.Encode(buf, img)
	})
	tag, err := Classify(writeFile(t, "shot.png", data))
	require.NoError(t, err)
	assert.Equal(t, Tag{Top: "image", Sub: "png"}, tag)
}

func TestClassifyIgnoresExtension(t *testing.T) {
	data := encodeImage(t, func(buf *bytes.Buffer, img image.Image) error {
		return png.Encode(buf, img)
	})
	// content wins over the misleading name
	tag, err := Classify(writeFile(t, "actually-a-png.jpg", data))
	require.NoError(t, err)
	assert.Equal(t, "png", tag.Sub)
}

func TestClassifyUnknownContent(t *testing.T) {
	tag, err := Classify(writeFile(t, "notes.txt", []byte("not an image at all")))
	require.NoError(t, err)
	assert.Equal(t, Tag{Top: "application", Sub: "octet-stream"}, tag)
}

func TestClassifyShortFile(t *testing.T) {
	tag, err := Classify(writeFile(t, "tiny.bin", []byte{0x00, 0x01}))
	require.NoError(t, err)
	assert.Equal(t, "application", tag.Top)
}

func TestClassifyMissingFile(t *testing.T) {
	_, err := Classify(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestAllowSet(t *testing.T) {
	allow := NewImageAllowSet([]string{"JPEG", "png"})
	assert.True(t, allow.Has(Tag{Top: "image", Sub: "jpeg"}))
	assert.True(t, allow.Has(Tag{Top: "image", Sub: "png"}))
	assert.False(t, allow.Has(Tag{Top: "image", Sub: "tiff"}))
	assert.False(t, allow.Has(Tag{Top: "application", Sub: "octet-stream"}))
}
