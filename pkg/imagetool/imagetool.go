package imagetool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ProbeResult is the metadata returned by a probe.
type ProbeResult struct {
	Format   string
	Width    int
	Height   int
	Filesize string
	Raw      string
}

// Geometry renders the probed dimensions as "WxH".
func (p ProbeResult) Geometry() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// ResizeSpec gives the target dimensions. A zero dimension requests an
// aspect-preserving fit on the other; both set means exact resize and
// may distort.
type ResizeSpec struct {
	Width  int
	Height int
}

// Handler is the capability set of an image tool:
// probe metadata, resize to a file, and stream bytes.
type Handler interface {
	Probe(ctx context.Context, path string, verbose bool) (ProbeResult, error)
	Resize(ctx context.Context, src string, spec ResizeSpec, dest string) (string, error)
	OpenStream(path string) ([]byte, error)
}

// readAll buffers the file in memory so the caller can consume the
// bytes more than once (checksum, then upload).
func readAll(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	return data, nil
}

// HumanSize renders a byte count the way the image tool reports file
// sizes, e.g. "486.3K".
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	val := float64(n) / float64(div)
	return fmt.Sprintf("%.1f%c", val, "KMGTP"[exp])
}
