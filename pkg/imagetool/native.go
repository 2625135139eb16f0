package imagetool

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// register decoders for probing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/disintegration/imaging"
	"github.com/natefinch/atomic"

	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
)

const nativePrefix string = "[ImageTool] "

// NativeHandler probes and resizes in-process. It avoids the external
// tool dependency at the cost of a smaller format set.
type NativeHandler struct {
	Log clog.PluggableLoggerInterface
}

func NewNative(log clog.PluggableLoggerInterface) *NativeHandler {
	return &NativeHandler{Log: log}
}

func (o *NativeHandler) Probe(ctx context.Context, path string, verbose bool) (ProbeResult, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return ProbeResult{}, errcode.Wrap(errcode.ProbeFailure, err, "probe %s", path)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return ProbeResult{}, errcode.Wrap(errcode.ProbeFailure, err, "probe %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		return ProbeResult{}, errcode.Wrap(errcode.ProbeFailure, err, "probe %s", path)
	}
	result := ProbeResult{
		Format:   strings.ToUpper(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
		Filesize: HumanSize(info.Size()),
	}
	if verbose {
		result.Raw = fmt.Sprintf("format=%s geometry=%dx%d filesize=%d", result.Format, cfg.Width, cfg.Height, info.Size())
	}
	return result, nil
}

func (o *NativeHandler) Resize(ctx context.Context, src string, spec ResizeSpec, dest string) (string, error) {
	if spec.Width == 0 && spec.Height == 0 {
		return "", errcode.New(errcode.InvalidMethodArgument, "resize %s: no dimensions", src)
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", errcode.Wrap(errcode.ProbeFailure, err, "resize open %s", src)
	}
	// a zero dimension preserves aspect ratio; both set resizes exactly
	resized := imaging.Resize(img, spec.Width, spec.Height, imaging.Lanczos)

	format, err := imaging.FormatFromFilename(dest)
	if err != nil {
		return "", errcode.Wrap(errcode.ProbeFailure, err, "resize %s", dest)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return "", errcode.Wrap(errcode.ProbeFailure, err, "encode %s", dest)
	}
	if err := atomic.WriteFile(dest, &buf); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}

func (o *NativeHandler) OpenStream(path string) ([]byte, error) {
	return readAll(path)
}
