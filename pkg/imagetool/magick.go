package imagetool

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
)

// identifyFormat asks the tool for format, dimensions and file size in
// one parseable line.
const identifyFormat string = "%m %w %h %B"

// MagickHandler shells out to an ImageMagick-compatible binary
// ("magick", or "gm" with its convert/identify subcommands).
type MagickHandler struct {
	Log clog.PluggableLoggerInterface
	Bin string
}

func NewMagick(log clog.PluggableLoggerInterface, bin string) *MagickHandler {
	if bin == "" {
		bin = "magick"
	}
	return &MagickHandler{Log: log, Bin: bin}
}

func (o *MagickHandler) Probe(ctx context.Context, path string, verbose bool) (ProbeResult, error) {
	args := []string{"identify", "-format", identifyFormat, path}
	out, err := exec.CommandContext(ctx, o.Bin, args...).Output()
	if err != nil {
		return ProbeResult{}, errcode.Wrap(errcode.ProbeFailure, err, "identify %s", path)
	}
	result, err := parseIdentify(string(out))
	if err != nil {
		return ProbeResult{}, err
	}
	if verbose {
		raw, err := exec.CommandContext(ctx, o.Bin, "identify", "-verbose", path).Output()
		if err != nil {
			return ProbeResult{}, errcode.Wrap(errcode.ProbeFailure, err, "identify -verbose %s", path)
		}
		result.Raw = string(raw)
	}
	return result, nil
}

func parseIdentify(out string) (ProbeResult, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 4 {
		return ProbeResult{}, errcode.New(errcode.ProbeFailure, "unparseable identify output %q", out)
	}
	width, werr := strconv.Atoi(fields[1])
	height, herr := strconv.Atoi(fields[2])
	size, serr := strconv.ParseInt(fields[3], 10, 64)
	if werr != nil || herr != nil || serr != nil {
		return ProbeResult{}, errcode.New(errcode.ProbeFailure, "unparseable identify output %q", out)
	}
	return ProbeResult{
		Format:   fields[0],
		Width:    width,
		Height:   height,
		Filesize: HumanSize(size),
	}, nil
}

func (o *MagickHandler) Resize(ctx context.Context, src string, spec ResizeSpec, dest string) (string, error) {
	geometry, err := resizeGeometry(spec)
	if err != nil {
		return "", err
	}
	args := []string{"convert", src, "-resize", geometry, dest}
	if out, err := exec.CommandContext(ctx, o.Bin, args...).CombinedOutput(); err != nil {
		return "", errcode.Wrap(errcode.ProbeFailure, err, "convert %s: %s", src, strings.TrimSpace(string(out)))
	}
	return dest, nil
}

// resizeGeometry maps a spec to the tool's geometry argument:
// "WxH!" forces exact dimensions, "Wx"/"xH" fit the missing one.
func resizeGeometry(spec ResizeSpec) (string, error) {
	switch {
	case spec.Width > 0 && spec.Height > 0:
		return fmt.Sprintf("%dx%d!", spec.Width, spec.Height), nil
	case spec.Width > 0:
		return fmt.Sprintf("%dx", spec.Width), nil
	case spec.Height > 0:
		return fmt.Sprintf("x%d", spec.Height), nil
	}
	return "", errcode.New(errcode.InvalidMethodArgument, "resize: no dimensions")
}

func (o *MagickHandler) OpenStream(path string) ([]byte, error) {
	return readAll(path)
}
