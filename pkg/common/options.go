package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

// RunOptions is the flag surface shared by every CLI flow controller.
type RunOptions struct {
	ConfigPath string
	LogLevel   string
	WorkingDir string
	Terminal   bool

	// import flow
	RecursionDepth int
	NumJobs        int
	ChunkSize      int
	NoOriginal     bool
	Checksums      bool
	Variants       string
	UseMagick      bool
	MagickBin      string

	// query flows
	ShowMetadata bool
	PageSize     int
	StartDate    string
	EndDate      string
	Tagged       bool
	Untagged     bool
	Cursor       string
	GroupOr      bool
}

// TagSelection maps the tagged/untagged flags to a selection. Both set
// means no narrowing, same as neither.
func (o *RunOptions) TagSelection() v1alpha1.TagSelection {
	switch {
	case o.Tagged && !o.Untagged:
		return v1alpha1.TagsTagged
	case o.Untagged && !o.Tagged:
		return v1alpha1.TagsUntagged
	}
	return v1alpha1.TagsAny
}

// QueryOptions projects the query-side flags.
func (o *RunOptions) QueryOptions() v1alpha1.QueryOptions {
	return v1alpha1.QueryOptions{
		ShowMetadata: o.ShowMetadata,
		PageSize:     o.PageSize,
		StartDate:    o.StartDate,
		EndDate:      o.EndDate,
		TagSelection: o.TagSelection(),
	}
}

// ImportOptions projects the import-side flags. Zero values defer to
// the configured defaults downstream.
func (o *RunOptions) ImportOptions() (v1alpha1.ImportOptions, error) {
	variants, err := ParseVariants(o.Variants)
	if err != nil {
		return v1alpha1.ImportOptions{}, err
	}
	opts := v1alpha1.DefaultImportOptions()
	opts.RecursionDepth = o.RecursionDepth
	opts.SaveOriginal = !o.NoOriginal
	opts.GenerateChecksums = o.Checksums
	opts.NumJobs = o.NumJobs
	opts.ToProcessBatchSize = o.ChunkSize
	opts.DesiredVariants = variants
	return opts, nil
}

// ParseVariants parses the -variants flag value, a comma-separated list
// of name:format:WxH entries where either dimension may be omitted,
// e.g. "thumb:jpeg:200x,screen:jpeg:1280x720".
func ParseVariants(s string) ([]v1alpha1.VariantSpec, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var specs []v1alpha1.VariantSpec
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("variant %q: want name:format:WxH", entry)
		}
		dims := strings.SplitN(parts[2], "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("variant %q: dimensions want WxH", entry)
		}
		width, err := parseDim(dims[0])
		if err != nil {
			return nil, fmt.Errorf("variant %q: %v", entry, err)
		}
		height, err := parseDim(dims[1])
		if err != nil {
			return nil, fmt.Errorf("variant %q: %v", entry, err)
		}
		if width == 0 && height == 0 {
			return nil, fmt.Errorf("variant %q: needs at least one dimension", entry)
		}
		specs = append(specs, v1alpha1.VariantSpec{
			Name:   parts[0],
			Format: parts[1],
			Width:  width,
			Height: height,
		})
	}
	return specs, nil
}

func parseDim(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad dimension %q", s)
	}
	return n, nil
}
