package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/mimetype"
)

const scannerPrefix string = "[Scanner] "

// defaultClassifyJobs caps concurrent classifier invocations so a large
// tree does not exhaust file descriptors.
const defaultClassifyJobs int = 3

// Options controls a directory scan.
type Options struct {
	// RecursionDepth is 0 for the full tree, 1 for a single level.
	RecursionDepth int
	IgnoreDotfiles bool
	ClassifyJobs   int
}

// Scanner walks a directory tree and collects admissible image files.
// Output ordering is unspecified; callers must not rely on it.
type Scanner struct {
	Log   clog.PluggableLoggerInterface
	Allow mimetype.AllowSet
}

func New(log clog.PluggableLoggerInterface, allow mimetype.AllowSet) *Scanner {
	return &Scanner{Log: log, Allow: allow}
}

// Scan returns every file under dir whose sniffed MIME tag is in the
// allow-set. Per-file classification errors are tolerated and logged;
// the first fatal walk error surfaces.
func (o *Scanner) Scan(ctx context.Context, dir string, opts Options) ([]v1alpha1.FileEntry, error) {
	jobs := opts.ClassifyJobs
	if jobs <= 0 {
		jobs = defaultClassifyJobs
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	var mu sync.Mutex
	var entries []v1alpha1.FileEntry

	root := filepath.Clean(dir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		base := filepath.Base(path)
		if d.IsDir() {
			if path == root {
				return nil
			}
			if opts.IgnoreDotfiles && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			if opts.RecursionDepth == 1 {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.IgnoreDotfiles && strings.HasPrefix(base, ".") {
			return nil
		}
		g.Go(func() error {
			tag, err := mimetype.Classify(path)
			if err != nil {
				o.Log.Warn(scannerPrefix+"skipping %s: %v", path, err)
				return nil
			}
			if !o.Allow.Has(tag) {
				o.Log.Trace(scannerPrefix+"not admissible %s (%s)", path, tag)
				return nil
			}
			mu.Lock()
			entries = append(entries, v1alpha1.FileEntry{Path: path, Format: tag.Sub})
			mu.Unlock()
			return nil
		})
		return nil
	})
	if gerr := g.Wait(); gerr != nil && err == nil {
		err = gerr
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}
