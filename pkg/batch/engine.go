package batch

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/catalog"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/imagetool"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/registry"
	"github.com/picdex/picdex/pkg/scanner"
	"github.com/picdex/picdex/pkg/store"
)

const enginePrefix string = "[ImportEngine] "

// Engine runs import batches: two passes over chunked work, a bounded
// worker pool per chunk, progress events, and the batch state machine.
type Engine struct {
	Log        clog.PluggableLoggerInterface
	Context    context.Context
	Store      store.Store
	Catalog    *catalog.Operations
	Registry   *registry.InFlight
	Scanner    *scanner.Scanner
	Tool       imagetool.Handler
	WorkingDir string
}

func New(ctx context.Context, log clog.PluggableLoggerInterface, st store.Store, cat *catalog.Operations, reg *registry.InFlight, sc *scanner.Scanner, tool imagetool.Handler, workingDir string) *Engine {
	return &Engine{
		Log:        log,
		Context:    ctx,
		Store:      st,
		Catalog:    cat,
		Registry:   reg,
		Scanner:    sc,
		Tool:       tool,
		WorkingDir: workingDir,
	}
}

// CreateFromFS scans dir, creates the batch synchronously so the caller
// gets its id, and processes it asynchronously. Events arrive on the
// returned stream in production order; the stream closes after the
// terminal event. An empty scan returns NO_FILES_FOUND and persists
// nothing.
func (e *Engine) CreateFromFS(dir string, opts v1alpha1.ImportOptions) (*v1alpha1.BatchSchema, <-chan v1alpha1.Event, error) {
	opts = opts.Complete()

	files, err := e.Scanner.Scan(e.Context, dir, scanner.Options{
		RecursionDepth: opts.RecursionDepth,
		IgnoreDotfiles: opts.IgnoreDotfiles,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, errcode.New(errcode.NoFilesFound, "no admissible files under %s", dir)
	}
	if err := os.MkdirAll(e.WorkingDir, 0o755); err != nil {
		return nil, nil, errcode.Wrap(errcode.UnknownError, err, "working directory %s", e.WorkingDir)
	}

	now := time.Now()
	batch := &v1alpha1.BatchSchema{
		ID:             uuid.NewString(),
		ClassName:      v1alpha1.ClassImportBatch,
		Path:           dir,
		Status:         v1alpha1.StatusInit,
		CreatedAt:      now,
		UpdatedAt:      now,
		NumToImport:    len(files),
		ImagesToImport: files,
		Errors:         make(map[string]string),
	}
	e.Registry.Register(batch)
	if err := e.persist(batch.ID); err != nil {
		e.Registry.Remove(batch.ID)
		return nil, nil, err
	}

	// Sized so the producer never blocks on a slow subscriber.
	events := make(chan v1alpha1.Event, 3*len(files)+4)
	go e.run(batch.ID, files, opts, events)

	return batch.Snapshot(), events, nil
}

// run drives the two passes and finalization for one batch. It is the
// only goroutine mutating the batch record; workers touch per-item
// state exclusively.
func (e *Engine) run(id string, files []v1alpha1.FileEntry, opts v1alpha1.ImportOptions, events chan<- v1alpha1.Event) {
	defer close(events)

	e.Registry.SetStatus(id, v1alpha1.StatusStarted)
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.StartedAt = time.Now()
		b.UpdatedAt = b.StartedAt
	})
	if err := e.persist(id); err != nil {
		e.fail(id, err, events)
		return
	}
	events <- v1alpha1.Event{Type: v1alpha1.EventStarted, Batch: e.Registry.Snapshot(id)}

	chunks := lo.Chunk(files, opts.ToProcessBatchSize)
	first := smallestVariant(opts.DesiredVariants)

	// Pass 1: one preview variant per image, chunk-serial.
	var processed []*chunkResult
	fatal := false
	for _, chunk := range chunks {
		if e.abortObserved(id) {
			break
		}
		result, err := e.passOne(id, chunk, first, opts, events)
		if err != nil {
			e.Log.Error(enginePrefix+"batch %s: %v", id, err)
			fatal = true
			break
		}
		processed = append(processed, result)
	}

	// Pass 2: remaining variants, same chunking over pass-1 survivors.
	if !fatal {
		for _, result := range processed {
			if e.abortObserved(id) {
				break
			}
			if err := e.passTwo(id, result, first, opts, events); err != nil {
				e.Log.Error(enginePrefix+"batch %s: %v", id, err)
				fatal = true
				break
			}
		}
	}

	e.finalize(id, fatal, events)
}

// abortObserved checks for a pending abort at a chunk boundary. The
// STARTED to ABORTING move happens exactly once; afterwards no further
// chunks are dispatched.
func (e *Engine) abortObserved(id string) bool {
	status, ok := e.Registry.Status(id)
	if !ok {
		return true
	}
	switch status {
	case v1alpha1.StatusAbortRequested:
		return e.Registry.SetStatus(id, v1alpha1.StatusAborting)
	case v1alpha1.StatusAborting:
		return true
	}
	return false
}

// fail moves the batch to ERROR after a fatal store failure and still
// emits the terminal event so subscribers unblock.
func (e *Engine) fail(id string, err error, events chan<- v1alpha1.Event) {
	e.Log.Error(enginePrefix+"batch %s failed: %v", id, err)
	e.finalize(id, true, events)
}

// finalize computes the terminal status, persists the batch one last
// time, emits COMPLETED and removes the batch from the registry. The
// registry entry outlives the final persist so show() never observes a
// gap.
func (e *Engine) finalize(id string, fatal bool, events chan<- v1alpha1.Event) {
	status, _ := e.Registry.Status(id)
	terminal := v1alpha1.StatusCompleted
	switch {
	case fatal:
		terminal = v1alpha1.StatusError
	case status == v1alpha1.StatusAborting || status == v1alpha1.StatusAbortRequested:
		if status == v1alpha1.StatusAbortRequested {
			e.Registry.SetStatus(id, v1alpha1.StatusAborting)
		}
		terminal = v1alpha1.StatusAborted
	default:
		snap := e.Registry.Snapshot(id)
		if snap != nil && snap.NumSuccess == 0 && snap.NumError > 0 {
			terminal = v1alpha1.StatusError
		}
	}
	e.Registry.SetStatus(id, terminal)
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.CompletedAt = time.Now()
		b.UpdatedAt = b.CompletedAt
	})
	if err := e.persist(id); err != nil {
		e.Log.Error(enginePrefix+"batch %s: final persist: %v", id, err)
	}
	events <- v1alpha1.Event{Type: v1alpha1.EventCompleted, Batch: e.Registry.Snapshot(id)}
	e.Registry.Remove(id)
}

// persist writes the current live record and folds the fresh revision
// back into it.
func (e *Engine) persist(id string) error {
	snap := e.Registry.Snapshot(id)
	if snap == nil {
		return errcode.New(errcode.ImportNotFound, "batch %s not in flight", id)
	}
	rev, err := e.Store.Put(e.Context, snap)
	if err != nil {
		return err
	}
	e.Registry.Mutate(id, func(b *v1alpha1.BatchSchema) {
		b.Rev = rev
	})
	return nil
}

// smallestVariant picks the pass-1 rendition: smallest pixel area, ties
// broken by list order.
func smallestVariant(specs []v1alpha1.VariantSpec) *v1alpha1.VariantSpec {
	var best *v1alpha1.VariantSpec
	for i := range specs {
		if best == nil || specs[i].PixelArea() < best.PixelArea() {
			best = &specs[i]
		}
	}
	return best
}
