package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/batch"
	"github.com/picdex/picdex/pkg/catalog"
	"github.com/picdex/picdex/pkg/config"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/imagetool"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/mimetype"
	"github.com/picdex/picdex/pkg/registry"
	"github.com/picdex/picdex/pkg/scanner"
	"github.com/picdex/picdex/pkg/store"
)

const servicePrefix string = "[Service] "

// Facade composes the engine, catalog and registry behind one surface.
// Query paths go through Catalog; batch lifecycle goes through here so
// the in-flight registry stays authoritative for live batches.
type Facade struct {
	Log      clog.PluggableLoggerInterface
	Context  context.Context
	Config   config.ServiceConfig
	Store    store.Store
	Catalog  *catalog.Operations
	Registry *registry.InFlight
	Engine   *batch.Engine
	Tool     imagetool.Handler
}

// New wires the facade. A nil tool selects the in-process handler.
func New(ctx context.Context, log clog.PluggableLoggerInterface, cfg config.ServiceConfig, st store.Store, tool imagetool.Handler) *Facade {
	if tool == nil {
		tool = imagetool.NewNative(log)
	}
	allow := mimetype.NewImageAllowSet(cfg.Import.AllowedTypes)
	cat := catalog.New(log, st)
	reg := registry.New()
	sc := scanner.New(log, allow)
	eng := batch.New(ctx, log, st, cat, reg, sc, tool, cfg.Import.WorkingDir)
	return &Facade{
		Log:      log,
		Context:  ctx,
		Config:   cfg,
		Store:    st,
		Catalog:  cat,
		Registry: reg,
		Engine:   eng,
		Tool:     tool,
	}
}

// Import starts an import batch over a directory. Unset options fall
// back to the configured defaults.
func (f *Facade) Import(dir string, opts v1alpha1.ImportOptions) (*v1alpha1.BatchSchema, <-chan v1alpha1.Event, error) {
	if len(opts.DesiredVariants) == 0 {
		opts.DesiredVariants = f.Config.Import.DefaultVariants
	}
	if opts.NumJobs <= 0 {
		opts.NumJobs = f.Config.Import.NumJobs
	}
	if opts.ToProcessBatchSize <= 0 {
		opts.ToProcessBatchSize = f.Config.Import.ToProcessBatchSize
	}
	return f.Engine.CreateFromFS(dir, opts)
}

// UpdateBatch applies a client batch mutation. The only writable field
// is status, and the only transition this surface permits is
// STARTED to ABORT_REQUESTED.
func (f *Facade) UpdateBatch(id string, updates map[string]interface{}) (*v1alpha1.BatchSchema, error) {
	for field := range updates {
		if field != "status" {
			return nil, errcode.New(errcode.Conflict, "field %q is not writable", field)
		}
	}
	raw, ok := updates["status"]
	if !ok {
		return nil, errcode.New(errcode.AttributeValidationFailure, "no status given")
	}
	status, ok := raw.(string)
	if !ok || status != v1alpha1.StatusAbortRequested.String() {
		return nil, errcode.New(errcode.AttributeValidationFailure, "status %v is not a permitted transition", raw)
	}
	if f.Registry.Get(id) == nil {
		return nil, errcode.New(errcode.ImportNotFound, "batch %s is not in flight", id)
	}
	if !f.Registry.SetStatus(id, v1alpha1.StatusAbortRequested) {
		current, _ := f.Registry.Status(id)
		return nil, errcode.New(errcode.AttributeValidationFailure, "batch %s is %s, abort needs STARTED", id, current)
	}
	f.Log.Info(servicePrefix+"abort requested for batch %s", id)
	return f.Registry.Snapshot(id), nil
}

// ShowBatch returns the live in-flight record when the batch is still
// running, otherwise the persisted one.
func (f *Facade) ShowBatch(id string) (*v1alpha1.BatchSchema, error) {
	if snap := f.Registry.Snapshot(id); snap != nil {
		return snap, nil
	}
	return f.Catalog.GetBatch(f.Context, id)
}

// ListBatches lists persisted batches newest-first, overlaying the
// fresher in-flight records.
func (f *Facade) ListBatches() ([]*v1alpha1.BatchSchema, error) {
	batches, err := f.Catalog.ListBatches(f.Context)
	if err != nil {
		return nil, err
	}
	for i, b := range batches {
		if snap := f.Registry.Snapshot(b.ID); snap != nil {
			batches[i] = snap
		}
	}
	return batches, nil
}

// Save ingests a single image outside any batch: probe, persist,
// attach, then return the hydrated document.
func (f *Facade) Save(path string, opts v1alpha1.ImportOptions) (*v1alpha1.ImageSchema, error) {
	opts = opts.Complete()
	probe, err := f.Tool.Probe(f.Context, path, true)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	img := &v1alpha1.ImageSchema{
		ID:          uuid.NewString(),
		ClassName:   v1alpha1.ClassImage,
		Kind:        v1alpha1.KindOriginal,
		Path:        path,
		Name:        baseName(path),
		Format:      probe.Format,
		Geometry:    probe.Geometry(),
		Size:        v1alpha1.Size{Width: probe.Width, Height: probe.Height},
		Filesize:    probe.Filesize,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        []string{},
		MetadataRaw: probe.Raw,
	}
	rev, err := f.Store.Put(f.Context, img)
	if err != nil {
		return nil, err
	}
	img.Rev = rev
	if opts.SaveOriginal {
		data, err := f.Tool.OpenStream(path)
		if err != nil {
			return nil, err
		}
		rev, err = f.Store.Attach(f.Context, img.ID, img.AttachmentName(), data, img.ContentType(), img.Rev)
		if err != nil {
			return nil, err
		}
		img.Rev = rev
	}
	return f.Catalog.Show(f.Context, img.ID, v1alpha1.QueryOptions{ShowMetadata: true})
}

func baseName(path string) string {
	return filepath.Base(path)
}
