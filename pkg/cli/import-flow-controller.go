package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/common"
	"github.com/picdex/picdex/pkg/config"
	"github.com/picdex/picdex/pkg/emoji"
	"github.com/picdex/picdex/pkg/errcode"
	"github.com/picdex/picdex/pkg/imagetool"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/service"
	"github.com/picdex/picdex/pkg/spinners"
	"github.com/picdex/picdex/pkg/store"
)

type ImportFlowControllerInterface interface {
	Process(args []string) error
}

type ImportFlowController struct {
	Log     clog.PluggableLoggerInterface
	Options *common.RunOptions
	Context context.Context
}

func NewImportFlowController(ctx context.Context, log clog.PluggableLoggerInterface, opts *common.RunOptions) ImportFlowControllerInterface {
	return ImportFlowController{
		Context: ctx,
		Log:     log,
		Options: opts,
	}
}

func (o ImportFlowController) Process(args []string) error {
	validate := Validate{Log: o.Log, Options: o.Options}
	err := validate.CheckImportArgs(args)
	if err != nil {
		return fmt.Errorf("validation failed %s", err.Error())
	}

	o.Log.Info(emoji.WavingHandSign + " Hello, welcome to picdex")
	o.Log.Info(emoji.Gear + "  setting up the environment for you...")

	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}

	setup := Setup{Log: o.Log, Options: o.Options}
	err = setup.CreateDirectories()
	if err != nil {
		return fmt.Errorf("setting up directories %s", err.Error())
	}

	importOpts, err := o.Options.ImportOptions()
	if err != nil {
		return err
	}

	batch, events, err := facade.Import(args[0], importOpts)
	if err != nil {
		if errcode.Is(err, errcode.NoFilesFound) {
			o.Log.Warn(emoji.Eyes+" nothing to import under %s", args[0])
		}
		return err
	}
	o.Log.Info(emoji.CameraWithFlash+" batch %s: importing %d images", batch.ID, batch.NumToImport)

	var progress *spinners.ImportProgress
	if o.Options.Terminal {
		progress = spinners.NewImportProgress(os.Stdout, batch.NumToImport)
	}

	var final *v1alpha1.BatchSchema
	for event := range events {
		if progress != nil {
			progress.Observe(event)
		}
		switch event.Type {
		case v1alpha1.EventImgError:
			o.Log.Warn(emoji.CrossMark+" %s: %s", event.Path, event.Error)
		case v1alpha1.EventImgSaved:
			o.Log.Debug(cliPrefix+"saved %s", event.Image.Name)
		case v1alpha1.EventCompleted:
			final = event.Batch
		}
	}
	if progress != nil {
		progress.Wait()
	}

	if final == nil {
		return fmt.Errorf("batch %s: event stream ended without a terminal event", batch.ID)
	}
	o.Log.Info(emoji.PageFacingUp+" batch %s: %d attempted, %d imported, %d failed", final.ID, final.NumAttempted, final.NumSuccess, final.NumError)
	if final.Status != v1alpha1.StatusCompleted {
		return fmt.Errorf("batch %s finished in %s", final.ID, final.Status)
	}
	o.Log.Info(emoji.CheckMarkButton + " all done")
	o.Log.Info(emoji.WavingHandSign + " Goodbye, thank you for using picdex")
	return nil
}

// newFacade loads the configuration, connects to the store and wires
// the service. Flag overrides win over the config file.
func newFacade(ctx context.Context, log clog.PluggableLoggerInterface, opts *common.RunOptions) (*service.Facade, error) {
	cfg, err := config.Read(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.WorkingDir != "" {
		cfg.Import.WorkingDir = opts.WorkingDir
	} else {
		opts.WorkingDir = cfg.Import.WorkingDir
	}

	client, err := store.New(log, cfg.Store.URL, cfg.Store.Database)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}

	var tool imagetool.Handler
	if opts.UseMagick {
		tool = imagetool.NewMagick(log, opts.MagickBin)
	}
	return service.New(ctx, log, cfg, client, tool), nil
}
