package cli

import (
	"fmt"
	"os"

	"github.com/picdex/picdex/pkg/common"
	clog "github.com/picdex/picdex/pkg/log"
)

type SetupInterface interface {
	CreateDirectories() error
}

type Setup struct {
	Log     clog.PluggableLoggerInterface
	Options *common.RunOptions
}

// CreateDirectories ensures the working directory tree exists before
// the engine writes temp variant files into it.
func (o Setup) CreateDirectories() error {
	if o.Options.WorkingDir == "" {
		return nil
	}
	o.Log.Trace(cliPrefix+"creating working directory %s", o.Options.WorkingDir)
	if err := os.MkdirAll(o.Options.WorkingDir, 0755); err != nil {
		return fmt.Errorf("setup working-dir (%s) %v ", o.Options.WorkingDir, err)
	}
	return nil
}
