package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/picdex/picdex/pkg/common"
	clog "github.com/picdex/picdex/pkg/log"
)

type ValidateInterface interface {
	CheckImportArgs(args []string) error
	CheckQueryArgs() error
}

type Validate struct {
	Log     clog.PluggableLoggerInterface
	Options *common.RunOptions
}

func (o Validate) CheckImportArgs(args []string) error {
	if len(o.Options.ConfigPath) == 0 {
		return fmt.Errorf("use the --config flag it is mandatory")
	}
	if len(args) != 1 {
		return fmt.Errorf("import needs exactly one directory argument")
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return fmt.Errorf("import directory %s: %v", args[0], err)
	}
	if !info.IsDir() {
		return fmt.Errorf("import path %s is not a directory", args[0])
	}
	if o.Options.RecursionDepth != 0 && o.Options.RecursionDepth != 1 {
		return fmt.Errorf("recursion depth must be 0 (full tree) or 1 (single level)")
	}
	if _, err := common.ParseVariants(o.Options.Variants); err != nil {
		return err
	}
	return nil
}

func (o Validate) CheckQueryArgs() error {
	if len(o.Options.ConfigPath) == 0 {
		return fmt.Errorf("use the --config flag it is mandatory")
	}
	for _, day := range []string{o.Options.StartDate, o.Options.EndDate} {
		if day == "" {
			continue
		}
		if _, err := time.ParseInLocation(dayFormat, day, time.Local); err != nil {
			return fmt.Errorf("date %q: expected format yyyyMMdd", day)
		}
	}
	if o.Options.PageSize < 0 {
		return fmt.Errorf("page size must be positive")
	}
	return nil
}
