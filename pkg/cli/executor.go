package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/picdex/picdex/pkg/common"
	clog "github.com/picdex/picdex/pkg/log"
)

func Execute() error {

	options := common.RunOptions{
		Terminal: term.IsTerminal(int(os.Stdout.Fd())),
	}

	mainCmd := flag.NewFlagSet("picdex", flag.ExitOnError)
	mainCmd.StringVar(&options.ConfigPath, "config", "", "Path to the service configuration file")
	mainCmd.StringVar(&options.LogLevel, "log-level", "info", "Log level one of (info, debug, trace, error)")
	mainCmd.StringVar(&options.WorkingDir, "workspace", "", "Working directory for derived variant files, overrides the configured one")

	// import-only options
	mainCmd.IntVar(&options.RecursionDepth, "depth", 0, "Scan recursion depth: 0 for the full tree, 1 for a single level")
	mainCmd.IntVar(&options.NumJobs, "jobs", 0, "Per-batch worker concurrency for probe and resize")
	mainCmd.IntVar(&options.ChunkSize, "chunk-size", 0, "Number of images persisted per bulk write")
	mainCmd.BoolVar(&options.NoOriginal, "no-original", false, "Persist image metadata without attaching the original bytes")
	mainCmd.BoolVar(&options.Checksums, "checksums", false, "Record a content checksum per imported original")
	mainCmd.StringVar(&options.Variants, "variants", "", "Renditions to derive, comma-separated name:format:WxH entries")
	mainCmd.BoolVar(&options.UseMagick, "magick", false, "Shell out to an ImageMagick-compatible binary instead of the in-process handler")
	mainCmd.StringVar(&options.MagickBin, "magick-bin", "magick", "ImageMagick-compatible binary to use with -magick")

	// query-only options
	mainCmd.BoolVar(&options.ShowMetadata, "metadata", false, "Include raw probe metadata in results")
	mainCmd.IntVar(&options.PageSize, "page-size", 20, "Images per page for ls")
	mainCmd.StringVar(&options.StartDate, "start-date", "", "Only images taken on or after this day (format yyyyMMdd)")
	mainCmd.StringVar(&options.EndDate, "end-date", "", "Only images taken on or before this day (format yyyyMMdd)")
	mainCmd.BoolVar(&options.Tagged, "tagged", false, "Only images carrying at least one tag")
	mainCmd.BoolVar(&options.Untagged, "untagged", false, "Only images carrying no tags")
	mainCmd.StringVar(&options.Cursor, "cursor", "", "Resume ls from this cursor")
	mainCmd.BoolVar(&options.GroupOr, "or", false, "Match any tag instead of all tags with tags find")

	if len(os.Args) < 2 {
		fmt.Println("use --help to get list of commands and flags")
		os.Exit(1)
	}
	subCommand := os.Args[1]
	mainCmd.Parse(os.Args[2:])

	log := clog.New(options.LogLevel)
	ctx := context.Background()

	switch subCommand {

	case importCommand:
		startTime := time.Now()
		controller := NewImportFlowController(ctx, log, &options)
		err := controller.Process(mainCmd.Args())
		if err != nil {
			return err
		}
		log.Info("import time     : %v", time.Since(startTime))

	case lsCommand:
		return NewCatalogFlowController(ctx, log, &options).List(mainCmd.Args())
	case showCommand:
		return NewCatalogFlowController(ctx, log, &options).Show(mainCmd.Args())
	case batchesCommand:
		return NewCatalogFlowController(ctx, log, &options).Batches(mainCmd.Args())
	case abortCommand:
		return NewCatalogFlowController(ctx, log, &options).Abort(mainCmd.Args())
	case tagsCommand:
		return NewCatalogFlowController(ctx, log, &options).Tags(mainCmd.Args())
	case trashCommand:
		return NewCatalogFlowController(ctx, log, &options).Trash(mainCmd.Args())
	case restoreCommand:
		return NewCatalogFlowController(ctx, log, &options).Restore(mainCmd.Args())
	case emptyTrashCommand:
		return NewCatalogFlowController(ctx, log, &options).EmptyTrash(mainCmd.Args())

	default:
		return fmt.Errorf("unknown command %q, use --help to get the list of commands", subCommand)
	}
	return nil
}
