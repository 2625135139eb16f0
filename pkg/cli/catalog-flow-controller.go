package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/catalog"
	"github.com/picdex/picdex/pkg/common"
	"github.com/picdex/picdex/pkg/emoji"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/view"
)

type CatalogFlowControllerInterface interface {
	List(args []string) error
	Show(args []string) error
	Batches(args []string) error
	Abort(args []string) error
	Tags(args []string) error
	Trash(args []string) error
	Restore(args []string) error
	EmptyTrash(args []string) error
}

type CatalogFlowController struct {
	Log     clog.PluggableLoggerInterface
	Options *common.RunOptions
	Context context.Context
}

func NewCatalogFlowController(ctx context.Context, log clog.PluggableLoggerInterface, opts *common.RunOptions) CatalogFlowControllerInterface {
	return CatalogFlowController{
		Context: ctx,
		Log:     log,
		Options: opts,
	}
}

// List pages images newest-first and prints the cursor for the next
// page.
func (o CatalogFlowController) List(args []string) error {
	validate := Validate{Log: o.Log, Options: o.Options}
	if err := validate.CheckQueryArgs(); err != nil {
		return err
	}
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	move := catalog.MoveAt
	if o.Options.Cursor != "" {
		move = catalog.MoveNext
	}
	page, err := facade.Catalog.PagedFindByCreationTime(o.Context, o.Options.Cursor, move, o.Options.QueryOptions(), nil)
	endOfIteration := errors.Is(err, view.ErrEndOfIteration)
	if err != nil && !endOfIteration {
		return err
	}
	for _, item := range page.Items {
		img, ok := item.(*v1alpha1.ImageSchema)
		if !ok {
			continue
		}
		printImage(img, false)
	}
	o.Log.Info(emoji.PageFacingUp+" %d of %d images", len(page.Items), page.TotalSize)
	if endOfIteration || page.Cursors.Next == "" {
		o.Log.Info(cliPrefix + "end of results")
		return nil
	}
	o.Log.Info(cliPrefix+"next page: -cursor %s", page.Cursors.Next)
	return nil
}

// Show prints one image with its variants.
func (o CatalogFlowController) Show(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("show needs at least one image id")
	}
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	for _, id := range args {
		img, err := facade.Catalog.Show(o.Context, id, o.Options.QueryOptions())
		if err != nil {
			return err
		}
		printImage(img, true)
	}
	return nil
}

// Batches lists past imports, or shows one batch with its images.
func (o CatalogFlowController) Batches(args []string) error {
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		batches, err := facade.ListBatches()
		if err != nil {
			return err
		}
		for _, b := range batches {
			o.Log.Info(emoji.Package+" %s  %s  %s  %d/%d ok", b.ID, b.Status, b.CreatedAt.Format(time.DateTime), b.NumSuccess, b.NumToImport)
		}
		return nil
	}
	detail, err := facade.Catalog.ShowBatchWithImages(o.Context, args[0], o.Options.QueryOptions())
	if err != nil {
		return err
	}
	b := detail.Batch
	o.Log.Info(emoji.Package+" %s  %s  path=%s  images=%d (in trash %d)", b.ID, b.Status, b.Path, detail.NumImages, detail.NumImagesInTrash)
	for _, img := range detail.Images {
		printImage(img, false)
	}
	return nil
}

// Abort requests cancellation of a running batch.
func (o CatalogFlowController) Abort(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("abort needs exactly one batch id")
	}
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	b, err := facade.UpdateBatch(args[0], map[string]interface{}{"status": v1alpha1.StatusAbortRequested.String()})
	if err != nil {
		return err
	}
	o.Log.Info(emoji.CheckMarkButton+" batch %s is now %s", b.ID, b.Status)
	return nil
}

// Tags dispatches tag actions: add, remove, replace, list, find.
func (o CatalogFlowController) Tags(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tags needs an action: add|remove|replace|list|find")
	}
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	action, rest := args[0], args[1:]
	switch action {
	case tagsListAction:
		tags, err := facade.Catalog.TagsGetAll(o.Context)
		if err != nil {
			return err
		}
		for _, tag := range tags {
			o.Log.Info(cliPrefix + tag)
		}
		return nil
	case tagsAddAction, tagsRemoveAction:
		if len(rest) < 2 {
			return fmt.Errorf("tags %s needs <tag,...> <id...>", action)
		}
		tags := splitList(rest[0])
		ids := rest[1:]
		if action == tagsAddAction {
			err = facade.Catalog.TagsAdd(o.Context, ids, tags)
		} else {
			err = facade.Catalog.TagsRemove(o.Context, ids, tags)
		}
		if err != nil {
			return err
		}
		o.Log.Info(emoji.CheckMarkButton+" %d images updated", len(ids))
		return nil
	case tagsReplaceAction:
		if len(rest) < 3 {
			return fmt.Errorf("tags replace needs <old,...> <new,...> <id...>")
		}
		if err := facade.Catalog.TagsReplace(o.Context, rest[2:], splitList(rest[0]), splitList(rest[1])); err != nil {
			return err
		}
		o.Log.Info(emoji.CheckMarkButton+" %d images updated", len(rest[2:]))
		return nil
	case tagsFindAction:
		if len(rest) != 1 {
			return fmt.Errorf("tags find needs <tag,...>")
		}
		filter := v1alpha1.TagFilter{GroupOp: v1alpha1.GroupAnd}
		if o.Options.GroupOr {
			filter.GroupOp = v1alpha1.GroupOr
		}
		for _, tag := range splitList(rest[0]) {
			filter.Rules = append(filter.Rules, v1alpha1.TagRule{Field: "tags", Op: "eq", Data: tag})
		}
		images, err := facade.Catalog.FindByTags(o.Context, filter, o.Options.QueryOptions())
		if err != nil {
			return err
		}
		for _, img := range images {
			printImage(img, false)
		}
		return nil
	}
	return fmt.Errorf("unknown tags action %q", action)
}

// Trash lists the trash when called bare, otherwise trashes the given
// images.
func (o CatalogFlowController) Trash(args []string) error {
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		images, err := facade.Catalog.ViewTrash(o.Context)
		if err != nil {
			return err
		}
		for _, img := range images {
			printImage(img, false)
		}
		o.Log.Info(emoji.Wastebasket+" %d images in trash", len(images))
		return nil
	}
	if err := facade.Catalog.SendToTrash(o.Context, args); err != nil {
		return err
	}
	o.Log.Info(emoji.Wastebasket+" %d images sent to trash", len(args))
	return nil
}

func (o CatalogFlowController) Restore(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("restore needs at least one image id")
	}
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	if err := facade.Catalog.RestoreFromTrash(o.Context, args); err != nil {
		return err
	}
	o.Log.Info(emoji.CheckMarkButton+" %d images restored", len(args))
	return nil
}

func (o CatalogFlowController) EmptyTrash(args []string) error {
	facade, err := newFacade(o.Context, o.Log, o.Options)
	if err != nil {
		return err
	}
	if err := facade.Catalog.EmptyTrash(o.Context); err != nil {
		return err
	}
	o.Log.Info(emoji.Wastebasket + " trash emptied")
	return nil
}

func printImage(img *v1alpha1.ImageSchema, verbose bool) {
	line := fmt.Sprintf("%s %s  %s  %s %s", emoji.FramedPicture, img.ID, img.Name, img.Geometry, img.Filesize)
	if len(img.Tags) > 0 {
		line += "  [" + strings.Join(img.Tags, ",") + "]"
	}
	if img.InTrash {
		line += "  " + emoji.Wastebasket
	}
	fmt.Println(line)
	for _, v := range img.Variants {
		fmt.Printf("   └ %s %s %s\n", v.Name, v.Geometry, v.Filesize)
	}
	if verbose && img.MetadataRaw != "" {
		fmt.Println(img.MetadataRaw)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
