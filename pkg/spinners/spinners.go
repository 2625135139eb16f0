package spinners

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

// nolint: ireturn
func PositionSpinnerLeft(original mpb.BarFiller) mpb.BarFiller {
	return mpb.SpinnerStyle("⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏", " ").PositionLeft().Build()
}

// nolint: ireturn
func EmptyDecorator() decor.Decorator {
	return decor.Any(func(s decor.Statistics) string {
		return ""
	})
}

// ImportProgress renders an import batch's event stream as one bar:
// previews bump the bar halfway, saves and errors complete an image.
type ImportProgress struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	total    int64
	ticks    map[string]int64
}

// NewImportProgress builds the bar for a batch of total images. A nil
// writer renders nowhere, for non-terminal runs.
func NewImportProgress(w io.Writer, total int) *ImportProgress {
	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(40), mpb.WithAutoRefresh())
	bar := p.AddBar(int64(total)*2,
		mpb.PrependDecorators(
			decor.Name("importing "),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage()),
		mpb.BarFillerMiddleware(PositionSpinnerLeft),
	)
	return &ImportProgress{progress: p, bar: bar, total: int64(total), ticks: make(map[string]int64)}
}

// Observe advances the bar for one event. Progress is tracked per
// image, so an image that previews and later errors still ends at two
// ticks.
func (o *ImportProgress) Observe(event v1alpha1.Event) {
	switch event.Type {
	case v1alpha1.EventImgVariantCreated:
		o.advance(event.Image.Path, 1)
	case v1alpha1.EventImgSaved:
		o.advance(event.Image.Path, 2)
	case v1alpha1.EventImgError:
		o.advance(event.Path, 2)
	case v1alpha1.EventCompleted:
		o.bar.SetCurrent(o.total * 2)
	}
}

func (o *ImportProgress) advance(path string, target int64) {
	cur := o.ticks[path]
	if target <= cur {
		return
	}
	o.ticks[path] = target
	o.bar.IncrBy(int(target - cur))
}

// Wait flushes the rendering after the stream closes.
func (o *ImportProgress) Wait() {
	o.bar.Abort(false)
	o.progress.Wait()
}
