package workflow

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress receives per-episode progress updates.
type Progress interface {
	Start(total int)
	Step(episode string)
	Finish()
}

type noopProgress struct{}

func (noopProgress) Start(int)   {}
func (noopProgress) Step(string) {}
func (noopProgress) Finish()     {}

// BarProgress renders episode progress as a terminal progress bar.
type BarProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBarProgress returns a Progress that draws to w.
func NewBarProgress(w io.Writer) *BarProgress {
	return &BarProgress{w: w}
}

// Start creates the bar for total episodes.
func (p *BarProgress) Start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("episodes"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Step advances the bar past episode.
func (p *BarProgress) Step(episode string) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(episode)
	_ = p.bar.Add(1)
}

// Finish completes and clears the bar.
func (p *BarProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
