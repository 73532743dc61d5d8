package main

import (
	"github.com/schollz/progressbar/v3"
)

// stageBar wraps a *progressbar.ProgressBar, collapsing to a no-op in
// quiet/JSON mode so batch subcommands never corrupt piped output with
// carriage-return redraws.
type stageBar struct {
	bar  *progressbar.ProgressBar
	noop bool
}

func (s *stageBar) Set64(n int64) {
	if s.noop || s.bar == nil {
		return
	}
	_ = s.bar.Set64(n)
}

func (s *stageBar) Finish() {
	if s.noop || s.bar == nil {
		return
	}
	_ = s.bar.Finish()
}

func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)
}
