package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"avatarreel/internal/stage"
)

// progressReporter draws one bar per frame-producing stage when stderr is a
// terminal. Off a terminal it does nothing and the logs carry progress.
type progressReporter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	current stage.Name
	bar     *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w, enabled: isTerminal(w)}
}

func (p *progressReporter) update(name stage.Name, done, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.current != name {
		p.closeLocked()
		p.current = name
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(name.Label()),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(min(done, total))
}

func (p *progressReporter) observe(report stage.Report) {
	if report.Status == stage.StatusCompleted || report.Status == stage.StatusFailed {
		p.mu.Lock()
		defer p.mu.Unlock()
		if report.Name == p.current {
			p.closeLocked()
		}
	}
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *progressReporter) closeLocked() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
	p.current = ""
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
