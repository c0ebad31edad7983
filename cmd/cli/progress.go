package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hamed0406/modelstatus/internal/domain"
)

// progressBar redraws a single terminal line with Checked of Total.
type progressBar struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	drawn bool
}

func newProgressBar(w io.Writer, width int) *progressBar {
	return &progressBar{w: w, width: width}
}

func (p *progressBar) Update(run domain.BatchRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filled := int(run.Percent() * float64(p.width) / 100)
	fmt.Fprintf(p.w, "\r[%s%s] %d/%d %3.0f%% %s",
		strings.Repeat("#", filled), strings.Repeat("-", p.width-filled),
		run.Checked, run.Total, run.Percent(), run.Status.Banner())
	p.drawn = true
}

// Done ends the line so later output starts clean.
func (p *progressBar) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}
