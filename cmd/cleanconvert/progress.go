package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"cleanconvert/internal/batch"
)

// progress reports item transitions. On a terminal it redraws one status
// line; otherwise it prints a line per finished item.
type progress struct {
	w     io.Writer
	live  bool
	width int

	mu        sync.Mutex
	total     int
	done      int
	failed    int
	lastDrawn int
}

func newProgress(w io.Writer) *progress {
	p := &progress{w: w, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.live = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			p.width = width
		}
	}
	return p
}

// setTotal sets the number of items in the pass.
func (p *progress) setTotal(n int) {
	p.mu.Lock()
	p.total, p.done, p.failed = n, 0, 0
	p.mu.Unlock()
}

// transition is a batch.Config.OnTransition hook.
func (p *progress) transition(prev, next batch.Item) {
	if next.ID == "" || prev.Status == next.Status || prev.Status != batch.StatusProcessing {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch next.Status {
	case batch.StatusCompleted:
		p.done++
		if !p.live {
			res := next.Result
			note := ""
			if res.UsedFallback {
				note = " (fallback)"
			}
			fmt.Fprintf(p.w, "ok    %s -> %s %dx%d %s%s\n", next.Name, res.FileName, res.Width, res.Height, formatBytes(res.Size), note)
		}
	case batch.StatusError:
		p.done++
		p.failed++
		if !p.live {
			fmt.Fprintf(p.w, "fail  %s: %s\n", next.Name, next.Err.Reason)
		}
	default:
		return
	}
	if p.live {
		p.draw(next.Name)
	}
}

func (p *progress) draw(current string) {
	line := fmt.Sprintf("[%d/%d] %d failed  %s", p.done, p.total, p.failed, current)
	if len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	pad := ""
	if n := p.lastDrawn - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.lastDrawn = len(line)
}

// finish ends the status line.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live && p.lastDrawn > 0 {
		fmt.Fprintln(p.w)
		p.lastDrawn = 0
	}
}
