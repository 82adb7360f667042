package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with the elapsed time, or
// the remaining time when created with a duration.
//
//	p := NewProgressPrinter(w, "Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to release the goroutine. A printer is single use.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration // zero counts up

	start    time.Time
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer writing to out. A positive duration
// makes it count down.
func NewProgressPrinter(out io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// progressEnabled reports whether status lines should be drawn: only on an
// interactive terminal.
func progressEnabled() bool {
	return !color.NoColor
}

func (p *ProgressPrinter) seconds(now time.Time) int {
	elapsed := now.Sub(p.start)
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) draw(now time.Time) {
	fmt.Fprintf(p.out, "%s%s... %ds", clearLineSequence, p.prefix, p.seconds(now))
}

// Start draws the line and keeps it updated until Stop.
func (p *ProgressPrinter) Start() {
	p.start = time.Now()
	p.draw(p.start)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case now := <-ticker.C:
				p.draw(now)
			}
		}
	}()
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.start.IsZero() {
			return
		}
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}
