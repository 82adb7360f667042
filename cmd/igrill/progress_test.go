package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressPrinterSeconds(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	down := NewProgressPrinter(&bytes.Buffer{}, "Scanning", 10*time.Second)
	down.start = start
	assert.Equal(t, 10, down.seconds(start))
	assert.Equal(t, 7, down.seconds(start.Add(2700*time.Millisecond)), "countdown MUST round to the nearest second")
	assert.Equal(t, 0, down.seconds(start.Add(time.Minute)), "countdown MUST stop at zero")

	up := NewProgressPrinter(&bytes.Buffer{}, "Polling", 0)
	up.start = start
	assert.Equal(t, 3, up.seconds(start.Add(3900*time.Millisecond)))
}

func TestProgressPrinterStartStop(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "Scanning", time.Second)
	p.Start()
	time.Sleep(2 * progressUpdateInterval)
	p.Stop()
	p.Stop()

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, clearLineSequence+"Scanning... 1s"))
	assert.True(t, strings.HasSuffix(out, clearLineSequence), "Stop MUST clear the line")
}

func TestProgressPrinterStopWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		NewProgressPrinter(&buf, "Scanning", 0).Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start MUST NOT block")
	}
	assert.Empty(t, buf.String())
}
