package poller

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a device is kept up to date.
type Mode int

const (
	// ModeNotify stays connected after the first full poll and merges
	// value-changed notifications into the snapshot.
	ModeNotify Mode = iota
	// ModeActive connects, reads everything and disconnects on every poll.
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModeNotify:
		return "notify"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// ParseMode parses "notify" or "active". An empty string means ModeNotify.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "notify", "passive":
		return ModeNotify, nil
	case "active", "poll":
		return ModeActive, nil
	default:
		return ModeNotify, fmt.Errorf("unknown poll mode %q", s)
	}
}

// DefaultInterval is the poll timeout used by NeedsPoll when none is configured.
const DefaultInterval = 10 * time.Second

// NeedsPoll reports whether a poll is due: never polled, or more than
// timeout has elapsed since last.
func NeedsPoll(last, now time.Time, timeout time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > timeout
}

// PollState is the per-device bookkeeping of a Coordinator.
type PollState struct {
	LastPoll            time.Time // last successful poll
	LastAttempt         time.Time
	RetrievedStaticInfo bool
	Authenticated       bool
	HasAmbient          bool
	Subscribed          bool
	LastError           error
	Polls               int
	Failures            int
}

// Stage identifies where a poll cycle failed.
type Stage string

const (
	StageConnect    Stage = "connect"
	StageStaticInfo Stage = "static_info"
	StageRead       Stage = "read"
	StageSubscribe  Stage = "subscribe"
	StageNotify     Stage = "notify"
	StageWrite      Stage = "write"
)

// PollError wraps a failure with the device and stage it happened in.
type PollError struct {
	Address string
	Stage   Stage
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Address, e.Stage, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("coordinator closed")
