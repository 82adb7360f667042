package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/ringchan"
)

// Sighting is the latest advertisement seen from a known thermometer.
type Sighting struct {
	Address     string
	Name        string
	Profile     igrill.Profile
	RSSI        int
	Connectable bool
	SeenAt      time.Time
}

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type Event struct {
	Type     EventType
	Sighting Sighting
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner runs one discovery scan. Advertisements whose name does not
// classify are ignored.
type Scanner struct {
	dev     device.ScanningDevice
	devices *hashmap.Map[string, Sighting]
	events  *ringchan.Ring[Event]
	logger  *logrus.Logger
	opts    *ScanOptions
	now     func() time.Time
}

// NewScanner creates a scanner over dev.
func NewScanner(dev device.ScanningDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		dev:     dev,
		devices: hashmap.New[string, Sighting](),
		events:  ringchan.New[Event](100),
		logger:  logger,
		now:     time.Now,
	}
}

// Scan listens for advertisements until ctx is done or opts.Duration
// elapses, then closes the event feed and returns the sightings by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (map[string]Sighting, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	s.opts = opts
	defer s.events.Close()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	err := s.dev.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	out := make(map[string]Sighting, s.devices.Len())
	s.devices.Range(func(addr string, v Sighting) bool {
		out[addr] = v
		return true
	})
	return out, nil
}

// HandleAdvertisement classifies adv and records it. Exposed for callers
// that own their own advertisement source.
func (s *Scanner) HandleAdvertisement(adv device.Advertisement) (Sighting, bool) {
	addr := strings.ToUpper(adv.Addr())
	if s.opts != nil && !s.allowed(addr) {
		return Sighting{}, false
	}

	profile, ok := Classify(adv.LocalName())
	if !ok {
		return Sighting{}, false
	}

	sighting := Sighting{
		Address:     addr,
		Name:        adv.LocalName(),
		Profile:     profile,
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		SeenAt:      s.now(),
	}

	event := Event{Sighting: sighting, Type: EventUpdated}
	if _, existing := s.devices.GetOrInsert(addr, sighting); existing {
		s.devices.Set(addr, sighting)
	} else {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  sighting.Name,
			"address": addr,
			"model":   profile.Model(),
			"rssi":    sighting.RSSI,
		}).Info("Discovered new device")
	}

	s.events.Send(event)
	return sighting, true
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	s.HandleAdvertisement(adv)
}

// allowed applies the allow and block lists
func (s *Scanner) allowed(addr string) bool {
	match := func(list []string) bool {
		return slices.ContainsFunc(list, func(a string) bool { return strings.EqualFold(a, addr) })
	}
	if match(s.opts.BlockList) {
		return false
	}
	return len(s.opts.AllowList) == 0 || match(s.opts.AllowList)
}

// Sightings returns the current sightings ordered by address.
func (s *Scanner) Sightings() []Sighting {
	out := make([]Sighting, 0, s.devices.Len())
	s.devices.Range(func(_ string, v Sighting) bool {
		out = append(out, v)
		return true
	})
	slices.SortFunc(out, func(a, b Sighting) int { return strings.Compare(a.Address, b.Address) })
	return out
}

// Events returns a read-only channel of device events. It is closed when
// Scan returns; slow readers lose the oldest events.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}
