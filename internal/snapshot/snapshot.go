package snapshot

import (
	"sort"
	"time"
)

// Reading is one decoded sensor value.
type Reading struct {
	Value     float64   `json:"value" yaml:"value"`
	Unit      string    `json:"unit" yaml:"unit"`
	Class     string    `json:"class" yaml:"class"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// DeviceInfo is the static metadata of a device.
type DeviceInfo struct {
	Address         string `json:"address" yaml:"address"`
	Name            string `json:"name,omitempty" yaml:"name,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty" yaml:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
}

// Snapshot is the latest known state of one device.
type Snapshot struct {
	Info      DeviceInfo         `json:"info" yaml:"info"`
	Readings  map[string]Reading `json:"readings" yaml:"readings"`
	Available bool               `json:"available" yaml:"available"`
	Seq       uint64             `json:"seq" yaml:"seq"` // increases on every change
	UpdatedAt time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Readings = make(map[string]Reading, len(s.Readings))
	for k, v := range s.Readings {
		out.Readings[k] = v
	}
	return out
}

// Get returns the reading for key.
func (s Snapshot) Get(key string) (Reading, bool) {
	r, ok := s.Readings[key]
	return r, ok
}

// Value returns the value for key, or 0 and false if absent.
func (s Snapshot) Value(key string) (float64, bool) {
	r, ok := s.Readings[key]
	return r.Value, ok
}

// Keys returns the reading keys in lexical order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Readings))
	for k := range s.Readings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Kind tells listeners what changed.
type Kind int

const (
	KindMerge Kind = iota
	KindReplace
	KindInfo
	KindAvailability
)

func (k Kind) String() string {
	switch k {
	case KindMerge:
		return "merge"
	case KindReplace:
		return "replace"
	case KindInfo:
		return "info"
	case KindAvailability:
		return "availability"
	default:
		return "unknown"
	}
}

// Update is delivered to listeners after every change.
type Update struct {
	DeviceID string
	Kind     Kind
	Keys     []string // keys written by this change
	Snapshot Snapshot // copy taken right after the change
}
