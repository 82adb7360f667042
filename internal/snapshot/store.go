package snapshot

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/ringchan"
)

// Listener receives snapshot updates for one device.
type Listener func(Update)

type listener struct {
	fn     Listener
	active atomic.Bool
}

type entry struct {
	mu        sync.Mutex
	snap      Snapshot
	listeners map[uint64]*listener
	removed   bool
}

// Store holds the latest snapshot per device and notifies subscribers.
//
// Writes for one device are serialized; listeners run on the writer's
// goroutine after the lock is released, so they may call back into the
// store, including unsubscribing themselves.
type Store struct {
	entries *hashmap.Map[string, *entry]
	logger  *logrus.Logger
	nextID  atomic.Uint64
	now     func() time.Time

	watchMu  sync.RWMutex
	watchers map[uint64]*ringchan.Ring[Update]
}

// NewStore creates an empty store.
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		entries:  hashmap.New[string, *entry](),
		logger:   logger,
		now:      time.Now,
		watchers: make(map[uint64]*ringchan.Ring[Update]),
	}
}

func newEntry(info DeviceInfo) *entry {
	return &entry{
		snap:      Snapshot{Info: info, Readings: map[string]Reading{}},
		listeners: make(map[uint64]*listener),
	}
}

func (s *Store) entry(id string) *entry {
	e, ok := s.entries.Get(id)
	if ok {
		return e
	}
	e, _ = s.entries.GetOrInsert(id, newEntry(DeviceInfo{Address: id}))
	return e
}

// Add creates the entry for device id with its initial metadata. It returns
// false and leaves the entry alone if the device is already known. Writes
// to a device that was never added, or was removed, are dropped.
func (s *Store) Add(id string, info DeviceInfo) bool {
	if info.Address == "" {
		info.Address = id
	}
	_, loaded := s.entries.GetOrInsert(id, newEntry(info))
	return !loaded
}

// mutate applies fn under the entry lock and then fans the update out.
func (s *Store) mutate(id string, kind Kind, fn func(snap *Snapshot) []string) Snapshot {
	e, ok := s.entries.Get(id)
	if !ok {
		return Snapshot{}
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return Snapshot{}
	}
	keys := fn(&e.snap)
	e.snap.Seq++
	e.snap.UpdatedAt = s.now()
	out := e.snap.Clone()
	targets := make([]*listener, 0, len(e.listeners))
	ids := make([]uint64, 0, len(e.listeners))
	for lid := range e.listeners {
		ids = append(ids, lid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, lid := range ids {
		targets = append(targets, e.listeners[lid])
	}
	e.mu.Unlock()

	u := Update{DeviceID: id, Kind: kind, Keys: keys, Snapshot: out}
	for _, l := range targets {
		if l.active.Load() {
			s.deliver(id, l, u)
		}
	}
	s.broadcast(u)
	return out
}

func (s *Store) deliver(id string, l *listener, u Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{"address": id, "panic": r}).Error("Snapshot listener panicked")
		}
	}()
	l.fn(u.clone())
}

func (u Update) clone() Update {
	u.Snapshot = u.Snapshot.Clone()
	u.Keys = append([]string(nil), u.Keys...)
	return u
}

// Update merges a single reading into the device snapshot.
func (s *Store) Update(id, key string, r Reading) Snapshot {
	return s.Merge(id, map[string]Reading{key: r})
}

// Merge merges several readings in one change. Keys not in readings keep
// their previous values.
func (s *Store) Merge(id string, readings map[string]Reading) Snapshot {
	return s.mutate(id, KindMerge, func(snap *Snapshot) []string {
		keys := make([]string, 0, len(readings))
		for k, r := range readings {
			if r.UpdatedAt.IsZero() {
				r.UpdatedAt = s.now()
			}
			snap.Readings[k] = r
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	})
}

// Replace atomically swaps the readings and info of a device. Availability
// and sequence are owned by the store and carried over.
func (s *Store) Replace(id string, next Snapshot) Snapshot {
	return s.mutate(id, KindReplace, func(snap *Snapshot) []string {
		readings := make(map[string]Reading, len(next.Readings))
		keys := make([]string, 0, len(next.Readings))
		for k, r := range next.Readings {
			if r.UpdatedAt.IsZero() {
				r.UpdatedAt = s.now()
			}
			readings[k] = r
			keys = append(keys, k)
		}
		sort.Strings(keys)

		info := next.Info
		if info.Address == "" {
			info.Address = id
		}
		snap.Info = info
		snap.Readings = readings
		snap.Available = next.Available
		return keys
	})
}

// SetInfo replaces the device metadata.
func (s *Store) SetInfo(id string, info DeviceInfo) Snapshot {
	return s.mutate(id, KindInfo, func(snap *Snapshot) []string {
		if info.Address == "" {
			info.Address = id
		}
		snap.Info = info
		return nil
	})
}

// SetAvailable records whether the device is reachable. Readings are untouched.
func (s *Store) SetAvailable(id string, available bool) Snapshot {
	return s.mutate(id, KindAvailability, func(snap *Snapshot) []string {
		snap.Available = available
		return nil
	})
}

// Get returns one reading.
func (s *Store) Get(id, key string) (Reading, bool) {
	e, ok := s.entries.Get(id)
	if !ok {
		return Reading{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.snap.Readings[key]
	return r, ok
}

// Snapshot returns a copy of the device snapshot.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	e, ok := s.entries.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Snapshot{}, false
	}
	return e.snap.Clone(), true
}

// Subscribe registers fn for updates of device id, adding the device if it
// is unknown. The returned function unsubscribes; it is idempotent and safe
// to call from within fn.
func (s *Store) Subscribe(id string, fn Listener) (unsubscribe func()) {
	e := s.entry(id)
	l := &listener{fn: fn}
	l.active.Store(true)
	lid := s.nextID.Add(1)

	e.mu.Lock()
	if !e.removed {
		e.listeners[lid] = l
	}
	e.mu.Unlock()

	return func() {
		if !l.active.Swap(false) {
			return
		}
		e.mu.Lock()
		delete(e.listeners, lid)
		e.mu.Unlock()
	}
}

// ListenerCount returns the number of active listeners for id.
func (s *Store) ListenerCount(id string) int {
	e, ok := s.entries.Get(id)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Remove drops the device snapshot and all of its listeners.
func (s *Store) Remove(id string) {
	e, ok := s.entries.Get(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	for lid, l := range e.listeners {
		l.active.Store(false)
		delete(e.listeners, lid)
	}
	e.mu.Unlock()
	s.entries.Del(id)
}

// Devices returns the ids of all known devices in lexical order.
func (s *Store) Devices() []string {
	ids := make([]string, 0, s.entries.Len())
	s.entries.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Watch returns a feed of updates for every device. Slow readers lose the
// oldest updates instead of blocking writers. Call stop to close the feed.
func (s *Store) Watch(capacity int) (feed <-chan Update, stop func()) {
	ring := ringchan.New[Update](capacity)
	wid := s.nextID.Add(1)

	s.watchMu.Lock()
	s.watchers[wid] = ring
	s.watchMu.Unlock()

	var once sync.Once
	return ring.C(), func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, wid)
			s.watchMu.Unlock()
			ring.Close()
		})
	}
}

func (s *Store) broadcast(u Update) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, ring := range s.watchers {
		if ring.Send(u.clone()) {
			s.logger.WithField("address", u.DeviceID).Debug("Watch feed full, dropped oldest update")
		}
	}
}
