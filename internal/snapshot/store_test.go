package snapshot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

const dev = "AA:BB:CC:DD:EE:FF"

type StoreTestSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	s.store = NewStore(logger)
	s.store.Add(dev, DeviceInfo{})
}

func temp(v float64) Reading {
	return Reading{Value: v, Unit: "°C", Class: "temperature"}
}

func (s *StoreTestSuite) seed() {
	s.store.Replace(dev, Snapshot{
		Info: DeviceInfo{Manufacturer: "Weber", Model: "iGrill V2"},
		Readings: map[string]Reading{
			"probe_1": temp(20),
			"probe_2": temp(30),
			"battery": {Value: 90, Unit: "%", Class: "battery"},
		},
	})
}

func (s *StoreTestSuite) TestUpdateMergesSingleKey() {
	// GOAL: Verify a single-key update leaves every other reading untouched
	//
	// TEST SCENARIO: seed three readings → update probe_1 → only probe_1 changed

	s.seed()
	before, _ := s.store.Snapshot(dev)

	s.store.Update(dev, "probe_1", temp(64))

	after, ok := s.store.Snapshot(dev)
	s.Require().True(ok)
	s.Equal(64.0, after.Readings["probe_1"].Value)
	s.Equal(before.Readings["probe_2"], after.Readings["probe_2"], "probe_2 MUST be unchanged")
	s.Equal(before.Readings["battery"], after.Readings["battery"], "battery MUST be unchanged")
	s.Equal(before.Info, after.Info)
	s.Equal(before.Seq+1, after.Seq)
}

func (s *StoreTestSuite) TestReplaceIsAtomicBulkSwap() {
	s.seed()

	s.store.Replace(dev, Snapshot{Readings: map[string]Reading{"probe_1": temp(1)}})

	snap, _ := s.store.Snapshot(dev)
	s.Equal([]string{"probe_1"}, snap.Keys(), "replace MUST drop keys absent from the new snapshot")
	s.Equal(dev, snap.Info.Address, "address MUST default to the device id")
}

func (s *StoreTestSuite) TestGet() {
	_, ok := s.store.Get(dev, "probe_1")
	s.False(ok, "unknown device MUST be absent")

	s.seed()
	r, ok := s.store.Get(dev, "probe_2")
	s.True(ok)
	s.Equal(30.0, r.Value)
	s.False(r.UpdatedAt.IsZero(), "store MUST stamp readings")

	_, ok = s.store.Get(dev, "propane_percentage")
	s.False(ok)
}

func (s *StoreTestSuite) TestSnapshotIsACopy() {
	s.seed()
	snap, _ := s.store.Snapshot(dev)
	snap.Readings["probe_1"] = temp(999)

	again, _ := s.store.Snapshot(dev)
	s.Equal(20.0, again.Readings["probe_1"].Value, "callers MUST NOT be able to mutate the store")
}

func (s *StoreTestSuite) TestListenersReceiveEveryChange() {
	var mu sync.Mutex
	var kinds []Kind
	var keys [][]string
	s.store.Subscribe(dev, func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, u.Kind)
		keys = append(keys, u.Keys)
	})
	s.store.Subscribe(dev, func(Update) {})

	s.seed()
	s.store.Update(dev, "probe_1", temp(50))
	s.store.SetAvailable(dev, true)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]Kind{KindReplace, KindMerge, KindAvailability}, kinds)
	s.Equal([]string{"probe_1"}, keys[1])
	s.Equal(2, s.store.ListenerCount(dev))
}

func (s *StoreTestSuite) TestUnsubscribeIdempotentAndReentrant() {
	// GOAL: Verify unsubscribe is safe twice and from inside the listener
	//
	// TEST SCENARIO: listener unsubscribes itself on first call → later updates not delivered

	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe = s.store.Subscribe(dev, func(Update) {
		calls.Add(1)
		unsubscribe()
		unsubscribe()
	})

	s.store.Update(dev, "probe_1", temp(1))
	s.store.Update(dev, "probe_1", temp(2))
	unsubscribe()

	s.Equal(int32(1), calls.Load(), "listener MUST stop receiving after unsubscribing")
	s.Equal(0, s.store.ListenerCount(dev))
}

func (s *StoreTestSuite) TestPanickingListenerDoesNotBreakOthers() {
	var got atomic.Int32
	s.store.Subscribe(dev, func(Update) { panic("listener bug") })
	s.store.Subscribe(dev, func(Update) { got.Add(1) })

	s.NotPanics(func() { s.store.Update(dev, "probe_1", temp(1)) })
	s.Equal(int32(1), got.Load())
}

func (s *StoreTestSuite) TestRemoveDropsListeners() {
	var calls atomic.Int32
	s.store.Subscribe(dev, func(Update) { calls.Add(1) })
	s.seed()

	s.store.Remove(dev)
	_, ok := s.store.Snapshot(dev)
	s.False(ok)
	s.Equal(0, s.store.ListenerCount(dev))

	s.store.Update(dev, "probe_1", temp(5))
	s.Equal(int32(1), calls.Load(), "removed listeners MUST NOT fire")
	s.store.Remove("never-seen")
}

func (s *StoreTestSuite) TestWritesAfterRemoveDoNotResurrect() {
	// GOAL: Verify a late write for a removed device does not bring its entry back
	//
	// TEST SCENARIO: seed, remove → late Merge, SetAvailable and Update → no snapshot, no device, empty results

	s.seed()
	s.store.Remove(dev)

	s.Zero(s.store.Merge(dev, map[string]Reading{"probe_1": temp(99)}).Seq)
	s.store.SetAvailable(dev, false)
	s.store.Update(dev, "battery", Reading{Value: 50, Unit: "%"})

	_, ok := s.store.Snapshot(dev)
	s.False(ok, "late writes MUST NOT recreate a removed device")
	s.Empty(s.store.Devices())
	s.Zero(s.store.ListenerCount(dev))

	s.True(s.store.Add(dev, DeviceInfo{Model: "iGrill V2"}), "a removed device MUST be addable again")
	snap, ok := s.store.Snapshot(dev)
	s.Require().True(ok)
	s.Equal(dev, snap.Info.Address)
	s.Empty(snap.Readings)
}

func (s *StoreTestSuite) TestAddIsIdempotent() {
	s.False(s.store.Add(dev, DeviceInfo{Model: "other"}))
	snap, _ := s.store.Snapshot(dev)
	s.Empty(snap.Info.Model, "Add MUST NOT overwrite a known device")
	s.store.Update("unknown", "probe_1", temp(1))
	_, ok := s.store.Snapshot("unknown")
	s.False(ok)
}

func (s *StoreTestSuite) TestConcurrentMergesAreSerialized() {
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.store.Update(dev, writerKey(w), temp(float64(i)))
			}
		}(w)
	}
	wg.Wait()

	snap, _ := s.store.Snapshot(dev)
	s.Equal(uint64(writers*perWriter), snap.Seq, "every merge MUST be counted exactly once")
	s.Len(snap.Readings, writers)
}

func writerKey(i int) string {
	return "key_" + string(rune('a'+i))
}

func (s *StoreTestSuite) TestWatchFeed() {
	s.store.Add("11:22:33:44:55:66", DeviceInfo{})
	feed, stop := s.store.Watch(2)

	s.store.Update(dev, "probe_1", temp(1))
	s.store.Update("11:22:33:44:55:66", "probe_1", temp(2))
	s.store.Update(dev, "probe_1", temp(3))
	stop()
	stop()

	var got []float64
	for u := range feed {
		got = append(got, u.Snapshot.Readings["probe_1"].Value)
	}
	s.Equal([]float64{2, 3}, got, "slow watchers MUST lose the oldest updates")
}

func (s *StoreTestSuite) TestDevices() {
	s.store.Add("b", DeviceInfo{})
	s.store.Add("a", DeviceInfo{})
	s.Equal([]string{dev, "a", "b"}, s.store.Devices())
}

func (s *StoreTestSuite) TestTimestampsFromClock() {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return fixed }

	snap := s.store.Update(dev, "probe_1", temp(1))
	s.Equal(fixed, snap.UpdatedAt)
	s.Equal(fixed, snap.Readings["probe_1"].UpdatedAt)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
