package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/connection"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/snapshot"
)

// Options configures a Coordinator.
type Options struct {
	Mode Mode
	// Interval is the NeedsPoll timeout.
	Interval time.Duration
	// OperationTimeout bounds one whole poll cycle.
	OperationTimeout time.Duration
	// OnError receives failures that have no caller to return to, such as
	// undecodable notifications.
	OnError func(err error)
}

func (o *Options) withDefaults() Options {
	out := Options{Mode: ModeNotify, Interval: DefaultInterval, OperationTimeout: 30 * time.Second}
	if o == nil {
		return out
	}
	out.Mode = o.Mode
	out.OnError = o.OnError
	if o.Interval > 0 {
		out.Interval = o.Interval
	}
	if o.OperationTimeout > 0 {
		out.OperationTimeout = o.OperationTimeout
	}
	return out
}

// Coordinator drives poll cycles and notifications for one device.
//
// Poll, SetLED and Close are serialized per device. Notifications arrive on
// transport goroutines and only merge into the snapshot store, which
// serializes writes per device on its own.
type Coordinator struct {
	address string
	profile igrill.Profile
	chars   igrill.CharacteristicMap
	conn    *connection.Manager
	store   *snapshot.Store
	opts    Options
	logger  *logrus.Logger
	now     func() time.Time

	pollMu sync.Mutex

	stateMu sync.Mutex
	state   PollState
	info    snapshot.DeviceInfo

	// Notifications arriving before a cycle commits are staged, not merged.
	notifyMu sync.Mutex
	live     bool
	staged   map[string]snapshot.Reading

	closed         atomic.Bool
	ctx            context.Context
	cancel         context.CancelCauseFunc
	removeLinkLost func()
}

// New creates a coordinator for the device behind conn and adds the device
// to store with the metadata its profile implies.
func New(profile igrill.Profile, conn *connection.Manager, store *snapshot.Store, opts *Options, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Coordinator{
		address: conn.Address(),
		profile: profile,
		chars:   igrill.CharacteristicsFor(profile),
		conn:    conn,
		store:   store,
		opts:    opts.withDefaults(),
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.removeLinkLost = conn.OnLinkLost(c.onLinkLost)
	store.Add(c.address, snapshot.DeviceInfo{
		Address:      c.address,
		Name:         profile.DisplayName(),
		Manufacturer: igrill.Manufacturer,
		Model:        profile.DisplayName(),
	})
	return c
}

func (c *Coordinator) Address() string { return c.address }
func (c *Coordinator) Mode() Mode      { return c.opts.Mode }

// Profile returns the device profile including discovered ambient support.
func (c *Coordinator) Profile() igrill.Profile {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.profile.WithAmbientTemp(c.state.HasAmbient)
}

// State returns a copy of the poll bookkeeping.
func (c *Coordinator) State() PollState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// NeedsPoll reports whether a poll is due at now. Failed attempts count, so
// an unreachable device is retried once per interval rather than on every
// sighting.
func (c *Coordinator) NeedsPoll(now time.Time) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.opts.Mode == ModeNotify && c.state.Subscribed && c.conn.Handle().Authenticated() {
		return false
	}
	return NeedsPoll(c.state.LastAttempt, now, c.opts.Interval)
}

// Available reports whether readings are live: the link is up in notify
// mode, or the last poll succeeded in active mode.
func (c *Coordinator) Available() bool {
	if c.closed.Load() {
		return false
	}
	st := c.State()
	if c.opts.Mode == ModeNotify {
		return st.Subscribed && c.conn.Handle().Authenticated()
	}
	return !st.LastPoll.IsZero() && st.LastError == nil
}

// pollContext derives a context cancelled by ctx, by Close, and by the
// operation timeout.
func (c *Coordinator) pollContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Poll runs one cycle: connect and authenticate if needed, fetch static info
// once, read every characteristic of the profile and replace the snapshot.
// In notify mode the first successful cycle subscribes and later calls only
// refresh the poll timestamp while the link stays up.
//
// On failure the previous snapshot is kept, the link is dropped and a
// *PollError is returned.
func (c *Coordinator) Poll(ctx context.Context) (snapshot.Snapshot, error) {
	if c.closed.Load() {
		return snapshot.Snapshot{}, ErrClosed
	}
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.closed.Load() {
		return snapshot.Snapshot{}, ErrClosed
	}

	ctx, cancel := c.pollContext(ctx)
	defer cancel()

	now := c.now()
	log := c.logger.WithFields(logrus.Fields{"address": c.address, "model": c.profile.Model()})

	c.stateMu.Lock()
	c.state.LastAttempt = now
	c.state.Polls++
	fastPath := c.opts.Mode == ModeNotify && c.state.Subscribed && c.conn.Handle().Authenticated()
	if fastPath {
		c.state.LastPoll = now
	}
	c.stateMu.Unlock()

	if fastPath {
		log.Debug("Subscribed and connected, nothing to poll")
		snap, _ := c.store.Snapshot(c.address)
		return snap, nil
	}

	h, err := c.conn.Connect(ctx)
	if err != nil {
		return snapshot.Snapshot{}, c.fail(ctx, StageConnect, err)
	}
	ch := h.Channel()
	if ch == nil {
		return snapshot.Snapshot{}, c.fail(ctx, StageConnect, device.ErrLinkLost)
	}
	c.setState(func(s *PollState) { s.Authenticated = true })

	if err := c.fetchStaticInfo(ctx, ch); err != nil {
		return snapshot.Snapshot{}, c.fail(ctx, StageStaticInfo, err)
	}

	hasAmbient := ch.HasCharacteristic(c.chars.UUID(igrill.CapAmbientTemperature))
	c.setState(func(s *PollState) { s.HasAmbient = hasAmbient })
	profile := c.profile.WithAmbientTemp(hasAmbient)

	readings, err := c.readAll(ctx, ch, profile)
	if err == nil {
		err = device.ContextError(ctx)
	}
	if err != nil {
		return snapshot.Snapshot{}, c.fail(ctx, StageRead, err)
	}

	// Subscribe before publishing so a failed subscription leaves the
	// previous snapshot in place.
	if c.opts.Mode == ModeNotify {
		c.stageNotifications()
		if err := c.subscribe(ctx, ch, profile); err != nil {
			return snapshot.Snapshot{}, c.fail(ctx, StageSubscribe, err)
		}
	}

	c.stateMu.Lock()
	info := c.info
	c.stateMu.Unlock()
	snap := c.store.Replace(c.address, snapshot.Snapshot{Info: info, Readings: readings, Available: true})

	switch c.opts.Mode {
	case ModeActive:
		if err := c.conn.Disconnect(); err != nil {
			log.WithError(err).Debug("Disconnect after poll")
		}
		c.setState(func(s *PollState) { s.Authenticated = false })
	case ModeNotify:
		if staged := c.goLive(); len(staged) > 0 {
			snap = c.store.Merge(c.address, staged)
		}
		c.setState(func(s *PollState) { s.Subscribed = true })
	}

	c.setState(func(s *PollState) {
		s.LastPoll = now
		s.LastError = nil
	})
	log.WithField("readings", len(readings)).Debug("Poll complete")
	return snap, nil
}

// stageNotifications holds back notification merges until goLive.
func (c *Coordinator) stageNotifications() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.live = false
	c.staged = nil
}

// goLive lets notifications merge directly again and returns the readings
// staged meanwhile.
func (c *Coordinator) goLive() map[string]snapshot.Reading {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	staged := c.staged
	c.staged = nil
	c.live = true
	return staged
}

// PollIfDue polls when NeedsPoll reports a poll is due. It reports whether
// a poll ran.
func (c *Coordinator) PollIfDue(ctx context.Context) (bool, error) {
	if !c.NeedsPoll(c.now()) {
		return false, nil
	}
	_, err := c.Poll(ctx)
	return true, err
}

// SetLED switches the knob light of models that have one.
func (c *Coordinator) SetLED(ctx context.Context, on bool) error {
	if !c.profile.HasLEDKnob() {
		return fmt.Errorf("%s has no LED knob: %w", c.profile.DisplayName(), device.ErrUnsupported)
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	ctx, cancel := c.pollContext(ctx)
	defer cancel()

	h, err := c.conn.Connect(ctx)
	if err != nil {
		return c.fail(ctx, StageConnect, err)
	}
	ch := h.Channel()
	if ch == nil {
		return c.fail(ctx, StageConnect, device.ErrLinkLost)
	}
	if err := ch.WriteCharacteristic(ctx, c.chars.UUID(igrill.CapLEDKnobToggle), igrill.EncodeLEDToggle(on), true); err != nil {
		return c.fail(ctx, StageWrite, err)
	}
	if c.opts.Mode == ModeActive {
		_ = c.conn.Disconnect()
	}
	c.logger.WithFields(logrus.Fields{"address": c.address, "on": on}).Info("LED knob toggled")
	return nil
}

// Close cancels any in-flight poll, disconnects, and removes the snapshot
// and all of its listeners. Safe to call more than once.
func (c *Coordinator) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel(ErrClosed)
	c.removeLinkLost()

	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	err := c.conn.Disconnect()
	c.setState(func(s *PollState) {
		s.Authenticated = false
		s.Subscribed = false
	})
	c.store.Remove(c.address)
	c.logger.WithField("address", c.address).Debug("Coordinator closed")
	return err
}

func (c *Coordinator) setState(fn func(s *PollState)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	fn(&c.state)
}

func (c *Coordinator) fail(ctx context.Context, stage Stage, err error) error {
	if c.closed.Load() || errors.Is(context.Cause(ctx), ErrClosed) {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	perr := &PollError{Address: c.address, Stage: stage, Err: err}

	c.setState(func(s *PollState) {
		s.Authenticated = false
		s.Subscribed = false
		s.LastError = perr
		s.Failures++
	})
	if derr := c.conn.Disconnect(); derr != nil {
		c.logger.WithError(derr).WithField("address", c.address).Debug("Disconnect after failed poll")
	}
	if !c.closed.Load() {
		if snap, ok := c.store.Snapshot(c.address); ok && snap.Available {
			c.store.SetAvailable(c.address, false)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"address": c.address,
		"stage":   string(stage),
		"error":   err,
	}).Warn("Poll failed, keeping previous readings")
	return perr
}

func (c *Coordinator) fetchStaticInfo(ctx context.Context, ch device.Channel) error {
	c.stateMu.Lock()
	done := c.state.RetrievedStaticInfo
	c.stateMu.Unlock()
	if done {
		return nil
	}

	payload, err := ch.ReadCharacteristic(ctx, c.chars.UUID(igrill.CapFirmwareVersion))
	if err != nil {
		return fmt.Errorf("read firmware version: %w", err)
	}
	fw, err := igrill.DecodeFirmwareVersion(payload)
	if err != nil {
		return err
	}

	info := snapshot.DeviceInfo{
		Address:         c.address,
		Name:            c.profile.DisplayName(),
		Manufacturer:    igrill.Manufacturer,
		Model:           c.profile.DisplayName(),
		FirmwareVersion: fw,
	}
	c.setState(func(s *PollState) { s.RetrievedStaticInfo = true })
	c.stateMu.Lock()
	c.info = info
	c.stateMu.Unlock()
	c.store.SetInfo(c.address, info)
	return nil
}

// Info returns the cached static device info.
func (c *Coordinator) Info() snapshot.DeviceInfo {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.info
}
