package poller

import (
	"context"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/connection"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/snapshot"
)

// source ties a characteristic to the readings it produces.
type source struct {
	capability igrill.Capability
	decode     func([]byte) (map[string]float64, error)
}

func temperatureSource(c igrill.Capability, key string) source {
	return source{capability: c, decode: func(b []byte) (map[string]float64, error) {
		v, err := igrill.DecodeTemperature(b)
		if err != nil {
			return nil, err
		}
		return map[string]float64{key: v}, nil
	}}
}

func heatingSource() source {
	return source{capability: igrill.CapHeatingElements, decode: func(b []byte) (map[string]float64, error) {
		h, err := igrill.DecodeHeatingElements(b)
		if err != nil {
			return nil, err
		}
		vals := h.Values()
		out := make(map[string]float64, len(vals))
		for i, k := range igrill.HeatingKeys {
			out[k] = vals[i]
		}
		return out, nil
	}}
}

func percentSource(c igrill.Capability, key string, decode func([]byte) (float64, error)) source {
	return source{capability: c, decode: func(b []byte) (map[string]float64, error) {
		v, err := decode(b)
		if err != nil {
			return nil, err
		}
		return map[string]float64{key: v}, nil
	}}
}

// sourcesFor lists every readable source of p in display order.
func sourcesFor(p igrill.Profile) []source {
	out := make([]source, 0, p.ProbeCount()+4)
	for i := 1; i <= p.ProbeCount(); i++ {
		out = append(out, temperatureSource(igrill.ProbeTemperature(i), igrill.ProbeKey(i)))
	}
	if p.HasAmbientTemp() {
		out = append(out, temperatureSource(igrill.CapAmbientTemperature, igrill.KeyAmbientTemp))
	}
	if p.HasHeatingElement() {
		out = append(out, heatingSource())
	}
	if p.HasBattery() {
		out = append(out, percentSource(igrill.CapBatteryLevel, igrill.KeyBattery, igrill.DecodeBattery))
	}
	if p.HasPropane() {
		out = append(out, percentSource(igrill.CapPropaneLevel, igrill.KeyPropane, igrill.DecodePropane))
	}
	return out
}

func (c *Coordinator) toReadings(vals map[string]float64) map[string]snapshot.Reading {
	now := c.now()
	out := make(map[string]snapshot.Reading, len(vals))
	for k, v := range vals {
		unit, class := igrill.UnitFor(k)
		out[k] = snapshot.Reading{Value: v, Unit: unit, Class: class, UpdatedAt: now}
	}
	return out
}

// readAll reads and decodes every source. The first failure aborts.
func (c *Coordinator) readAll(ctx context.Context, ch device.Channel, p igrill.Profile) (map[string]snapshot.Reading, error) {
	all := make(map[string]float64, len(igrill.ReadingKeys(p)))
	for _, src := range sourcesFor(p) {
		uuid := c.chars.UUID(src.capability)
		payload, err := ch.ReadCharacteristic(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.capability, err)
		}
		vals, err := src.decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", src.capability, err)
		}
		c.logger.WithFields(logrus.Fields{
			"address":   c.address,
			"char_uuid": uuid,
		}).Tracef("Read %v", vals)
		for k, v := range vals {
			all[k] = v
		}
	}
	return c.toReadings(all), nil
}

// subscribe registers a notification handler for every source.
func (c *Coordinator) subscribe(ctx context.Context, ch device.Channel, p igrill.Profile) error {
	for _, src := range sourcesFor(p) {
		uuid := c.chars.UUID(src.capability)
		if err := ch.StartNotify(ctx, uuid, c.notificationHandler(src)); err != nil {
			return fmt.Errorf("subscribe %s: %w", src.capability, err)
		}
	}
	return nil
}

// notificationHandler decodes a pushed value and merges it into the snapshot
// without touching the link.
func (c *Coordinator) notificationHandler(src source) func([]byte) {
	return func(data []byte) {
		if c.closed.Load() {
			return
		}
		vals, err := src.decode(data)
		if err != nil {
			perr := &PollError{Address: c.address, Stage: StageNotify, Err: fmt.Errorf("decode %s: %w", src.capability, err)}
			c.logger.WithFields(logrus.Fields{
				"address": c.address,
				"error":   err,
			}).Warn("Dropping undecodable notification")
			if c.opts.OnError != nil {
				c.opts.OnError(perr)
			}
			return
		}
		readings := c.toReadings(vals)

		c.notifyMu.Lock()
		if !c.live {
			if c.staged == nil {
				c.staged = make(map[string]snapshot.Reading, len(readings))
			}
			maps.Copy(c.staged, readings)
			c.notifyMu.Unlock()
			return
		}
		c.notifyMu.Unlock()

		c.store.Merge(c.address, readings)
	}
}

// onLinkLost resets the subscription and tells listeners the device is gone.
func (c *Coordinator) onLinkLost(*connection.Handle) {
	c.setState(func(s *PollState) {
		s.Authenticated = false
		s.Subscribed = false
	})
	if c.closed.Load() {
		return
	}
	c.store.SetAvailable(c.address, false)
}
