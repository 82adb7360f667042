package tinygo

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
)

// maxAttributeSize is the largest value an ATT attribute can hold.
const maxAttributeSize = 512

type channel struct {
	address string
	p       Peripheral
	chars   map[string]Characteristic
	logger  *logrus.Entry
	release func()

	gattMu sync.Mutex

	down      chan struct{}
	downOnce  sync.Once
	closeOnce sync.Once
}

var _ device.Channel = (*channel)(nil)

func newChannel(address string, p Peripheral, chars []Characteristic, logger *logrus.Entry, release func()) *channel {
	ch := &channel{
		address: address,
		p:       p,
		chars:   make(map[string]Characteristic, len(chars)),
		logger:  logger,
		release: release,
		down:    make(chan struct{}),
	}
	for _, c := range chars {
		ch.chars[device.NormalizeUUID(c.UUID())] = c
	}
	return ch
}

func (c *channel) Address() string {
	return c.address
}

func (c *channel) characteristic(uuid string) (Characteristic, error) {
	char, ok := c.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUID: uuid, Address: c.address}
	}
	return char, nil
}

// do runs a blocking adapter call, returning early when ctx finishes or the
// link drops.
func (c *channel) do(ctx context.Context, op func() error) error {
	select {
	case <-c.down:
		return device.ErrLinkLost
	default:
	}

	done := make(chan error, 1)
	go func() {
		c.gattMu.Lock()
		defer c.gattMu.Unlock()
		done <- op()
	}()

	select {
	case err := <-done:
		return device.NormalizeError(err)
	case <-ctx.Done():
		return device.ContextError(ctx)
	case <-c.down:
		return device.ErrLinkLost
	}
}

func (c *channel) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	char, err := c.characteristic(uuid)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.do(ctx, func() error {
		buf := make([]byte, maxAttributeSize)
		n, rerr := char.Read(buf)
		if rerr != nil {
			return rerr
		}
		data = buf[:n]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", device.ShortenUUID(uuid), err)
	}
	return data, nil
}

func (c *channel) WriteCharacteristic(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}

	payload := slices.Clone(data)
	err = c.do(ctx, func() error {
		var werr error
		if withResponse {
			_, werr = char.Write(payload)
		} else {
			_, werr = char.WriteWithoutResponse(payload)
		}
		return werr
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", device.ShortenUUID(uuid), err)
	}
	return nil
}

func (c *channel) StartNotify(ctx context.Context, uuid string, handler func(data []byte)) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}

	err = c.do(ctx, func() error {
		return char.EnableNotifications(func(buf []byte) {
			handler(slices.Clone(buf))
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", device.ShortenUUID(uuid), err)
	}
	return nil
}

// Pair is left to the BlueZ agent, which bonds on first encrypted access.
func (c *channel) Pair(ctx context.Context, level device.PairingLevel) error {
	c.logger.WithField("level", level).Debug("Pairing delegated to the OS stack")
	return device.ContextError(ctx)
}

func (c *channel) Characteristics() []string {
	out := make([]string, 0, len(c.chars))
	for uuid := range c.chars {
		out = append(out, uuid)
	}
	slices.Sort(out)
	return out
}

func (c *channel) HasCharacteristic(uuid string) bool {
	_, ok := c.chars[device.NormalizeUUID(uuid)]
	return ok
}

func (c *channel) Disconnected() <-chan struct{} {
	return c.down
}

func (c *channel) markDown() {
	c.downOnce.Do(func() {
		close(c.down)
		c.release()
	})
}

func (c *channel) Disconnect() error {
	c.markDown()

	var err error
	c.closeOnce.Do(func() {
		if derr := c.p.Disconnect(); derr != nil {
			c.logger.WithError(derr).Debug("Disconnect failed")
			err = device.NormalizeError(derr)
		}
	})
	return err
}
