package goble

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/groutine"
)

// linkWatcher is implemented by ble.Client on every supported platform.
type linkWatcher interface {
	Disconnected() <-chan struct{}
}

// bonder is implemented by clients whose stack exposes explicit bonding.
type bonder interface {
	Pair(ctx context.Context, level device.PairingLevel) error
}

// channel is a device.Channel over one go-ble client connection.
type channel struct {
	address string
	client  GATTClient
	chars   map[string]*ble.Characteristic
	logger  *logrus.Entry

	// go-ble serializes ATT requests internally but not the
	// request/response pairing across goroutines.
	gattMu sync.Mutex

	down      chan struct{}
	downOnce  sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
}

var _ device.Channel = (*channel)(nil)

func newChannel(address string, client GATTClient, forceDiscovery bool, logger *logrus.Logger) (*channel, error) {
	profile, err := client.DiscoverProfile(forceDiscovery)
	if err != nil {
		return nil, fmt.Errorf("profile discovery failed: %w", NormalizeError(err))
	}

	ch := &channel{
		address: address,
		client:  client,
		chars:   make(map[string]*ble.Characteristic),
		logger:  logger.WithField("address", address),
		down:    make(chan struct{}),
	}

	if profile != nil {
		for _, svc := range profile.Services {
			for _, c := range svc.Characteristics {
				ch.chars[device.NormalizeUUID(c.UUID.String())] = c
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	if w, ok := client.(linkWatcher); ok {
		groutine.Go(ctx, "goble-link-"+address, func(ctx context.Context) {
			select {
			case <-w.Disconnected():
				ch.logger.Debug("Link dropped")
				ch.markDown()
			case <-ctx.Done():
			}
		})
	}

	return ch, nil
}

func (c *channel) Address() string {
	return c.address
}

func (c *channel) characteristic(uuid string) (*ble.Characteristic, error) {
	char, ok := c.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUID: uuid, Address: c.address}
	}
	return char, nil
}

// do runs a blocking GATT call, returning early when ctx finishes. An
// abandoned call keeps the GATT lock until go-ble returns.
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
		return NormalizeError(err)
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
		var rerr error
		data, rerr = c.client.ReadCharacteristic(char)
		return rerr
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
		return c.client.WriteCharacteristic(char, payload, !withResponse)
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
		return c.client.Subscribe(char, false, func(req []byte) {
			handler(slices.Clone(req))
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", device.ShortenUUID(uuid), err)
	}
	return nil
}

// Pair requests bonding when the client supports it. CoreBluetooth and the
// HCI stack bond implicitly on first access to an encrypted attribute.
// Upstream go-ble clients expose no bonding call, so on this transport a
// pairing failure surfaces as a read or write error, not ErrPairingFailed.
func (c *channel) Pair(ctx context.Context, level device.PairingLevel) error {
	b, ok := c.client.(bonder)
	if !ok {
		c.logger.WithField("level", level).Debug("Pairing delegated to the OS stack")
		return nil
	}
	if err := b.Pair(ctx, level); err != nil {
		return fmt.Errorf("%w: %v", device.ErrPairingFailed, err)
	}
	return nil
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
		c.cancel()
	})
}

func (c *channel) Disconnect() error {
	c.markDown()

	var err error
	c.closeOnce.Do(func() {
		if cerr := c.client.CancelConnection(); cerr != nil {
			c.logger.WithError(cerr).Debug("Cancel connection failed")
			err = NormalizeError(cerr)
		}
	})
	return err
}
