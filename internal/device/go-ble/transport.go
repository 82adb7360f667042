// Package goble implements device.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
)

// GATTClient is the subset of ble.Client the adapter drives.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// Dialer is the subset of ble.Device used in central role.
type Dialer interface {
	Dial(ctx context.Context, addr ble.Addr) (GATTClient, error)
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory opens the platform BLE stack. Tests replace it.
var DeviceFactory = func() (Dialer, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return WrapDevice(dev), nil
}

type bleDialer struct {
	dev ble.Device
}

// WrapDevice adapts a ble.Device to Dialer.
func WrapDevice(dev ble.Device) Dialer {
	return &bleDialer{dev: dev}
}

func (d *bleDialer) Dial(ctx context.Context, addr ble.Addr) (GATTClient, error) {
	client, err := d.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (d *bleDialer) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return d.dev.Scan(ctx, allowDup, h)
}

// Transport connects to peripherals through a single, lazily opened
// platform device shared by every channel.
type Transport struct {
	logger *logrus.Logger

	mu     sync.Mutex
	dialer Dialer
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a go-ble transport. The HCI or CoreBluetooth device is
// opened on first Connect.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (Dialer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dialer != nil {
		return t.dialer, nil
	}
	d, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	t.dialer = d
	return d, nil
}

// Connect dials address, retrying with exponential backoff, and discovers its
// GATT profile.
func (t *Transport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Channel, error) {
	if opts == nil {
		opts = device.DefaultConnectOptions()
	}

	dialer, err := t.device()
	if err != nil {
		return nil, err
	}

	logger := t.logger.WithField("address", address)

	return device.ConnectWithRetry(ctx, address, opts, logger, func(ctx context.Context) (device.Channel, error) {
		client, err := dialer.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			return nil, NormalizeError(err)
		}

		ch, err := newChannel(address, client, !opts.UseServiceCache, t.logger)
		if err != nil {
			_ = client.CancelConnection()
			return nil, err
		}

		logger.WithField("characteristics", len(ch.chars)).Debug("Connected")
		return ch, nil
	})
}

// Scanner returns a device.ScanningDevice sharing this transport's platform
// device.
func (t *Transport) Scanner() (device.ScanningDevice, error) {
	d, err := t.device()
	if err != nil {
		return nil, err
	}
	return &bleScanner{dev: d}, nil
}
