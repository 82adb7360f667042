package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/igrill/internal/device"
)

// bleScanner adapts a Dialer to device.ScanningDevice
type bleScanner struct {
	dev Dialer
}

// Scan converts each ble.Advertisement to a device.Advertisement before
// handing it to handler.
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	return NormalizeError(err)
}

// NewScanner creates a device.ScanningDevice backed by the platform BLE stack.
func NewScanner() (device.ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
