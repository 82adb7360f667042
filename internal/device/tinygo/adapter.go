package tinygo

import (
	"encoding/binary"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Adapter is the subset of *bluetooth.Adapter the transport drives, with
// addresses and UUIDs flattened to strings.
type Adapter interface {
	Enable() error
	Connect(address string) (Peripheral, error)
	SetConnectHandler(handler func(address string, connected bool))
	Scan(handler func(ScanResult)) error
	StopScan() error
}

// Peripheral is a connected device.
type Peripheral interface {
	DiscoverCharacteristics() ([]Characteristic, error)
	Disconnect() error
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Read(buf []byte) (int, error)
	Write(p []byte) (int, error)
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

// ScanResult is one advertising report.
type ScanResult struct {
	Address          string
	LocalName        string
	RSSI             int
	ManufacturerData []byte
}

// AdapterFactory returns the adapter used by new transports. Tests replace it.
var AdapterFactory = func() Adapter {
	return &tinyAdapter{adapter: bluetooth.DefaultAdapter}
}

type tinyAdapter struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error
}

func (a *tinyAdapter) Enable() error {
	a.enableOnce.Do(func() {
		a.enableErr = a.adapter.Enable()
	})
	return a.enableErr
}

func (a *tinyAdapter) Connect(address string) (Peripheral, error) {
	var addr bluetooth.Address
	addr.Set(address)

	dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &tinyPeripheral{dev: dev}, nil
}

func (a *tinyAdapter) SetConnectHandler(handler func(address string, connected bool)) {
	a.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		handler(dev.Address.String(), connected)
	})
}

func (a *tinyAdapter) Scan(handler func(ScanResult)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		handler(ScanResult{
			Address:          r.Address.String(),
			LocalName:        r.LocalName(),
			RSSI:             int(r.RSSI),
			ManufacturerData: flattenManufacturerData(r.ManufacturerData()),
		})
	})
}

func (a *tinyAdapter) StopScan() error {
	return a.adapter.StopScan()
}

// flattenManufacturerData restores the AD structure layout: little-endian
// company ID followed by the payload.
func flattenManufacturerData(elems []bluetooth.ManufacturerDataElement) []byte {
	var out []byte
	for _, e := range elems {
		out = binary.LittleEndian.AppendUint16(out, e.CompanyID)
		out = append(out, e.Data...)
	}
	return out
}

type tinyPeripheral struct {
	dev bluetooth.Device
}

func (p *tinyPeripheral) DiscoverCharacteristics() ([]Characteristic, error) {
	services, err := p.dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}

	var out []Characteristic
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, err
		}
		for i := range chars {
			out = append(out, &tinyCharacteristic{char: chars[i]})
		}
	}
	return out, nil
}

func (p *tinyPeripheral) Disconnect() error {
	return p.dev.Disconnect()
}

type tinyCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyCharacteristic) UUID() string                 { return c.char.UUID().String() }
func (c *tinyCharacteristic) Read(buf []byte) (int, error) { return c.char.Read(buf) }

func (c *tinyCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}

func (c *tinyCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	return c.char.EnableNotifications(callback)
}
