package testutils

import (
	"context"

	"github.com/srg/igrill/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockChannel is a testify mock of device.Channel.
type MockChannel struct {
	mock.Mock
}

var _ device.Channel = (*MockChannel)(nil)

func (m *MockChannel) Address() string {
	return m.Called().String(0)
}

func (m *MockChannel) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	args := m.Called(ctx, uuid)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockChannel) WriteCharacteristic(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	return m.Called(ctx, uuid, data, withResponse).Error(0)
}

func (m *MockChannel) StartNotify(ctx context.Context, uuid string, handler func(data []byte)) error {
	return m.Called(ctx, uuid, handler).Error(0)
}

func (m *MockChannel) Pair(ctx context.Context, level device.PairingLevel) error {
	return m.Called(ctx, level).Error(0)
}

func (m *MockChannel) Characteristics() []string {
	uuids, _ := m.Called().Get(0).([]string)
	return uuids
}

func (m *MockChannel) HasCharacteristic(uuid string) bool {
	return m.Called(uuid).Bool(0)
}

func (m *MockChannel) Disconnected() <-chan struct{} {
	ch, _ := m.Called().Get(0).(<-chan struct{})
	return ch
}

func (m *MockChannel) Disconnect() error {
	return m.Called().Error(0)
}

// MockTransport is a testify mock of device.Transport.
type MockTransport struct {
	mock.Mock
}

var _ device.Transport = (*MockTransport)(nil)

func (m *MockTransport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Channel, error) {
	args := m.Called(ctx, address, opts)
	ch, _ := args.Get(0).(device.Channel)
	return ch, args.Error(1)
}
