package device

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError_Is(t *testing.T) {
	wrapped := fmt.Errorf("connect AA:BB: %w", &ConnectionError{State: PairingFailed, Msg: "rejected"})

	assert.True(t, errors.Is(wrapped, ErrPairingFailed), "wrapped pairing failure MUST match the sentinel")
	assert.False(t, errors.Is(wrapped, ErrConnectFailed), "states MUST NOT cross-match")
	assert.True(t, IsConnectionState(wrapped, PairingFailed))
	assert.Equal(t, "pairing_failed: rejected", (&ConnectionError{State: PairingFailed, Msg: "rejected"}).Error())
	assert.Equal(t, "link_lost", ErrLinkLost.Error())
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "characteristic", UUID: "2a19", Address: "AA:BB"}
	assert.Equal(t, `characteristic "2a19" not found on AA:BB`, err.Error())

	var nf *NotFoundError
	require.True(t, errors.As(fmt.Errorf("read: %w", err), &nf))
	assert.Equal(t, "2a19", nf.UUID)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg    string
		target error
	}{
		{"Bluetooth is turned off", ErrBluetoothOff},
		{"central manager powered off", ErrBluetoothOff},
		{"device not connected", ErrLinkLost},
		{"device already connected", ErrAlreadyConnected},
		{"operation timed out", ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.ErrorIs(t, NormalizeError(errors.New(tt.msg)), tt.target)
		})
	}

	other := errors.New("something else")
	assert.Same(t, other, NormalizeError(other), "unknown errors MUST pass through unchanged")
	assert.NoError(t, NormalizeError(nil))
}

func TestContextError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ContextError(ctx), ErrTimeout)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.ErrorIs(t, ContextError(ctx2), context.Canceled)
	assert.NotErrorIs(t, ContextError(ctx2), ErrTimeout)

	assert.NoError(t, ContextError(context.Background()))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrTimeout))
	assert.True(t, IsRecoverable(fmt.Errorf("x: %w", ErrLinkLost)))
	assert.False(t, IsRecoverable(fmt.Errorf("x: %w", ErrBluetoothOff)))
}

func TestBackoffDelay(t *testing.T) {
	const ms = time.Millisecond
	assert.Equal(t, 100*ms, BackoffDelay(0, 100*ms, 0))
	assert.Equal(t, 400*ms, BackoffDelay(2, 100*ms, 0))
	assert.Equal(t, 500*ms, BackoffDelay(5, 100*ms, 500*ms), "delay MUST be capped at max")
	assert.Equal(t, time.Duration(0), BackoffDelay(3, 0, 500*ms))
}

func TestPairingLevelString(t *testing.T) {
	assert.Equal(t, "medium", PairingMedium.String())
	assert.Equal(t, "unknown", PairingLevel(42).String())
}
