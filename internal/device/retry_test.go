package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	Channel
}

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func fastOptions(retries int) *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout: 50 * time.Millisecond,
		Retries:        retries,
		RetryBackoff:   time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestConnectWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	ch, err := ConnectWithRetry(context.Background(), "AA", fastOptions(3), quietEntry(), func(ctx context.Context) (Channel, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("le-connection-abort-by-local")
		}
		return stubChannel{}, nil
	})

	require.NoError(t, err)
	assert.NotNil(t, ch)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := ConnectWithRetry(context.Background(), "AA", fastOptions(2), quietEntry(), func(ctx context.Context) (Channel, error) {
		calls++
		return nil, errors.New("no route")
	})

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), "no route", "last attempt's cause MUST be kept")
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_StopsOnUnrecoverable(t *testing.T) {
	calls := 0
	_, err := ConnectWithRetry(context.Background(), "AA", fastOptions(5), quietEntry(), func(ctx context.Context) (Channel, error) {
		calls++
		return nil, ErrBluetoothOff
	})

	assert.ErrorIs(t, err, ErrBluetoothOff)
	assert.Equal(t, 1, calls)
}

func TestConnectWithRetry_AttemptDeadline(t *testing.T) {
	calls := 0
	_, err := ConnectWithRetry(context.Background(), "AA", fastOptions(1), quietEntry(), func(ctx context.Context) (Channel, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, ErrTimeout, "per-attempt deadline MUST surface as ErrTimeout")
	assert.Equal(t, 2, calls)
}

func TestConnectWithRetry_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithRetry(ctx, "AA", fastOptions(3), quietEntry(), func(ctx context.Context) (Channel, error) {
		return nil, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
}
