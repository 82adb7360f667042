package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsPoll(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, NeedsPoll(time.Time{}, now, 10*time.Second), "never polled MUST need a poll")
	assert.False(t, NeedsPoll(now.Add(-5*time.Second), now, 10*time.Second))
	assert.False(t, NeedsPoll(now.Add(-10*time.Second), now, 10*time.Second), "exactly the timeout is not yet due")
	assert.True(t, NeedsPoll(now.Add(-11*time.Second), now, 10*time.Second))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeNotify, "notify": ModeNotify, "ACTIVE": ModeActive, "poll": ModeActive} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "active", ModeActive.String())
}

func TestPollError(t *testing.T) {
	cause := errors.New("boom")
	err := &PollError{Address: "AA", Stage: StageRead, Err: cause}
	assert.Equal(t, "AA: read failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}
