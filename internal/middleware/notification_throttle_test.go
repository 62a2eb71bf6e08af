package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Topic() string { return "cache-updated" }

func (h *countingHandler) Handle(context.Context, []byte) error {
	h.calls++
	return h.err
}

func newThrottle(next *countingHandler, interval time.Duration) (*NotificationThrottle, *time.Time) {
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	t := NewNotificationThrottle(next, WithMinInterval(interval))
	t.now = func() time.Time { return now }
	return t, &now
}

func TestThrottleCollapsesBurstsPerSymbol(t *testing.T) {
	next := &countingHandler{}
	th, now := newThrottle(next, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, th.Handle(ctx, []byte(`{"symbol":"NIFTY"}`)))
	require.NoError(t, th.Handle(ctx, []byte(`{"symbol":"nifty"}`)))
	require.NoError(t, th.Handle(ctx, []byte(`{"symbol":"BANKNIFTY"}`)))
	assert.Equal(t, 2, next.calls)

	*now = now.Add(11 * time.Second)
	require.NoError(t, th.Handle(ctx, []byte(`{"symbol":"NIFTY"}`)))
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, "cache-updated", th.Topic())
}

func TestThrottleDropsMalformed(t *testing.T) {
	next := &countingHandler{}
	th, _ := newThrottle(next, time.Second)

	require.NoError(t, th.Handle(context.Background(), []byte(`{not json`)))
	assert.Zero(t, next.calls)

	require.NoError(t, th.Handle(context.Background(), nil))
	assert.Equal(t, 1, next.calls)
}

func TestThrottleReleasesOnDownstreamError(t *testing.T) {
	next := &countingHandler{err: errors.New("clickhouse down")}
	th, _ := newThrottle(next, time.Minute)
	msg := []byte(`{"symbol":"NIFTY"}`)

	err := th.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, next.err)

	// the retry must reach the handler again
	next.err = nil
	require.NoError(t, th.Handle(context.Background(), msg))
	assert.Equal(t, 2, next.calls)

	require.NoError(t, th.Handle(context.Background(), msg))
	assert.Equal(t, 2, next.calls)
}

func TestThrottleDisabled(t *testing.T) {
	next := &countingHandler{}
	th, _ := newThrottle(next, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Handle(context.Background(), []byte(`{}`)))
	}
	assert.Equal(t, 3, next.calls)
}
