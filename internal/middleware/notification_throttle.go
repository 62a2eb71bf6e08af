package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"OmniSpectrum/internal/service/metrics"
	pkgkafka "OmniSpectrum/pkg/kafka"
	"OmniSpectrum/pkg/logger"
)

// NotificationThrottle sits between the Kafka consumer and the cache-updated
// handler. It validates notifications and lets at most one per symbol through
// per interval; the cache writer tends to announce every series it updates.
type NotificationThrottle struct {
	next     pkgkafka.MessageHandler
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last forwarded time
}

type ThrottleOption func(*NotificationThrottle)

// WithMinInterval sets the per-symbol quiet period. Zero disables throttling.
func WithMinInterval(d time.Duration) ThrottleOption {
	return func(t *NotificationThrottle) {
		if d >= 0 {
			t.interval = d
		}
	}
}

func WithThrottleLogger(l *logger.Logger) ThrottleOption {
	return func(t *NotificationThrottle) {
		if l != nil {
			t.log = l
		}
	}
}

func NewNotificationThrottle(next pkgkafka.MessageHandler, opts ...ThrottleOption) *NotificationThrottle {
	t := &NotificationThrottle{
		next:     next,
		interval: 10 * time.Second,
		log:      logger.Nop(),
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	metrics.Register()
	return t
}

func (t *NotificationThrottle) Topic() string { return t.next.Topic() }

// Handle validates, throttles and forwards. A downstream error releases the
// symbol so the consumer's retry is not swallowed by the throttle.
func (t *NotificationThrottle) Handle(ctx context.Context, b []byte) error {
	symbol, err := notificationSymbol(b)
	if err != nil {
		metrics.NotificationsDropped.WithLabelValues("malformed").Inc()
		t.log.Warn("cache notification dropped", logger.Error(err))
		return nil
	}

	now := t.now()
	if !t.allow(symbol, now) {
		metrics.NotificationsDropped.WithLabelValues("throttled").Inc()
		t.log.Debug("cache notification throttled", logger.String("symbol", symbol))
		return nil
	}

	if err := t.next.Handle(ctx, b); err != nil {
		t.release(symbol, now)
		return fmt.Errorf("cache notification: %w", err)
	}
	return nil
}

func (t *NotificationThrottle) allow(symbol string, now time.Time) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastSeen[symbol]
	if ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSeen[symbol] = now
	return true
}

func (t *NotificationThrottle) release(symbol string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSeen[symbol].Equal(at) {
		delete(t.lastSeen, symbol)
	}
}

// notificationSymbol returns the lower-cased symbol, or "*" for notifications
// that do not name one.
func notificationSymbol(b []byte) (string, error) {
	if len(b) == 0 {
		return "*", nil
	}
	var m struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("decode notification: %w", err)
	}
	if m.Symbol == "" {
		return "*", nil
	}
	return strings.ToLower(m.Symbol), nil
}
