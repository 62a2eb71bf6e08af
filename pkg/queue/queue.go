package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueConfig tunes a RedisQueue. Zero values fall back to defaults.
type QueueConfig struct {
	Workers    int
	RetryLimit int           // retries after the first attempt; 0 dead-letters on first failure
	RetryDelay time.Duration // delay before a failed message is requeued
	RetryTick  time.Duration // how often due retries are moved back
	PollWait   time.Duration // BRPOP block time per poll
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.RetryTick <= 0 {
		c.RetryTick = 5 * time.Second
	}
	if c.PollWait <= 0 {
		c.PollWait = time.Second
	}
	return c
}

// Message is the JSON envelope stored in Redis.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a job payload into T. Payloads arrive as the
// original value when handled in-process and as JSON after a Redis round trip.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decodePayload[T](p)
	case []byte:
		return decodePayload[T](p)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return decodePayload[T](b)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func decodePayload[T any](b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
