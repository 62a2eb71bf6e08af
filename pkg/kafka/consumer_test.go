package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type topicHandler string

func (h topicHandler) Topic() string                        { return string(h) }
func (h topicHandler) Handle(context.Context, []byte) error { return nil }

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestConsumerLifecycleWithoutHandlers(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(0))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cfg.WorkerCount)

	assert.Error(t, c.Start())
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestRegisterHandlerKeepsFirst(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)

	c.RegisterHandler(topicHandler("cache.updated"))
	c.RegisterHandler(topicHandler("cache.updated"))
	assert.Len(t, c.handlers, 1)
}

func TestPartitionLockIsStable(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)

	a := c.partitionLock("t", 0)
	assert.Same(t, a, c.partitionLock("t", 0))
	assert.NotSame(t, a, c.partitionLock("t", 1))
}
