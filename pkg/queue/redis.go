package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"OmniSpectrum/pkg/logger"
)

var (
	ErrNotRunning     = errors.New("queue: not running")
	ErrAlreadyRunning = errors.New("queue: already running")
	ErrUnknownJob     = errors.New("queue: no job registered for type")
)

// RedisQueue is a list-backed job queue. Pending messages live in
// <prefix>:messages, delayed retries in the <prefix>:retry sorted set scored by
// due time, and exhausted messages in <prefix>:dlq.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisQueue creates a queue that both enqueues and runs jobs.
func NewRedisQueue(l *logger.Logger, cfg QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	r := &RedisQueue{
		log:    l,
		cfg:    cfg.withDefaults(),
		client: client,
		prefix: "omni:queue",
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob binds job to its message type. A second job for the same type
// is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.moveDueRetries()

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix),
	)
	return nil
}

// Stop cancels in-flight jobs and waits for workers until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for msgType and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, msgType)
	}

	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

// Depth reports pending, retrying and dead-lettered message counts.
func (r *RedisQueue) Depth(ctx context.Context) (pending, retrying, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.key("messages"))
	rt := pipe.ZCard(ctx, r.key("retry"))
	d := pipe.LLen(ctx, r.key("dlq"))
	if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, err
	}
	return p.Val(), rt.Val(), d.Val(), nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.log.Debug("queue worker started", logger.Int("worker", id))
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		msg, ok := r.pop()
		if ok {
			r.dispatch(msg)
		}
	}
}

func (r *RedisQueue) pop() (Message, bool) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PollWait+time.Second)
	defer cancel()

	res, err := r.client.BRPop(ctx, r.cfg.PollWait, r.key("messages")).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Message{}, false
	default:
		r.log.Error("brpop", logger.Error(err))
		sleepCtx(r.ctx, time.Second)
		return Message{}, false
	}
	if len(res) < 2 {
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("drop undecodable message", logger.Error(err))
		return Message{}, false
	}
	return msg, true
}

func (r *RedisQueue) dispatch(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.push(r.key("dlq"), msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, rawPayload(msg.Payload))
	if err == nil {
		r.log.Debug("job done", logger.String("id", msg.ID), logger.Duration("took", time.Since(start)))
		return
	}
	if errors.Is(err, context.Canceled) {
		r.log.Warn("job cancelled", logger.String("id", msg.ID), logger.String("job", job.Name()))
		return
	}

	msg.Attempts++
	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("job failed, dead-lettered",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		r.push(r.key("dlq"), msg)
		return
	}

	due := time.Now().Add(r.cfg.RetryDelay)
	r.log.Warn("job failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", due.Format(time.RFC3339)),
		logger.Error(err))
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		r.log.Error("marshal retry", logger.Error(mErr))
		return
	}
	if zErr := r.client.ZAdd(context.Background(), r.key("retry"), redis.Z{Score: float64(due.Unix()), Member: data}).Err(); zErr != nil {
		r.log.Error("zadd retry", logger.Error(zErr))
	}
}

func (r *RedisQueue) push(key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal message", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), key, data).Err(); err != nil {
		r.log.Error("lpush", logger.String("key", key), logger.Error(err))
	}
}

// moveDueRetries requeues retry entries whose due time has passed.
func (r *RedisQueue) moveDueRetries() {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.RetryTick)
	defer t.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
		}

		due, err := r.client.ZRangeByScore(r.ctx, r.key("retry"), &redis.ZRangeBy{
			Min: "0",
			Max: strconv.FormatInt(time.Now().Unix(), 10),
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("fetch retries", logger.Error(err))
			}
			continue
		}
		for _, member := range due {
			pipe := r.client.TxPipeline()
			pipe.ZRem(r.ctx, r.key("retry"), member)
			pipe.LPush(r.ctx, r.key("messages"), member)
			if _, err := pipe.Exec(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("requeue retry", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) key(suffix string) string {
	return r.prefix + ":" + suffix
}

// rawPayload hands jobs a json.RawMessage for decoded objects so ParsePayload
// can target any struct.
func rawPayload(p interface{}) interface{} {
	if m, ok := p.(map[string]interface{}); ok {
		if b, err := json.Marshal(m); err == nil {
			return json.RawMessage(b)
		}
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
