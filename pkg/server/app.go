package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OmniSpectrum/internal/handler/api"
	"OmniSpectrum/internal/usecase"
	"OmniSpectrum/pkg/config"
	xhttp "OmniSpectrum/pkg/http"
	pkgkafka "OmniSpectrum/pkg/kafka"
	applogger "OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/queue"
)

// App encapsulates the service lifecycle: the HTTP API, the cache-updated
// consumer, the training queue worker and everything they need closed.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	trainQueue *queue.RedisQueue
	local      *usecase.LocalTrainScheduler
	hub        *api.Hub
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

type Option func(*App)

// WithConsumer runs kh on consumer. Both must be non-nil to take effect.
func WithConsumer(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = consumer
		a.kh = kh
	}
}

func WithTrainQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.trainQueue = q }
}

// WithLocalTrainer makes shutdown wait for in-process training runs.
func WithLocalTrainer(s *usecase.LocalTrainScheduler) Option {
	return func(a *App) { a.local = s }
}

func WithHub(h *api.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithCloser registers c to be closed on shutdown. Closers run in reverse
// registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App. handlers are registered on the HTTP server in order.
func New(cfg *config.Config, l *applogger.Logger, handlers []xhttp.Handler, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l}
	for _, opt := range opts {
		opt(a)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(handlers,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
	return a
}

// HTTP exposes the server, mainly for tests.
func (a *App) HTTP() *xhttp.Server { return a.httpServer }

// Run starts every component and blocks until ctx is done or the process
// receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.trainQueue != nil {
		if err := a.trainQueue.Start(); err != nil {
			return err
		}
		a.log.Info("training queue started", applogger.String("queue", a.cfg.Queue.Name))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("omnispectrum started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("symbol", a.cfg.Pipeline.Symbol),
		applogger.String("addr", a.cfg.Addr()),
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then drains workers, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.hub != nil {
		_ = a.hub.Close()
	}

	if a.consumer != nil && a.kh != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.trainQueue != nil {
		if err := a.trainQueue.Stop(ctx); err != nil {
			a.log.Warn("training queue stop error", applogger.Error(err))
		}
	}
	if a.local != nil {
		done := make(chan struct{})
		go func() {
			a.local.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Until(deadline(ctx))):
			a.log.Warn("training still running at shutdown")
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	a.log.DetachDigest()
	return errors.Join(errs...)
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now()
}
