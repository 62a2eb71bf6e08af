package usecase

import (
	"context"
	"errors"
	"time"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/pkg/logger"
)

var ErrRefreshInProgress = errors.New("refresh already in progress")

// Locker is the distributed lock used to serialize refreshes across
// instances. cache.Service satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Runner produces a fresh forecast.
type Runner interface {
	RunInference(ctx context.Context) (*models.ForecastOutput, error)
}

type RefreshResult struct {
	Output *models.ForecastOutput
	// Fresh is false when Output is the previously stored document.
	Fresh bool
	// Cause explains why a stale document was returned.
	Cause error
}

// RefreshUseCase runs inference on demand and falls back to the last stored
// document when the run fails or another refresh holds the lock.
type RefreshUseCase struct {
	runner  Runner
	query   *ForecastQueryUseCase
	locker  Locker
	lockKey string
	lockTTL time.Duration
	log     *logger.Logger
}

// NewRefreshUseCase builds the use case. locker may be nil.
func NewRefreshUseCase(runner Runner, query *ForecastQueryUseCase, locker Locker, symbol string, lockTTL time.Duration, l *logger.Logger) *RefreshUseCase {
	if l == nil {
		l = logger.Nop()
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RefreshUseCase{
		runner:  runner,
		query:   query,
		locker:  locker,
		lockKey: "lock:refresh:" + symbol,
		lockTTL: lockTTL,
		log:     l,
	}
}

// Refresh returns an error only when inference failed and nothing is stored.
func (uc *RefreshUseCase) Refresh(ctx context.Context) (*RefreshResult, error) {
	if uc.locker != nil {
		ok, err := uc.locker.TryLock(ctx, uc.lockKey, uc.lockTTL)
		switch {
		case err != nil:
			uc.log.Warn("refresh lock unavailable, running unlocked", logger.Error(err))
		case !ok:
			return uc.fallback(ctx, ErrRefreshInProgress)
		default:
			defer func() {
				// the request context may already be done
				uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := uc.locker.Unlock(uctx, uc.lockKey); err != nil {
					uc.log.Warn("refresh unlock failed", logger.Error(err))
				}
			}()
		}
	}

	out, err := uc.runner.RunInference(ctx)
	if err == nil {
		return &RefreshResult{Output: out, Fresh: true}, nil
	}
	return uc.fallback(ctx, err)
}

func (uc *RefreshUseCase) fallback(ctx context.Context, cause error) (*RefreshResult, error) {
	if uc.query == nil {
		return nil, cause
	}
	out, err := uc.query.Latest(ctx)
	if err != nil {
		uc.log.Warn("no stored forecast to fall back to", logger.Error(err))
		return nil, cause
	}
	return &RefreshResult{Output: out, Fresh: false, Cause: cause}, nil
}
