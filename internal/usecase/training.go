package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/internal/services/features"
	"OmniSpectrum/internal/services/training"
	"OmniSpectrum/pkg/logger"
)

var ErrTrainingInProgress = errors.New("training already in progress")

// ModelSaver persists a training run.
type ModelSaver interface {
	Save(res *training.Result) error
}

// TrainProgress receives per-epoch losses. Either callback may be nil.
type TrainProgress struct {
	OnAutoencoderEpoch func(epoch int, loss float64)
	OnClassifierEpoch  func(epoch int, loss float64)
}

type TrainingUseCase struct {
	source domrepo.SnapshotSource
	saver  ModelSaver
	cfg    training.Config
	log    *logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewTrainingUseCase(source domrepo.SnapshotSource, saver ModelSaver, cfg training.Config, l *logger.Logger) *TrainingUseCase {
	if l == nil {
		l = logger.Nop()
	}
	return &TrainingUseCase{source: source, saver: saver, cfg: cfg, log: l, now: time.Now}
}

// Train fits a new model set on the current snapshot and saves it. The
// running process keeps serving the bundle it started with; the new
// artifacts take effect on the next restart. Only one run proceeds at a time
// per process.
func (uc *TrainingUseCase) Train(ctx context.Context, p TrainProgress) (*models.ModelManifest, error) {
	if !uc.mu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer uc.mu.Unlock()

	start := time.Now()
	snap, err := uc.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	table, err := features.ComputeFeatureTable(snap.Series)
	if err != nil {
		return nil, err
	}

	cfg := uc.cfg
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "v" + uc.now().UTC().Format("20060102-150405")
	}
	cfg.Autoencoder.OnEpoch = p.OnAutoencoderEpoch
	cfg.Classifier.OnEpoch = p.OnClassifierEpoch

	uc.log.Info("training started",
		logger.String("version", cfg.ModelVersion),
		logger.Int("rows", table.Len()),
		logger.String("variant", snap.Variant.String()),
	)
	res, err := training.NewTrainer(cfg, uc.log).Train(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	if err := uc.saver.Save(res); err != nil {
		return nil, fmt.Errorf("save models: %w", err)
	}

	m := res.Manifest
	uc.log.Info("training completed",
		logger.String("version", m.Version),
		logger.Int("samples", m.Samples),
		logger.Float64("train_accuracy", m.TrainAccuracy),
		logger.Float64("validation_accuracy", m.ValidationAccuracy),
		logger.Strings("warnings", res.Warnings),
		logger.Duration("duration_ms", time.Since(start)),
	)
	uc.log.Info("new models saved; restart to activate", logger.String("version", m.Version))
	return &m, nil
}
