package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/marketdata"
	"OmniSpectrum/internal/services/training"
)

type stubSaver struct {
	saved []*training.Result
}

func (s *stubSaver) Save(res *training.Result) error {
	s.saved = append(s.saved, res)
	return nil
}

func quickTraining() training.Config {
	return training.Config{
		Seed:        42,
		Symbol:      "NIFTY",
		Autoencoder: embedding.AutoencoderTraining{Epochs: 2, BatchSize: 16, LearningRate: 0.01},
		Classifier:  fusion.ClassifierTraining{Epochs: 2, BatchSize: 16, LearningRate: 0.05},
		Booster:     fusion.BoosterTraining{Rounds: 3, MaxDepth: 2, LearningRate: 0.1, MinLeaf: 3, Bins: 16, Lambda: 1},
	}
}

func syntheticSource(t *testing.T, days int) docSource {
	t.Helper()
	cfg := marketdata.DefaultSyntheticConfig()
	cfg.Days = days
	cfg.End = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	raw, err := marketdata.GenerateSynthetic(cfg)
	require.NoError(t, err)
	return docSource(raw)
}

func TestTrainingUseCase(t *testing.T) {
	saver := &stubSaver{}
	uc := NewTrainingUseCase(syntheticSource(t, 260), saver, quickTraining(), nil)
	uc.now = func() time.Time { return fixedNow }

	var aeEpochs, clfEpochs int
	m, err := uc.Train(context.Background(), TrainProgress{
		OnAutoencoderEpoch: func(int, float64) { aeEpochs++ },
		OnClassifierEpoch:  func(int, float64) { clfEpochs++ },
	})
	require.NoError(t, err)

	assert.Equal(t, "v20250701-093000", m.Version)
	assert.Equal(t, 2, aeEpochs)
	assert.Equal(t, 2, clfEpochs)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, m.Samples, saver.saved[0].Manifest.Samples)
}

func TestTrainingUseCaseSingleFlight(t *testing.T) {
	uc := NewTrainingUseCase(syntheticSource(t, 260), &stubSaver{}, quickTraining(), nil)
	uc.mu.Lock()
	defer uc.mu.Unlock()

	_, err := uc.Train(context.Background(), TrainProgress{})
	assert.ErrorIs(t, err, ErrTrainingInProgress)
}

func TestTrainingUseCaseShortHistory(t *testing.T) {
	saver := &stubSaver{}
	uc := NewTrainingUseCase(syntheticSource(t, 120), saver, quickTraining(), nil)

	_, err := uc.Train(context.Background(), TrainProgress{})
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
	assert.Empty(t, saver.saved)
}

func TestTrainJob(t *testing.T) {
	saver := &stubSaver{}
	job := NewTrainJob(NewTrainingUseCase(syntheticSource(t, 260), saver, quickTraining(), nil), nil)

	assert.Equal(t, TrainJobType, job.Type())
	require.NoError(t, job.Handle(context.Background(), map[string]interface{}{"requested_by": "test"}))
	assert.Len(t, saver.saved, 1)

	assert.Error(t, job.Handle(context.Background(), 42))
}
