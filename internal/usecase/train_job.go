package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/queue"
)

const TrainJobType = "train_models"

// TrainJobPayload is enqueued by the train endpoint.
type TrainJobPayload struct {
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason,omitempty"`
}

// TrainJob runs training from the Redis job queue.
type TrainJob struct {
	uc  *TrainingUseCase
	log *logger.Logger
}

func NewTrainJob(uc *TrainingUseCase, l *logger.Logger) *TrainJob {
	if l == nil {
		l = logger.Nop()
	}
	return &TrainJob{uc: uc, log: l}
}

func (j *TrainJob) Name() string { return "model-trainer" }

func (j *TrainJob) Type() string { return TrainJobType }

func (j *TrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[TrainJobPayload](payload)
	if err != nil {
		return err
	}
	m, err := j.uc.Train(ctx, TrainProgress{})
	if errors.Is(err, ErrTrainingInProgress) {
		j.log.Info("train job skipped, a run is active", logger.String("requested_by", p.RequestedBy))
		return nil
	}
	if err != nil {
		return err
	}
	j.log.Info("train job done",
		logger.String("requested_by", p.RequestedBy),
		logger.String("version", m.Version),
	)
	return nil
}

var _ queue.Job = (*TrainJob)(nil)

// TrainScheduler starts training outside the request path and returns a job
// id.
type TrainScheduler interface {
	Schedule(ctx context.Context, p TrainJobPayload) (string, error)
}

// Enqueuer is the producing side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// QueueTrainScheduler hands training to whichever worker polls the queue.
type QueueTrainScheduler struct {
	q Enqueuer
}

func NewQueueTrainScheduler(q Enqueuer) *QueueTrainScheduler {
	return &QueueTrainScheduler{q: q}
}

func (s *QueueTrainScheduler) Schedule(ctx context.Context, p TrainJobPayload) (string, error) {
	return s.q.Enqueue(ctx, TrainJobType, p)
}

// LocalTrainScheduler runs training in a goroutine of this process. Used
// when Redis is not configured.
type LocalTrainScheduler struct {
	uc  *TrainingUseCase
	log *logger.Logger
	wg  sync.WaitGroup
}

func NewLocalTrainScheduler(uc *TrainingUseCase, l *logger.Logger) *LocalTrainScheduler {
	if l == nil {
		l = logger.Nop()
	}
	return &LocalTrainScheduler{uc: uc, log: l}
}

func (s *LocalTrainScheduler) Schedule(_ context.Context, p TrainJobPayload) (string, error) {
	if !s.uc.mu.TryLock() {
		return "", ErrTrainingInProgress
	}
	s.uc.mu.Unlock()

	id := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m, err := s.uc.Train(context.Background(), TrainProgress{})
		if err != nil {
			s.log.Error("local training failed", logger.String("job_id", id), logger.Error(err))
			return
		}
		s.log.Info("local training done",
			logger.String("job_id", id),
			logger.String("requested_by", p.RequestedBy),
			logger.String("version", m.Version),
		)
	}()
	return id, nil
}

// Wait blocks until scheduled runs finish.
func (s *LocalTrainScheduler) Wait() { s.wg.Wait() }
