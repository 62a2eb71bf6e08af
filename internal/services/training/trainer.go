package training

import (
	"context"
	"errors"
	"time"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/nn"
	"OmniSpectrum/pkg/logger"
)

// RNG streams, one per consumer, so that changing one stage's draws does not
// perturb another's.
const (
	streamTemporal uint64 = iota + 1
	streamSurface
	streamGeometry
	streamClassifier
	streamGeometryFit
	streamClassifierFit
)

// minRecommendedSamples triggers a warning, not an error.
const minRecommendedSamples = 10

type Config struct {
	Seed         uint64
	ModelVersion string
	Symbol       string
	Autoencoder  embedding.AutoencoderTraining
	Classifier   fusion.ClassifierTraining
	Booster      fusion.BoosterTraining
}

// Result is everything a training run produces.
type Result struct {
	Encoders   *embedding.Encoders
	Classifier *fusion.Classifier
	Booster    *fusion.Booster
	Manifest   models.ModelManifest
	Warnings   []string
}

type Trainer struct {
	cfg Config
	log *logger.Logger
	now func() time.Time
}

func NewTrainer(cfg Config, log *logger.Logger) *Trainer {
	if log == nil {
		log = logger.Nop()
	}
	return &Trainer{cfg: cfg, log: log, now: time.Now}
}

// Train fits the full model set on a feature table. The temporal and surface
// encoders keep their seeded initialization and act as fixed random
// projections; the geometry autoencoder, direction classifier and expansion
// booster are fitted on the training split.
func (t *Trainer) Train(ctx context.Context, table *models.FeatureTable) (*Result, error) {
	windows := AssembleDataset(table)
	trainIdx, valIdx, err := SplitIndices(len(windows), t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(windows) < minRecommendedSamples {
		msg := "very few training samples, models will be unreliable"
		t.log.Warn(msg, logger.Int("samples", len(windows)))
		res.Warnings = append(res.Warnings, msg)
	}

	seed := t.cfg.Seed
	enc := &embedding.Encoders{
		Temporal: embedding.NewTemporalEncoder(nn.NewRand(seed, streamTemporal)),
		Surface:  embedding.NewSurfaceEncoder(nn.NewRand(seed, streamSurface)),
		Geometry: embedding.NewGeometryAutoencoder(nn.NewRand(seed, streamGeometry)),
	}

	geoTrain := make([]models.GeometryVector, len(trainIdx))
	for i, idx := range trainIdx {
		geoTrain[i] = windows[idx].Geometry
	}
	aeLoss := enc.Geometry.Fit(geoTrain, t.cfg.Autoencoder, nn.NewRand(seed, streamGeometryFit))
	t.log.Info("geometry autoencoder fitted", logger.Float64("loss", aeLoss), logger.Int("vectors", len(geoTrain)))

	branches, err := encodeBranches(ctx, enc, windows)
	if err != nil {
		return nil, err
	}
	samples, err := branches.Fuse()
	if err != nil {
		if !errors.Is(err, models.ErrDatasetAssemblyMismatch) {
			return nil, err
		}
		t.log.Warn("dataset branches trimmed", logger.Error(err))
		res.Warnings = append(res.Warnings, err.Error())
		trainIdx, valIdx = clip(trainIdx, len(samples)), clip(valIdx, len(samples))
	}

	train, val := pick(samples, trainIdx), pick(samples, valIdx)
	clf := fusion.NewClassifier(nn.NewRand(seed, streamClassifier))
	clsLoss := clf.Fit(train, t.cfg.Classifier, nn.NewRand(seed, streamClassifierFit))
	t.log.Info("direction classifier fitted", logger.Float64("loss", clsLoss), logger.Int("train", len(train)))

	xs := make([][]float64, len(train))
	ys := make([]bool, len(train))
	for i, idx := range trainIdx {
		xs[i] = nn.Sanitize(append([]float64(nil), samples[idx].Fused[:]...))
		ys[i] = ExpansionLabel(&windows[idx].Temporal)
	}
	booster, err := fusion.FitBooster(xs, ys, t.cfg.Booster)
	if err != nil {
		return nil, err
	}

	var counts [models.NumClasses]int
	for _, s := range samples {
		counts[s.Label]++
	}

	res.Encoders, res.Classifier, res.Booster = enc, clf, booster
	res.Manifest = models.ModelManifest{
		Version:            t.cfg.ModelVersion,
		TrainedAt:          t.now().UTC(),
		Symbol:             t.cfg.Symbol,
		Seed:               seed,
		Samples:            len(samples),
		TrainSamples:       len(train),
		ValidationSamples:  len(val),
		TrainAccuracy:      clf.Accuracy(train),
		ValidationAccuracy: clf.Accuracy(val),
		AutoencoderLoss:    aeLoss,
		ExpansionModel:     true,
		LabelCounts:        counts,
	}
	return res, nil
}

func encodeBranches(ctx context.Context, enc *embedding.Encoders, windows []models.SampleWindows) (*Branches, error) {
	b := &Branches{
		Temporal: make([]models.TemporalEmbedding, len(windows)),
		Surface:  make([]models.SurfaceEmbedding, len(windows)),
		Geometry: make([]models.GeometryEmbedding, len(windows)),
		Windows:  windows,
	}
	for i := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := &windows[i]
		b.Temporal[i] = enc.Temporal.Encode(&w.Temporal)
		b.Surface[i] = enc.Surface.Encode(&w.Surface)
		b.Geometry[i] = enc.Geometry.Encode(&w.Geometry)
	}
	return b, nil
}

func pick(samples []models.Sample, idx []int) []models.Sample {
	out := make([]models.Sample, len(idx))
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

// clip drops indices that fall outside a trimmed dataset.
func clip(idx []int, n int) []int {
	out := idx[:0:0]
	for _, i := range idx {
		if i < n {
			out = append(out, i)
		}
	}
	return out
}
