package fusion

import (
	"math"
	"math/rand/v2"
	"path/filepath"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

const (
	ClassifierKind   = "fusion_mlp"
	ClassifierFile   = "fusion_mlp.json"
	ClassifierHidden = 64
)

// Classifier is the fusion MLP: standardize, Dense+ReLU, Dense, softmax.
type Classifier struct {
	mean   []float64
	scale  []float64
	hidden *nn.Dense
	out    *nn.Dense
}

func NewClassifier(rng *rand.Rand) *Classifier {
	mean := make([]float64, models.FusedDim)
	scale := make([]float64, models.FusedDim)
	for i := range scale {
		scale[i] = 1
	}
	return &Classifier{
		mean:   mean,
		scale:  scale,
		hidden: nn.NewDense(rng, models.FusedDim, ClassifierHidden),
		out:    nn.NewDense(rng, ClassifierHidden, models.NumClasses),
	}
}

// NewClassifierFromLayers builds a classifier with identity standardization.
func NewClassifierFromLayers(hidden, out *nn.Dense) *Classifier {
	c := NewClassifier(nn.NewRand(0, 0))
	c.hidden, c.out = hidden, out
	return c
}

func (c *Classifier) Predict(v *models.FusedVector) models.Tilt {
	p := nn.Softmax(c.logits(c.standardize(v)))
	return models.Tilt{Bear: p[models.LabelBear], Neutral: p[models.LabelNeutral], Bull: p[models.LabelBull]}
}

func (c *Classifier) standardize(v *models.FusedVector) []float64 {
	x := nn.Sanitize(append([]float64(nil), v[:]...))
	for i := range x {
		x[i] = (x[i] - c.mean[i]) / c.scale[i]
	}
	return x
}

func (c *Classifier) logits(x []float64) []float64 {
	return c.out.Forward(nn.ReLU(c.hidden.Forward(x)))
}

// ClassifierTraining configures Fit.
type ClassifierTraining struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	OnEpoch      func(epoch int, loss float64)
}

// Fit estimates the standardization from samples and trains both layers with
// minibatch SGD on cross-entropy. It returns the final epoch's mean loss.
func (c *Classifier) Fit(samples []models.Sample, cfg ClassifierTraining, rng *rand.Rand) float64 {
	if len(samples) == 0 {
		return 0
	}
	c.fitScaler(samples)

	xs := make([][]float64, len(samples))
	for i := range samples {
		xs[i] = c.standardize(&samples[i].Fused)
	}

	hg, og := c.hidden.NewGrad(), c.out.NewGrad()
	order := rng.Perm(len(samples))
	batch := max(cfg.BatchSize, 1)

	loss := 0.0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total := 0.0
		for start := 0; start < len(order); start += batch {
			end := min(start+batch, len(order))
			hg.Zero()
			og.Zero()
			for _, idx := range order[start:end] {
				x := xs[idx]
				h := nn.ReLU(c.hidden.Forward(x))
				p := nn.Softmax(c.out.Forward(h))

				label := int(samples[idx].Label)
				total -= math.Log(math.Max(p[label], 1e-12))
				p[label] -= 1

				dh := nn.ReLUGrad(h, c.out.Backward(h, p, og))
				c.hidden.Backward(x, dh, hg)
			}
			c.out.Step(og, cfg.LearningRate, end-start)
			c.hidden.Step(hg, cfg.LearningRate, end-start)
		}
		loss = total / float64(len(samples))
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, loss)
		}
	}
	return loss
}

func (c *Classifier) fitScaler(samples []models.Sample) {
	n := float64(len(samples))
	for j := 0; j < models.FusedDim; j++ {
		sum, sq := 0.0, 0.0
		for i := range samples {
			v := samples[i].Fused[j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			sum += v
			sq += v * v
		}
		mean := sum / n
		std := math.Sqrt(math.Max(0, sq/n-mean*mean))
		c.mean[j] = mean
		c.scale[j] = 1
		if std > 1e-12 {
			c.scale[j] = std
		}
	}
}

// Accuracy is the argmax hit rate over samples.
func (c *Classifier) Accuracy(samples []models.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	hits := 0
	for i := range samples {
		if c.Predict(&samples[i].Fused).Argmax() == samples[i].Label {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

func (c *Classifier) Artifact() *nn.Artifact {
	a := nn.NewArtifact(ClassifierKind)
	a.Put("scaler.mean", c.mean, models.FusedDim)
	a.Put("scaler.scale", c.scale, models.FusedDim)
	c.hidden.Save(a, "hidden")
	c.out.Save(a, "out")
	return a
}

func (c *Classifier) Save(dir string) error {
	return nn.WriteArtifact(filepath.Join(dir, ClassifierFile), c.Artifact())
}

// LoadClassifier reads the classifier artifact; failures are ErrModelLoad.
func LoadClassifier(dir string) (*Classifier, error) {
	wrap := func(err error) error { return models.WrapError("load "+ClassifierFile, models.ErrModelLoad, err) }

	a, err := nn.ReadArtifact(filepath.Join(dir, ClassifierFile), ClassifierKind)
	if err != nil {
		return nil, wrap(err)
	}
	var c Classifier
	if c.mean, err = a.Tensor("scaler.mean", models.FusedDim); err != nil {
		return nil, wrap(err)
	}
	if c.scale, err = a.Tensor("scaler.scale", models.FusedDim); err != nil {
		return nil, wrap(err)
	}
	for i, s := range c.scale {
		if s == 0 {
			c.scale[i] = 1
		}
	}
	if c.hidden, err = nn.LoadDense(a, "hidden", models.FusedDim, ClassifierHidden); err != nil {
		return nil, wrap(err)
	}
	if c.out, err = nn.LoadDense(a, "out", ClassifierHidden, models.NumClasses); err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}
