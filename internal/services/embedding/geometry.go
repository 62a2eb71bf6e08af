package embedding

import (
	"math/rand/v2"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

const (
	GeometryKind   = "geometry_ae"
	geometryHidden = 64
)

// GeometryAutoencoder compresses the angle vector to a latent code. Only the
// encoder half is used at inference.
type GeometryAutoencoder struct {
	enc1 *nn.Dense
	enc2 *nn.Dense
	dec1 *nn.Dense
	dec2 *nn.Dense
}

func NewGeometryAutoencoder(rng *rand.Rand) *GeometryAutoencoder {
	return &GeometryAutoencoder{
		enc1: nn.NewDense(rng, models.GeometryLookback, geometryHidden),
		enc2: nn.NewDense(rng, geometryHidden, models.GeometryDim),
		dec1: nn.NewDense(rng, models.GeometryDim, geometryHidden),
		dec2: nn.NewDense(rng, geometryHidden, models.GeometryLookback),
	}
}

func (e *GeometryAutoencoder) Encode(v *models.GeometryVector) models.GeometryEmbedding {
	var out models.GeometryEmbedding
	copy(out[:], e.enc2.Forward(nn.ReLU(e.enc1.Forward(v[:]))))
	return out
}

// Reconstruct runs the full encoder/decoder pass.
func (e *GeometryAutoencoder) Reconstruct(v *models.GeometryVector) models.GeometryVector {
	z := e.Encode(v)
	var out models.GeometryVector
	copy(out[:], e.dec2.Forward(nn.ReLU(e.dec1.Forward(z[:]))))
	return out
}

// ReconstructionError is the mean squared error over a set of vectors.
func (e *GeometryAutoencoder) ReconstructionError(vs []models.GeometryVector) float64 {
	if len(vs) == 0 {
		return 0
	}
	total := 0.0
	for i := range vs {
		r := e.Reconstruct(&vs[i])
		for k := range r {
			d := r[k] - vs[i][k]
			total += d * d
		}
	}
	return total / float64(len(vs)*models.GeometryLookback)
}

// AutoencoderTraining configures Fit.
type AutoencoderTraining struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	OnEpoch      func(epoch int, loss float64)
}

// Fit trains all four layers with minibatch SGD on reconstruction MSE and
// returns the final epoch's mean loss.
func (e *GeometryAutoencoder) Fit(vs []models.GeometryVector, cfg AutoencoderTraining, rng *rand.Rand) float64 {
	if len(vs) == 0 {
		return 0
	}
	batch := max(cfg.BatchSize, 1)
	layers := []*nn.Dense{e.enc1, e.enc2, e.dec1, e.dec2}
	grads := make([]*nn.DenseGrad, len(layers))
	for i, l := range layers {
		grads[i] = l.NewGrad()
	}

	order := make([]int, len(vs))
	for i := range order {
		order[i] = i
	}

	loss := 0.0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total := 0.0
		for start := 0; start < len(order); start += batch {
			end := min(start+batch, len(order))
			for _, g := range grads {
				g.Zero()
			}
			for _, idx := range order[start:end] {
				total += e.backprop(vs[idx][:], grads)
			}
			for i, l := range layers {
				l.Step(grads[i], cfg.LearningRate, end-start)
			}
		}
		loss = total / float64(len(vs))
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, loss)
		}
	}
	return loss
}

// backprop accumulates gradients for one sample and returns its MSE.
func (e *GeometryAutoencoder) backprop(x []float64, grads []*nn.DenseGrad) float64 {
	h1 := nn.ReLU(e.enc1.Forward(x))
	z := e.enc2.Forward(h1)
	h2 := nn.ReLU(e.dec1.Forward(z))
	y := e.dec2.Forward(h2)

	n := float64(len(x))
	dy := make([]float64, len(y))
	mse := 0.0
	for i := range y {
		d := y[i] - x[i]
		mse += d * d
		dy[i] = 2 * d / n
	}

	dh2 := nn.ReLUGrad(h2, e.dec2.Backward(h2, dy, grads[3]))
	dz := e.dec1.Backward(z, dh2, grads[2])
	dh1 := nn.ReLUGrad(h1, e.enc2.Backward(h1, dz, grads[1]))
	e.enc1.Backward(x, dh1, grads[0])
	return mse / n
}

func (e *GeometryAutoencoder) Artifact() *nn.Artifact {
	a := nn.NewArtifact(GeometryKind)
	e.enc1.Save(a, "encoder.0")
	e.enc2.Save(a, "encoder.2")
	e.dec1.Save(a, "decoder.0")
	e.dec2.Save(a, "decoder.2")
	return a
}

func geometryFromArtifact(a *nn.Artifact) (*GeometryAutoencoder, error) {
	var (
		e   GeometryAutoencoder
		err error
	)
	if e.enc1, err = nn.LoadDense(a, "encoder.0", models.GeometryLookback, geometryHidden); err != nil {
		return nil, err
	}
	if e.enc2, err = nn.LoadDense(a, "encoder.2", geometryHidden, models.GeometryDim); err != nil {
		return nil, err
	}
	if e.dec1, err = nn.LoadDense(a, "decoder.0", models.GeometryDim, geometryHidden); err != nil {
		return nil, err
	}
	if e.dec2, err = nn.LoadDense(a, "decoder.2", geometryHidden, models.GeometryLookback); err != nil {
		return nil, err
	}
	return &e, nil
}
