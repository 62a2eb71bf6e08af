package embedding

import (
	"math/rand/v2"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

const (
	SurfaceKind = "surface_cnn"

	surfaceC1 = 8
	surfaceC2 = 16
)

// SurfaceEncoder is a two-layer CNN with global average pooling.
type SurfaceEncoder struct {
	conv1 *nn.Conv2D
	conv2 *nn.Conv2D
	fc    *nn.Dense
}

func NewSurfaceEncoder(rng *rand.Rand) *SurfaceEncoder {
	return &SurfaceEncoder{
		conv1: nn.NewConv2D(rng, 1, surfaceC1, 3),
		conv2: nn.NewConv2D(rng, surfaceC1, surfaceC2, 3),
		fc:    nn.NewDense(rng, surfaceC2, models.SurfaceDim),
	}
}

func (e *SurfaceEncoder) Encode(g *models.SurfaceGrid) models.SurfaceEmbedding {
	const n = models.GridSize
	x := make([]float64, 0, n*n)
	for i := range g {
		x = append(x, g[i][:]...)
	}
	h := nn.ReLU(e.conv1.Forward(x, n, n))
	h = nn.ReLU(e.conv2.Forward(h, n, n))
	pooled := nn.GlobalAvgPool(h, surfaceC2, n, n)

	var out models.SurfaceEmbedding
	copy(out[:], e.fc.Forward(pooled))
	return out
}

func (e *SurfaceEncoder) Artifact() *nn.Artifact {
	a := nn.NewArtifact(SurfaceKind)
	e.conv1.Save(a, "conv1")
	e.conv2.Save(a, "conv2")
	e.fc.Save(a, "fc")
	return a
}

func surfaceFromArtifact(a *nn.Artifact) (*SurfaceEncoder, error) {
	conv1, err := nn.LoadConv2D(a, "conv1", 1, surfaceC1, 3)
	if err != nil {
		return nil, err
	}
	conv2, err := nn.LoadConv2D(a, "conv2", surfaceC1, surfaceC2, 3)
	if err != nil {
		return nil, err
	}
	fc, err := nn.LoadDense(a, "fc", surfaceC2, models.SurfaceDim)
	if err != nil {
		return nil, err
	}
	return &SurfaceEncoder{conv1: conv1, conv2: conv2, fc: fc}, nil
}
