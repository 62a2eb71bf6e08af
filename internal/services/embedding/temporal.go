package embedding

import (
	"math/rand/v2"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

const (
	TemporalKind   = "temporal_lstm"
	TemporalHidden = 64
)

// TemporalEncoder runs an LSTM over the temporal window and projects the last
// hidden state to the embedding.
type TemporalEncoder struct {
	lstm *nn.LSTM
	fc   *nn.Dense
}

func NewTemporalEncoder(rng *rand.Rand) *TemporalEncoder {
	return &TemporalEncoder{
		lstm: nn.NewLSTM(rng, models.TemporalFeatures, TemporalHidden),
		fc:   nn.NewDense(rng, TemporalHidden, models.TemporalDim),
	}
}

func (e *TemporalEncoder) Encode(w *models.TemporalWindow) models.TemporalEmbedding {
	seq := make([][]float64, len(w))
	for i := range w {
		seq[i] = w[i][:]
	}
	var out models.TemporalEmbedding
	copy(out[:], e.fc.Forward(e.lstm.Last(seq)))
	return out
}

func (e *TemporalEncoder) Artifact() *nn.Artifact {
	a := nn.NewArtifact(TemporalKind)
	e.lstm.Save(a, "lstm")
	e.fc.Save(a, "fc")
	return a
}

func temporalFromArtifact(a *nn.Artifact) (*TemporalEncoder, error) {
	lstm, err := nn.LoadLSTM(a, "lstm", models.TemporalFeatures, TemporalHidden)
	if err != nil {
		return nil, err
	}
	fc, err := nn.LoadDense(a, "fc", TemporalHidden, models.TemporalDim)
	if err != nil {
		return nil, err
	}
	return &TemporalEncoder{lstm: lstm, fc: fc}, nil
}
