package nn

import (
	"math"
	"math/rand/v2"
)

// LSTM is a single-layer LSTM with gate blocks ordered input, forget, cell,
// output. Weights are stored [4*Hidden][Input] and [4*Hidden][Hidden].
type LSTM struct {
	Input  int
	Hidden int
	WIH    []float64
	WHH    []float64
	BIH    []float64
	BHH    []float64
}

func NewLSTM(rng *rand.Rand, input, hidden int) *LSTM {
	bound := FanInBound(hidden)
	g := 4 * hidden
	return &LSTM{
		Input:  input,
		Hidden: hidden,
		WIH:    Uniform(rng, g*input, bound),
		WHH:    Uniform(rng, g*hidden, bound),
		BIH:    Uniform(rng, g, bound),
		BHH:    Uniform(rng, g, bound),
	}
}

// Last runs the sequence from a zero state and returns the final hidden state.
func (l *LSTM) Last(seq [][]float64) []float64 {
	h := make([]float64, l.Hidden)
	c := make([]float64, l.Hidden)
	gates := make([]float64, 4*l.Hidden)

	for _, x := range seq {
		for r := range gates {
			acc := l.BIH[r] + l.BHH[r]
			wi := l.WIH[r*l.Input : (r+1)*l.Input]
			for k, v := range x {
				acc += wi[k] * v
			}
			wh := l.WHH[r*l.Hidden : (r+1)*l.Hidden]
			for k, v := range h {
				acc += wh[k] * v
			}
			gates[r] = acc
		}
		H := l.Hidden
		for j := 0; j < H; j++ {
			i := Sigmoid(gates[j])
			f := Sigmoid(gates[H+j])
			g := math.Tanh(gates[2*H+j])
			o := Sigmoid(gates[3*H+j])
			c[j] = f*c[j] + i*g
			h[j] = o * math.Tanh(c[j])
		}
	}
	return h
}

func (l *LSTM) Save(a *Artifact, prefix string) {
	g := 4 * l.Hidden
	a.Put(prefix+".weight_ih", l.WIH, g, l.Input)
	a.Put(prefix+".weight_hh", l.WHH, g, l.Hidden)
	a.Put(prefix+".bias_ih", l.BIH, g)
	a.Put(prefix+".bias_hh", l.BHH, g)
}

func LoadLSTM(a *Artifact, prefix string, input, hidden int) (*LSTM, error) {
	g := 4 * hidden
	l := &LSTM{Input: input, Hidden: hidden}
	var err error
	if l.WIH, err = a.Tensor(prefix+".weight_ih", g, input); err != nil {
		return nil, err
	}
	if l.WHH, err = a.Tensor(prefix+".weight_hh", g, hidden); err != nil {
		return nil, err
	}
	if l.BIH, err = a.Tensor(prefix+".bias_ih", g); err != nil {
		return nil, err
	}
	if l.BHH, err = a.Tensor(prefix+".bias_hh", g); err != nil {
		return nil, err
	}
	return l, nil
}
