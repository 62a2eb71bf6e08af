package nn

import "math/rand/v2"

// Conv2D is a stride-1, zero-padded square convolution that preserves the
// spatial size. W is stored [Out][In][K][K].
type Conv2D struct {
	In  int
	Out int
	K   int
	W   []float64
	B   []float64
}

func NewConv2D(rng *rand.Rand, in, out, k int) *Conv2D {
	bound := FanInBound(in * k * k)
	return &Conv2D{In: in, Out: out, K: k, W: Uniform(rng, out*in*k*k, bound), B: Uniform(rng, out, bound)}
}

// Forward maps an [In][h][w] volume (flattened) to [Out][h][w].
func (c *Conv2D) Forward(x []float64, h, w int) []float64 {
	pad := c.K / 2
	out := make([]float64, c.Out*h*w)
	for oc := 0; oc < c.Out; oc++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				acc := c.B[oc]
				for ic := 0; ic < c.In; ic++ {
					for ky := 0; ky < c.K; ky++ {
						iy := y + ky - pad
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < c.K; kx++ {
							ix := xx + kx - pad
							if ix < 0 || ix >= w {
								continue
							}
							acc += c.W[((oc*c.In+ic)*c.K+ky)*c.K+kx] * x[(ic*h+iy)*w+ix]
						}
					}
				}
				out[(oc*h+y)*w+xx] = acc
			}
		}
	}
	return out
}

// GlobalAvgPool averages each channel of a [ch][h][w] volume.
func GlobalAvgPool(x []float64, ch, h, w int) []float64 {
	out := make([]float64, ch)
	area := h * w
	for c := 0; c < ch; c++ {
		sum := 0.0
		for _, v := range x[c*area : (c+1)*area] {
			sum += v
		}
		out[c] = sum / float64(area)
	}
	return out
}

func (c *Conv2D) Save(a *Artifact, prefix string) {
	a.Put(prefix+".weight", c.W, c.Out, c.In, c.K, c.K)
	a.Put(prefix+".bias", c.B, c.Out)
}

func LoadConv2D(a *Artifact, prefix string, in, out, k int) (*Conv2D, error) {
	w, err := a.Tensor(prefix+".weight", out, in, k, k)
	if err != nil {
		return nil, err
	}
	b, err := a.Tensor(prefix+".bias", out)
	if err != nil {
		return nil, err
	}
	return &Conv2D{In: in, Out: out, K: k, W: w, B: b}, nil
}
