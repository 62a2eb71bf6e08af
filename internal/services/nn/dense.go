package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer y = Wx + b with W stored [out][in].
type Dense struct {
	In  int
	Out int
	W   []float64
	B   []float64
}

func NewDense(rng *rand.Rand, in, out int) *Dense {
	bound := FanInBound(in)
	return &Dense{In: in, Out: out, W: Uniform(rng, in*out, bound), B: Uniform(rng, out, bound)}
}

func (d *Dense) Forward(x []float64) []float64 {
	var y mat.VecDense
	y.MulVec(mat.NewDense(d.Out, d.In, d.W), mat.NewVecDense(d.In, x))
	out := make([]float64, d.Out)
	copy(out, y.RawVector().Data)
	floats.Add(out, d.B)
	return out
}

// DenseGrad accumulates parameter gradients for one Dense layer.
type DenseGrad struct {
	W []float64
	B []float64
}

func (d *Dense) NewGrad() *DenseGrad {
	return &DenseGrad{W: make([]float64, len(d.W)), B: make([]float64, len(d.B))}
}

func (g *DenseGrad) Zero() {
	clear(g.W)
	clear(g.B)
}

// Backward accumulates dL/dW and dL/db for input x and upstream gradient dy,
// and returns dL/dx.
func (d *Dense) Backward(x, dy []float64, g *DenseGrad) []float64 {
	dx := make([]float64, d.In)
	for o := 0; o < d.Out; o++ {
		if dy[o] == 0 {
			continue
		}
		row := d.W[o*d.In : (o+1)*d.In]
		floats.AddScaled(g.W[o*d.In:(o+1)*d.In], dy[o], x)
		floats.AddScaled(dx, dy[o], row)
		g.B[o] += dy[o]
	}
	return dx
}

// Step applies averaged SGD over n accumulated samples.
func (d *Dense) Step(g *DenseGrad, lr float64, n int) {
	scale := -lr / float64(max(n, 1))
	floats.AddScaled(d.W, scale, g.W)
	floats.AddScaled(d.B, scale, g.B)
}

// Save stores the layer under prefix.weight / prefix.bias.
func (d *Dense) Save(a *Artifact, prefix string) {
	a.Put(prefix+".weight", d.W, d.Out, d.In)
	a.Put(prefix+".bias", d.B, d.Out)
}

func LoadDense(a *Artifact, prefix string, in, out int) (*Dense, error) {
	w, err := a.Tensor(prefix+".weight", out, in)
	if err != nil {
		return nil, err
	}
	b, err := a.Tensor(prefix+".bias", out)
	if err != nil {
		return nil, err
	}
	return &Dense{In: in, Out: out, W: w, B: b}, nil
}

func (d *Dense) String() string {
	return fmt.Sprintf("Dense(%d->%d)", d.In, d.Out)
}
