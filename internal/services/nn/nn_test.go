package nn

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenseForwardAndBackward(t *testing.T) {
	d := &Dense{In: 2, Out: 2, W: []float64{1, 2, 3, 4}, B: []float64{0.5, -1}}
	assert.Equal(t, []float64{5.5, 10}, d.Forward([]float64{1, 2}))

	g := d.NewGrad()
	dx := d.Backward([]float64{1, 2}, []float64{1, 0.5}, g)
	assert.Equal(t, []float64{2.5, 4}, dx)
	assert.Equal(t, []float64{1, 2, 0.5, 1}, g.W)
	assert.Equal(t, []float64{1, 0.5}, g.B)

	d.Step(g, 0.1, 1)
	assert.InDelta(t, 0.9, d.W[0], 1e-12)
	assert.InDelta(t, 0.4, d.B[0], 1e-12)
}

func TestSoftmaxSanitizesAndNormalizes(t *testing.T) {
	p := Softmax([]float64{math.NaN(), math.Inf(1), 0})
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-12)
	assert.InDelta(t, 1.0/3, p[0], 1e-12)

	q := Softmax([]float64{1000, 0, -1000})
	assert.InDelta(t, 1.0, q[0], 1e-12)
}

func TestLSTMZeroWeightsStayAtRest(t *testing.T) {
	l := &LSTM{Input: 1, Hidden: 2,
		WIH: make([]float64, 8), WHH: make([]float64, 16), BIH: make([]float64, 8), BHH: make([]float64, 8)}
	h := l.Last([][]float64{{1}, {2}})
	assert.Equal(t, []float64{0, 0}, h)

	// saturated gates give c = 1 after one step, so h = tanh(1)
	for j := 0; j < 2; j++ {
		l.BIH[j] = 50    // input
		l.BIH[2+j] = -50 // forget
		l.BIH[4+j] = 50  // cell candidate
		l.BIH[6+j] = 50  // output
	}
	h = l.Last([][]float64{{0}})
	assert.InDelta(t, math.Tanh(1), h[0], 1e-9)
}

func TestConvIdentityKernel(t *testing.T) {
	c := &Conv2D{In: 1, Out: 1, K: 3, W: []float64{0, 0, 0, 0, 1, 0, 0, 0, 0}, B: []float64{0}}
	x := []float64{1, 2, 3, 4}
	assert.Equal(t, x, c.Forward(x, 2, 2))

	sum := &Conv2D{In: 1, Out: 1, K: 3, W: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, B: []float64{0}}
	assert.Equal(t, []float64{10, 10, 10, 10}, sum.Forward(x, 2, 2))
	assert.Equal(t, []float64{2.5}, GlobalAvgPool(x, 1, 2, 2))
}

func TestArtifactShapeChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	d := NewDense(NewRand(1, 1), 3, 2)

	a := NewArtifact("probe")
	d.Save(a, "fc")
	require.NoError(t, WriteArtifact(path, a))

	loaded, err := ReadArtifact(path, "probe")
	require.NoError(t, err)
	got, err := LoadDense(loaded, "fc", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, d.W, got.W)

	_, err = LoadDense(loaded, "fc", 4, 2)
	assert.Error(t, err)
	_, err = ReadArtifact(path, "other")
	assert.Error(t, err)
}

func TestUniformWithinBound(t *testing.T) {
	vals := Uniform(NewRand(7, 0), 1000, 0.25)
	for _, v := range vals {
		assert.LessOrEqual(t, math.Abs(v), 0.25)
	}
	assert.Equal(t, vals, Uniform(NewRand(7, 0), 1000, 0.25))
}
