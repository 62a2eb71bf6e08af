package fusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
	"OmniSpectrum/pkg/util"
)

const (
	ExpansionKind = "expansion_gbm"
	ExpansionFile = "expansion_gbm.json"
)

// treeNode is one node of a regression tree. Leaves have Feature == -1.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type tree []treeNode

func (t tree) eval(x []float64) float64 {
	i := 0
	for t[i].Feature >= 0 {
		if x[t[i].Feature] <= t[i].Threshold {
			i = t[i].Left
		} else {
			i = t[i].Right
		}
	}
	return t[i].Value
}

// Booster is a gradient-boosted binary classifier with logistic loss.
type Booster struct {
	Kind         string  `json:"kind"`
	Version      int     `json:"version"`
	Base         float64 `json:"base"`
	LearningRate float64 `json:"learning_rate"`
	Features     int     `json:"features"`
	Trees        []tree  `json:"trees"`
}

// Probability returns the positive-class probability for v.
func (b *Booster) Probability(v *models.FusedVector) float64 {
	x := nn.Sanitize(append([]float64(nil), v[:]...))
	return nn.Sigmoid(b.raw(x))
}

func (b *Booster) raw(x []float64) float64 {
	score := b.Base
	for _, t := range b.Trees {
		score += b.LearningRate * t.eval(x)
	}
	return score
}

// BoosterTraining configures FitBooster.
type BoosterTraining struct {
	Rounds       int
	MaxDepth     int
	LearningRate float64
	MinLeaf      int
	Bins         int
	Lambda       float64
}

// FitBooster grows Rounds histogram-binned trees with second-order leaf values
// -G/(H+lambda).
func FitBooster(xs [][]float64, ys []bool, cfg BoosterTraining) (*Booster, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return nil, fmt.Errorf("booster: %d rows, %d labels", len(xs), len(ys))
	}
	nf := len(xs[0])

	pos := 0
	for _, y := range ys {
		if y {
			pos++
		}
	}
	rate := math.Min(math.Max(float64(pos)/float64(len(ys)), 1e-6), 1-1e-6)

	b := &Booster{
		Kind:         ExpansionKind,
		Version:      nn.ArtifactVersion,
		Base:         math.Log(rate / (1 - rate)),
		LearningRate: cfg.LearningRate,
		Features:     nf,
	}

	g := &grower{
		cfg:   cfg,
		edges: make([][]float64, nf),
		bins:  make([][]uint8, len(xs)),
		grad:  make([]float64, len(xs)),
		hess:  make([]float64, len(xs)),
	}
	if g.cfg.Lambda <= 0 {
		g.cfg.Lambda = 1
	}
	g.binFeatures(xs)

	raw := make([]float64, len(xs))
	for i := range raw {
		raw[i] = b.Base
	}
	all := make([]int, len(xs))
	for i := range all {
		all[i] = i
	}

	for r := 0; r < cfg.Rounds; r++ {
		for i := range xs {
			p := nn.Sigmoid(raw[i])
			y := 0.0
			if ys[i] {
				y = 1
			}
			g.grad[i] = p - y
			g.hess[i] = math.Max(p*(1-p), 1e-12)
		}
		t := g.grow(all)
		b.Trees = append(b.Trees, t)
		for i := range xs {
			raw[i] += cfg.LearningRate * t.eval(xs[i])
		}
	}
	return b, nil
}

type grower struct {
	cfg   BoosterTraining
	edges [][]float64 // per-feature upper bin edges
	bins  [][]uint8   // per-row, per-feature bin index
	grad  []float64
	hess  []float64
	nodes tree
}

// binFeatures computes up to cfg.Bins-1 quantile cut points per feature.
func (g *grower) binFeatures(xs [][]float64) {
	nf := len(xs[0])
	nb := max(2, min(g.cfg.Bins, 256))
	col := make([]float64, len(xs))
	for f := 0; f < nf; f++ {
		for i := range xs {
			col[i] = xs[i][f]
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)

		var edges []float64
		for q := 1; q < nb; q++ {
			v := sorted[(q*len(sorted))/nb]
			if len(edges) == 0 || v > edges[len(edges)-1] {
				edges = append(edges, v)
			}
		}
		g.edges[f] = edges
	}
	for i := range xs {
		row := make([]uint8, nf)
		for f := 0; f < nf; f++ {
			row[f] = uint8(sort.SearchFloat64s(g.edges[f], xs[i][f]))
		}
		g.bins[i] = row
	}
}

func (g *grower) grow(rows []int) tree {
	g.nodes = nil
	g.split(rows, 0)
	return g.nodes
}

// split appends the subtree for rows and returns its root index.
func (g *grower) split(rows []int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, treeNode{Feature: -1})

	var G, H float64
	for _, r := range rows {
		G += g.grad[r]
		H += g.hess[r]
	}
	lambda := g.cfg.Lambda
	g.nodes[idx].Value = -G / (H + lambda)

	if depth >= g.cfg.MaxDepth || len(rows) < 2*g.cfg.MinLeaf {
		return idx
	}

	parent := G * G / (H + lambda)
	bestGain, bestF, bestBin := 1e-12, -1, 0
	for f := range g.edges {
		nb := len(g.edges[f]) + 1
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		hc := make([]int, nb)
		for _, r := range rows {
			b := g.bins[r][f]
			hg[b] += g.grad[r]
			hh[b] += g.hess[r]
			hc[b]++
		}
		var gl, hl float64
		cl := 0
		for b := 0; b < nb-1; b++ {
			gl += hg[b]
			hl += hh[b]
			cl += hc[b]
			cr := len(rows) - cl
			if cl < g.cfg.MinLeaf || cr < g.cfg.MinLeaf {
				continue
			}
			gr, hr := G-gl, H-hl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > bestGain {
				bestGain, bestF, bestBin = gain, f, b
			}
		}
	}
	if bestF < 0 {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if int(g.bins[r][bestF]) <= bestBin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := g.split(left, depth+1)
	rt := g.split(right, depth+1)
	g.nodes[idx] = treeNode{Feature: bestF, Threshold: g.edges[bestF][bestBin], Left: l, Right: rt}
	return idx
}

func (b *Booster) Save(dir string) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ExpansionKind, err)
	}
	return util.WriteFileAtomic(filepath.Join(dir, ExpansionFile), raw)
}

// LoadBooster reads the optional expansion artifact. Any failure is reported
// as models.ErrExpansionModelUnavailable, which callers treat as non-fatal.
func LoadBooster(dir string) (*Booster, error) {
	wrap := func(err error) error {
		return models.WrapError("load "+ExpansionFile, models.ErrExpansionModelUnavailable, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ExpansionFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError("load "+ExpansionFile, models.ErrExpansionModelUnavailable, "artifact absent")
		}
		return nil, wrap(err)
	}
	var b Booster
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, wrap(err)
	}
	if b.Kind != ExpansionKind || b.Features != models.FusedDim {
		return nil, wrap(fmt.Errorf("kind %q with %d features", b.Kind, b.Features))
	}
	for ti, t := range b.Trees {
		if err := t.validate(b.Features); err != nil {
			return nil, wrap(fmt.Errorf("tree %d: %w", ti, err))
		}
	}
	return &b, nil
}

// validate checks that every split references a real feature and that child
// indices point forward, which rules out cycles.
func (t tree) validate(features int) error {
	if len(t) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= features {
			return fmt.Errorf("node %d uses feature %d", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t) || n.Right >= len(t) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}
