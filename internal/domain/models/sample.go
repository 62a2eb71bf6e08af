package models

// Label is the forward direction class.
type Label int

const (
	LabelBear Label = iota
	LabelNeutral
	LabelBull
)

const (
	NumClasses     = 3
	LabelHorizon   = 5
	LabelThreshold = 0.005
)

func (l Label) String() string {
	switch l {
	case LabelBear:
		return "bear"
	case LabelNeutral:
		return "neutral"
	case LabelBull:
		return "bull"
	default:
		return "unknown"
	}
}

// Tilt is a probability distribution over the three direction classes.
type Tilt struct {
	Bear    float64 `json:"bear"`
	Neutral float64 `json:"neutral"`
	Bull    float64 `json:"bull"`
}

func (t Tilt) Sum() float64 { return t.Bear + t.Neutral + t.Bull }

// Argmax returns the most probable class; ties resolve toward neutral, then bull.
func (t Tilt) Argmax() Label {
	best, label := t.Neutral, LabelNeutral
	if t.Bull > best {
		best, label = t.Bull, LabelBull
	}
	if t.Bear > best {
		label = LabelBear
	}
	return label
}

// SampleWindows is one training position: every model input at Index plus the
// forward label built from returns Index+1 .. Index+LabelHorizon.
type SampleWindows struct {
	Index        int
	LabelHorizon int
	Temporal     TemporalWindow
	Surface      SurfaceGrid
	Geometry     GeometryVector
	Scalars      ScalarFeatures
	Label        Label
}

// Sample is a fused training example.
type Sample struct {
	Fused FusedVector
	Label Label
}
