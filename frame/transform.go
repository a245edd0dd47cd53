package frame

import (
	"math"

	"github.com/pkg/errors"
)

// Transform lookup failures, distinguished so callers can log them
// separately. All three mean the same thing to a control cycle: no
// command this tick.
var (
	ErrLookup        = errors.New("no transform available between frames")
	ErrConnectivity  = errors.New("frames are not connected in the transform tree")
	ErrExtrapolation = errors.New("transform requested outside the available time range")
)

// Transformer resolves poses between named reference frames. The time
// carried by the stamped pose selects which snapshot of the transform
// tree to use; implementations that only track the latest state may
// ignore it.
type Transformer interface {
	// TransformPose re-expresses p in targetFrame. Failures wrap one of
	// ErrLookup, ErrConnectivity, or ErrExtrapolation.
	TransformPose(p Stamped, targetFrame string) (Stamped, error)
}

// Transform2D is a planar rigid transform: a rotation by Theta followed
// by a translation by (X, Y).
type Transform2D struct {
	X     float64
	Y     float64
	Theta float64
}

// Apply maps a pose expressed in the transform's source frame into its
// target frame.
func (t Transform2D) Apply(p Pose) Pose {
	sin, cos := math.Sincos(t.Theta)
	return Pose{
		X:     t.X + p.X*cos - p.Y*sin,
		Y:     t.Y + p.X*sin + p.Y*cos,
		Theta: p.Theta + t.Theta,
	}
}

// Invert returns the transform mapping the target frame back onto the
// source frame.
func (t Transform2D) Invert() Transform2D {
	sin, cos := math.Sincos(t.Theta)
	return Transform2D{
		X:     -t.X*cos - t.Y*sin,
		Y:     t.X*sin - t.Y*cos,
		Theta: -t.Theta,
	}
}

type framePair struct {
	from string
	to   string
}

// StaticTransformer is a Transformer over a fixed set of frame pairs.
// Registering from→to also makes the inverse to→from resolvable. The
// zero value has no edges; every lookup between two different frames
// fails with ErrLookup.
type StaticTransformer struct {
	edges map[framePair]Transform2D
}

// NewStaticTransformer returns a StaticTransformer with no edges.
func NewStaticTransformer() *StaticTransformer {
	return &StaticTransformer{edges: map[framePair]Transform2D{}}
}

// SetTransform registers the transform taking poses in from into to.
func (st *StaticTransformer) SetTransform(from, to string, t Transform2D) {
	st.edges[framePair{from, to}] = t
	st.edges[framePair{to, from}] = t.Invert()
}

// TransformPose resolves a single registered edge; chained lookups are
// not supported and surface as ErrConnectivity.
func (st *StaticTransformer) TransformPose(p Stamped, targetFrame string) (Stamped, error) {
	if p.FrameID == targetFrame {
		return p, nil
	}
	t, ok := st.edges[framePair{p.FrameID, targetFrame}]
	if !ok {
		for pair := range st.edges {
			if pair.from == p.FrameID || pair.to == p.FrameID {
				return Stamped{}, errors.Wrapf(ErrConnectivity, "%q -> %q", p.FrameID, targetFrame)
			}
		}
		return Stamped{}, errors.Wrapf(ErrLookup, "%q -> %q", p.FrameID, targetFrame)
	}
	return Stamped{Pose: t.Apply(p.Pose), FrameID: targetFrame, Time: p.Time}, nil
}
