package trajectory

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// default sampling and scoring parameters.
const (
	defaultAccLimX     = 2.5
	defaultAccLimY     = 2.5
	defaultAccLimTheta = 3.2

	defaultSimTime        = 1.0
	defaultSimGranularity = 0.025

	// the control period assumed by the dynamic window; a tenth of a
	// second matches the deceleration used when stopping at the goal.
	defaultSimPeriod = 0.1

	defaultVXSamples     = 3
	defaultVThetaSamples = 20

	defaultPathDistanceBias = 0.6
	defaultGoalDistanceBias = 0.8
	defaultOccdistScale     = 0.01

	defaultHeadingLookahead       = 0.325
	defaultHeadingScoringTimestep = 0.8

	// weight applied to the heading deviation when heading scoring is on.
	headingDiffWeight = 0.3

	defaultOscillationResetDist = 0.05
	defaultEscapeResetDist      = 0.10

	defaultMaxVelX            = 0.5
	defaultMinVelX            = 0.1
	defaultMaxRotationalVel   = 1.0
	defaultMinInPlaceVelTheta = 0.4
	defaultBackupVel          = -0.1
)

// DefaultYVels returns the strafing velocities explored for holonomic
// robots when the caller supplies none.
func DefaultYVels() []float64 {
	return []float64{-0.3, -0.1, 0.1, 0.3}
}

// Options parameterizes the rollout engine. Construct with
// DefaultOptions and override; a zero Options is not usable.
type Options struct {
	AccLimX     float64
	AccLimY     float64
	AccLimTheta float64

	SimTime        float64
	SimGranularity float64
	// SimPeriod is the control period the dynamic window assumes.
	SimPeriod float64

	VXSamples     int
	VThetaSamples int

	PathDistanceBias float64
	GoalDistanceBias float64
	OccdistScale     float64

	HeadingScoring         bool
	HeadingLookahead       float64
	HeadingScoringTimestep float64

	// OscillationResetDist is how far the robot must travel before a
	// committed in-place rotation direction is forgotten.
	OscillationResetDist float64
	// EscapeResetDist and EscapeResetTheta bound how far the robot must
	// move or turn before escape mode ends and translating samples are
	// explored again.
	EscapeResetDist  float64
	EscapeResetTheta float64

	HolonomicRobot bool
	DWA            bool
	// YVels are the strafing velocities explored for holonomic robots,
	// in addition to vy = 0.
	YVels []float64

	MaxVelX            float64
	MinVelX            float64
	MaxVelTheta        float64
	MinVelTheta        float64
	MinInPlaceVelTheta float64
	BackupVel          float64
}

// DefaultOptions returns the stock engine parameters.
func DefaultOptions() Options {
	return Options{
		AccLimX:                defaultAccLimX,
		AccLimY:                defaultAccLimY,
		AccLimTheta:            defaultAccLimTheta,
		SimTime:                defaultSimTime,
		SimGranularity:         defaultSimGranularity,
		SimPeriod:              defaultSimPeriod,
		VXSamples:              defaultVXSamples,
		VThetaSamples:          defaultVThetaSamples,
		PathDistanceBias:       defaultPathDistanceBias,
		GoalDistanceBias:       defaultGoalDistanceBias,
		OccdistScale:           defaultOccdistScale,
		HeadingScoring:         false,
		HeadingLookahead:       defaultHeadingLookahead,
		HeadingScoringTimestep: defaultHeadingScoringTimestep,
		OscillationResetDist:   defaultOscillationResetDist,
		EscapeResetDist:        defaultEscapeResetDist,
		EscapeResetTheta:       math.Pi / 4,
		HolonomicRobot:         true,
		DWA:                    true,
		YVels:                  DefaultYVels(),
		MaxVelX:                defaultMaxVelX,
		MinVelX:                defaultMinVelX,
		MaxVelTheta:            defaultMaxRotationalVel,
		MinVelTheta:            -defaultMaxRotationalVel,
		MinInPlaceVelTheta:     defaultMinInPlaceVelTheta,
		BackupVel:              defaultBackupVel,
	}
}

// span returns n values evenly covering [lo, hi]. n < 2 degenerates to
// the low endpoint.
func span(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
