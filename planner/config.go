package planner

import (
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/localplanner/trajectory"
)

// default goal tolerances and stopped-velocity thresholds.
const (
	defaultYawGoalTolerance = 0.05
	defaultXYGoalTolerance  = 0.10

	defaultTransStoppedVelocity = 1e-2
	defaultRotStoppedVelocity   = 1e-2

	defaultOscillationResetDist = 0.05
	defaultEscapeResetDist      = 0.10
)

// AttributeMap is a loosely-typed configuration bag, as handed over by
// whatever lifecycle host instantiates the planner.
type AttributeMap map[string]interface{}

// Has reports whether the key is present at all.
func (m AttributeMap) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// Config holds every tunable of the planner. Construct with
// DefaultConfig and override fields, or decode an AttributeMap with
// ConfigFromAttributes.
type Config struct {
	YawGoalTolerance float64 `json:"yaw_goal_tolerance"`
	XYGoalTolerance  float64 `json:"xy_goal_tolerance"`

	AccLimX     float64 `json:"acc_lim_x"`
	AccLimY     float64 `json:"acc_lim_y"`
	AccLimTheta float64 `json:"acc_lim_th"`

	SimTime        float64 `json:"sim_time"`
	SimGranularity float64 `json:"sim_granularity"`

	VXSamples     int `json:"vx_samples"`
	VThetaSamples int `json:"vtheta_samples"`

	PathDistanceBias float64 `json:"path_distance_bias"`
	GoalDistanceBias float64 `json:"goal_distance_bias"`
	OccdistScale     float64 `json:"occdist_scale"`

	HeadingLookahead       float64 `json:"heading_lookahead"`
	HeadingScoring         bool    `json:"heading_scoring"`
	HeadingScoringTimestep float64 `json:"heading_scoring_timestep"`

	OscillationResetDist float64 `json:"oscillation_reset_dist"`
	EscapeResetDist      float64 `json:"escape_reset_dist"`
	EscapeResetTheta     float64 `json:"escape_reset_theta"`

	HolonomicRobot bool      `json:"holonomic_robot"`
	DWA            bool      `json:"dwa"`
	YVels          []float64 `json:"y_vels"`

	MaxVelX            float64 `json:"max_vel_x"`
	MinVelX            float64 `json:"min_vel_x"`
	MaxRotationalVel   float64 `json:"max_rotational_vel"`
	MinInPlaceVelTheta float64 `json:"min_in_place_rotational_vel"`
	BackupVel          float64 `json:"backup_vel"`

	PrunePlan bool `json:"prune_plan"`

	TransStoppedVelocity float64 `json:"trans_stopped_velocity"`
	RotStoppedVelocity   float64 `json:"rot_stopped_velocity"`

	// LegacyGoalBehavior reports cycle success even when the terminal
	// stop or rotate action was infeasible, matching older controllers
	// that always claimed success once inside the position tolerance.
	LegacyGoalBehavior bool `json:"legacy_goal_behavior"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	opts := trajectory.DefaultOptions()
	return Config{
		YawGoalTolerance:       defaultYawGoalTolerance,
		XYGoalTolerance:        defaultXYGoalTolerance,
		AccLimX:                opts.AccLimX,
		AccLimY:                opts.AccLimY,
		AccLimTheta:            opts.AccLimTheta,
		SimTime:                opts.SimTime,
		SimGranularity:         opts.SimGranularity,
		VXSamples:              opts.VXSamples,
		VThetaSamples:          opts.VThetaSamples,
		PathDistanceBias:       opts.PathDistanceBias,
		GoalDistanceBias:       opts.GoalDistanceBias,
		OccdistScale:           opts.OccdistScale,
		HeadingLookahead:       opts.HeadingLookahead,
		HeadingScoring:         false,
		HeadingScoringTimestep: opts.HeadingScoringTimestep,
		OscillationResetDist:   defaultOscillationResetDist,
		EscapeResetDist:        defaultEscapeResetDist,
		EscapeResetTheta:       math.Pi / 4,
		HolonomicRobot:         true,
		DWA:                    true,
		YVels:                  trajectory.DefaultYVels(),
		MaxVelX:                opts.MaxVelX,
		MinVelX:                opts.MinVelX,
		MaxRotationalVel:       opts.MaxVelTheta,
		MinInPlaceVelTheta:     opts.MinInPlaceVelTheta,
		BackupVel:              opts.BackupVel,
		PrunePlan:              true,
		TransStoppedVelocity:   defaultTransStoppedVelocity,
		RotStoppedVelocity:     defaultRotStoppedVelocity,
	}
}

// Validate ensures the config is usable. A positive backup velocity is
// deliberately not an error here; the planner warns about it at
// construction instead.
func (cfg *Config) Validate(path string) error {
	var err error
	if cfg.SimTime <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("sim_time must be positive")))
	}
	if cfg.SimGranularity <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("sim_granularity must be positive")))
	}
	if cfg.VXSamples < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("vx_samples must be at least 1")))
	}
	if cfg.VThetaSamples < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("vtheta_samples must be at least 1")))
	}
	if cfg.AccLimX <= 0 || cfg.AccLimY <= 0 || cfg.AccLimTheta <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("acceleration limits must be positive")))
	}
	if cfg.MaxVelX < cfg.MinVelX {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_vel_x must be at least min_vel_x")))
	}
	if cfg.MaxRotationalVel <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_rotational_vel must be positive")))
	}
	if cfg.XYGoalTolerance <= 0 || cfg.YawGoalTolerance <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("goal tolerances must be positive")))
	}
	return err
}

// ConfigFromAttributes decodes a loosely-typed attribute map over the
// defaults, so absent keys keep their stock values. The long-misspelled
// acceleration keys are rejected outright rather than silently ignored.
func ConfigFromAttributes(attributes AttributeMap) (Config, error) {
	cfg := DefaultConfig()

	for _, misspelled := range []string{"acc_limit_x", "acc_limit_y", "acc_limit_th"} {
		if attributes.Has(misspelled) {
			return Config{}, errors.Errorf(
				"found %q; the correct key is %q", misspelled, "acc_lim"+misspelled[len("acc_limit"):])
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &cfg})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return Config{}, errors.Wrap(err, "error decoding planner attributes")
	}
	return cfg, nil
}

// rolloutOptions maps the user-facing config onto the rollout engine's
// parameter set.
func (cfg *Config) rolloutOptions() trajectory.Options {
	opts := trajectory.DefaultOptions()
	opts.AccLimX = cfg.AccLimX
	opts.AccLimY = cfg.AccLimY
	opts.AccLimTheta = cfg.AccLimTheta
	opts.SimTime = cfg.SimTime
	opts.SimGranularity = cfg.SimGranularity
	opts.VXSamples = cfg.VXSamples
	opts.VThetaSamples = cfg.VThetaSamples
	opts.PathDistanceBias = cfg.PathDistanceBias
	opts.GoalDistanceBias = cfg.GoalDistanceBias
	opts.OccdistScale = cfg.OccdistScale
	opts.HeadingScoring = cfg.HeadingScoring
	opts.HeadingLookahead = cfg.HeadingLookahead
	opts.HeadingScoringTimestep = cfg.HeadingScoringTimestep
	opts.OscillationResetDist = cfg.OscillationResetDist
	opts.EscapeResetDist = cfg.EscapeResetDist
	opts.EscapeResetTheta = cfg.EscapeResetTheta
	opts.HolonomicRobot = cfg.HolonomicRobot
	opts.DWA = cfg.DWA
	opts.YVels = cfg.YVels
	opts.MaxVelX = cfg.MaxVelX
	opts.MinVelX = cfg.MinVelX
	opts.MaxVelTheta = cfg.MaxRotationalVel
	opts.MinVelTheta = -cfg.MaxRotationalVel
	opts.MinInPlaceVelTheta = cfg.MinInPlaceVelTheta
	opts.BackupVel = cfg.BackupVel
	return opts
}
