// Package planner is a local trajectory planner for a mobile ground
// robot. Each control cycle it consumes the retained global plan and a
// costmap snapshot and produces one body-frame velocity command that
// follows the plan, avoids obstacles, and respects the robot's
// acceleration limits.
package planner

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/localplanner/costmap"
	"go.viam.com/localplanner/frame"
	"go.viam.com/localplanner/trajectory"
	"go.viam.com/localplanner/worldmodel"
)

// Sentinel failures of a control cycle. A caller sees any non-nil error
// as "no command this cycle" and owns recovery.
var (
	ErrNotInitialized = errors.New("planner not initialized")
	ErrEmptyPlan      = errors.New("no plan to follow")
	ErrNoTrajectory   = errors.New("no valid trajectory found")
)

// stopDecelTime is the control period assumed when decelerating at the
// goal, kept consistent with the rollout engine's dynamic window.
const stopDecelTime = 0.1

// pruneDistSq is the squared distance at which pruning stops dropping
// plan prefix points.
const pruneDistSq = 1.0

// Planner drives a robot along a global plan. Construct with New; the
// zero value rejects every operation with ErrNotInitialized.
//
// ComputeVelocityCommands and SetPlan must be serialized by the caller's
// control loop. UpdateOdometry may be called from the transport
// goroutine at any time. IsGoalReached is safe from any goroutine once
// a cycle has latched arrival; its fallback re-derivation reads the
// retained plan and belongs on the control loop.
type Planner struct {
	name   string
	cfg    Config
	logger golog.Logger

	initialized bool
	tf          frame.Transformer
	source      costmap.Source

	globalFrame         string
	baseFrame           string
	footprint           []r3.Vector
	inscribedRadius     float64
	circumscribedRadius float64

	snapshot *costmap.Snapshot
	model    *worldmodel.CostmapModel
	engine   *trajectory.Planner

	odomMu  sync.Mutex
	odomVel frame.Velocity

	globalPlan     []frame.Stamped
	rotatingToGoal bool
	goalReached    atomic.Bool

	viz *visualizer
}

// New constructs and initializes a planner.
func New(name string, cfg Config, tf frame.Transformer, source costmap.Source, logger golog.Logger) (*Planner, error) {
	p := &Planner{}
	if err := p.Initialize(name, cfg, tf, source, logger); err != nil {
		return nil, err
	}
	return p, nil
}

// Initialize wires the planner to its collaborators. It runs once; a
// second call on a live planner warns and changes nothing.
func (p *Planner) Initialize(name string, cfg Config, tf frame.Transformer, source costmap.Source, logger golog.Logger) error {
	if p.initialized {
		p.logger.Warnf("planner %q is already initialized, ignoring", p.name)
		return nil
	}
	if err := cfg.Validate(name); err != nil {
		return err
	}
	if cfg.BackupVel >= 0 {
		logger.Warnf("backup_vel %.2f is not negative; escape maneuvers will drive forward", cfg.BackupVel)
	}

	p.name = name
	p.cfg = cfg
	p.logger = logger
	p.tf = tf
	p.source = source
	p.globalFrame = source.GlobalFrameID()
	p.baseFrame = source.BaseFrameID()
	p.footprint = source.Footprint()
	p.inscribedRadius = source.InscribedRadius()
	p.circumscribedRadius = source.CircumscribedRadius()

	p.snapshot = source.SnapshotCopy()
	p.model = worldmodel.NewCostmapModel(p.snapshot)
	p.engine = trajectory.New(
		p.model, p.snapshot, p.footprint, p.inscribedRadius, p.circumscribedRadius,
		cfg.rolloutOptions(), logger,
	)
	p.viz = newVisualizer(p.globalFrame)

	p.initialized = true
	p.logger.Debugf("planner %q driving %s in frame %s", name, p.baseFrame, p.globalFrame)
	return nil
}

// SetVisualization attaches sinks receiving the transformed global plan
// and the selected local trajectory each cycle. Nil sinks are fine.
func (p *Planner) SetVisualization(globalPlan, localPlan PathSink) {
	p.viz.globalPlan = globalPlan
	p.viz.localPlan = localPlan
}

// SetPlan replaces the retained global plan. The terminal state resets:
// a new plan means a new goal.
func (p *Planner) SetPlan(plan []frame.Stamped) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	p.globalPlan = append(p.globalPlan[:0], plan...)
	p.rotatingToGoal = false
	p.goalReached.Store(false)
	return nil
}

// UpdateOdometry records the latest base-frame velocity sample. Safe to
// call from the transport goroutine.
func (p *Planner) UpdateOdometry(vel frame.Velocity) {
	p.odomMu.Lock()
	p.odomVel = vel
	p.odomMu.Unlock()
	if p.logger != nil {
		p.logger.Debugf("odometry velocity: (%.2f, %.2f, %.2f)", vel.X, vel.Y, vel.Theta)
	}
}

func (p *Planner) odometryVelocity() frame.Velocity {
	p.odomMu.Lock()
	defer p.odomMu.Unlock()
	return p.odomVel
}

func (p *Planner) stopped() bool {
	vel := p.odometryVelocity()
	return math.Abs(vel.X) <= p.cfg.TransStoppedVelocity &&
		math.Abs(vel.Y) <= p.cfg.TransStoppedVelocity &&
		math.Abs(vel.Theta) <= p.cfg.RotStoppedVelocity
}

func (p *Planner) goalPositionReached(pose, goal frame.Pose) bool {
	return pose.DistanceTo(goal) <= p.cfg.XYGoalTolerance
}

func (p *Planner) goalOrientationReached(yaw, goalYaw float64) bool {
	return math.Abs(frame.ShortestAngularDistance(yaw, goalYaw)) <= p.cfg.YawGoalTolerance
}

// IsGoalReached reports whether the robot has arrived: position and
// orientation inside tolerance and the base stopped. Once a cycle has
// latched the terminal state the check is cheap; otherwise the goal
// pose is re-derived from the retained plan.
func (p *Planner) IsGoalReached() bool {
	if !p.initialized {
		return false
	}
	if p.goalReached.Load() {
		return true
	}
	if len(p.globalPlan) == 0 {
		return false
	}
	goal, err := p.tf.TransformPose(p.globalPlan[len(p.globalPlan)-1], p.globalFrame)
	if err != nil {
		p.logger.Errorf("cannot transform goal pose: %s", err)
		return false
	}
	pose, ok := p.source.RobotPose()
	if !ok {
		return false
	}
	return p.goalPositionReached(pose.Pose, goal.Pose) &&
		p.goalOrientationReached(pose.Theta, goal.Theta) &&
		p.stopped()
}

// ComputeVelocityCommands runs one control cycle and returns the
// body-frame command to drive. A non-nil error means no command could
// be produced; planner state and the retained plan survive the failure.
func (p *Planner) ComputeVelocityCommands() (frame.Velocity, error) {
	if !p.initialized {
		return frame.Velocity{}, ErrNotInitialized
	}
	if len(p.globalPlan) == 0 {
		return frame.Velocity{}, ErrEmptyPlan
	}

	globalPose, ok := p.source.RobotPose()
	if !ok {
		return frame.Velocity{}, errors.New("robot pose unavailable")
	}

	transformedPlan, err := p.transformGlobalPlan(globalPose)
	if err != nil {
		return frame.Velocity{}, errors.Wrap(err, "could not transform the global plan into the controller frame")
	}
	if len(transformedPlan) == 0 {
		return frame.Velocity{}, errors.Wrap(ErrEmptyPlan, "plan has no points inside the local window")
	}

	if p.cfg.PrunePlan {
		transformedPlan = p.prunePlan(globalPose.Pose, transformedPlan)
	}

	// refresh this cycle's world state, with the robot itself removed
	p.source.ClearRobotFootprint()
	p.snapshot = p.source.SnapshotCopy()
	p.model.SetCostmap(p.snapshot)
	p.engine.SetCostmap(p.snapshot)

	robotVel := p.odometryVelocity()

	goal := transformedPlan[len(transformedPlan)-1]
	if p.goalPositionReached(globalPose.Pose, goal.Pose) {
		return p.terminalCycle(globalPose.Pose, robotVel, goal, transformedPlan)
	}

	p.engine.UpdatePlan(transformedPlan)
	best, cmd := p.engine.FindBestPath(globalPose.Pose, robotVel)

	p.viz.publishGlobal(transformedPlan)
	if best.Cost < 0 {
		p.viz.publishLocal(nil)
		return frame.Velocity{}, ErrNoTrajectory
	}
	p.viz.publishLocal(p.viz.pathFromTrajectory(best))
	return cmd, nil
}

// terminalCycle handles the cycles after the position tolerance is met:
// decelerate to a stop, rotate onto the goal heading, then latch done.
func (p *Planner) terminalCycle(pose frame.Pose, vel frame.Velocity, goal frame.Stamped, transformedPlan []frame.Stamped) (frame.Velocity, error) {
	// the distance fields still need to cover the terminal rollouts
	// used to validate stop and rotate commands
	p.engine.UpdatePlan(transformedPlan)
	p.viz.publishGlobal(transformedPlan)
	p.viz.publishLocal(nil)

	// reaching the yaw window ends any rotate phase, stopped or not
	oriented := p.goalOrientationReached(pose.Theta, goal.Theta)
	if oriented {
		p.rotatingToGoal = false
		if p.stopped() {
			p.goalReached.Store(true)
		}
		// zero command either way; residual motion decays on its own
		return frame.Velocity{}, nil
	}

	if !p.rotatingToGoal && !p.stopped() {
		cmd, valid := p.stopWithAccLimits(pose, vel)
		if !valid && !p.cfg.LegacyGoalBehavior {
			return frame.Velocity{}, errors.Wrap(ErrNoTrajectory, "unable to stop within acceleration limits")
		}
		return cmd, nil
	}

	p.rotatingToGoal = true
	cmd, valid := p.rotateToGoal(pose, vel, goal.Theta)
	if !valid && !p.cfg.LegacyGoalBehavior {
		return frame.Velocity{}, errors.Wrap(ErrNoTrajectory, "unable to rotate to the goal heading")
	}
	return cmd, nil
}

// stopWithAccLimits sheds as much velocity as one control period allows
// on every axis. The resulting command is validated with a rollout; an
// invalid command degrades to all zeros.
func (p *Planner) stopWithAccLimits(pose frame.Pose, vel frame.Velocity) (frame.Velocity, bool) {
	vx := frame.Sign(vel.X) * math.Max(0, math.Abs(vel.X)-p.cfg.AccLimX*stopDecelTime)
	vy := frame.Sign(vel.Y) * math.Max(0, math.Abs(vel.Y)-p.cfg.AccLimY*stopDecelTime)
	vtheta := frame.Sign(vel.Theta) * math.Max(0, math.Abs(vel.Theta)-p.cfg.AccLimTheta*stopDecelTime)

	if !p.engine.CheckTrajectory(pose.X, pose.Y, pose.Theta, vel.X, vel.Y, vel.Theta, vx, vy, vtheta) {
		return frame.Velocity{}, false
	}
	p.logger.Debugf("slowing down, using (%.2f, %.2f, %.2f)", vx, vy, vtheta)
	return frame.Velocity{X: vx, Y: vy, Theta: vtheta}, true
}

// rotateToGoal produces a pure rotation toward the goal heading: at
// least the in-place minimum, within one period of the current angular
// velocity, and never faster than can still be braked before the goal
// heading. Validated with a zero-translation rollout.
func (p *Planner) rotateToGoal(pose frame.Pose, vel frame.Velocity, goalTheta float64) (frame.Velocity, bool) {
	angDiff := frame.ShortestAngularDistance(pose.Theta, goalTheta)

	var vThetaSamp float64
	if angDiff > 0 {
		vThetaSamp = math.Min(p.cfg.MaxRotationalVel, math.Max(p.cfg.MinInPlaceVelTheta, angDiff))
	} else {
		vThetaSamp = math.Max(-p.cfg.MaxRotationalVel, math.Min(-p.cfg.MinInPlaceVelTheta, angDiff))
	}

	maxAccVel := math.Abs(vel.Theta) + p.cfg.AccLimTheta*stopDecelTime
	minAccVel := math.Abs(vel.Theta) - p.cfg.AccLimTheta*stopDecelTime
	vThetaSamp = frame.Sign(vThetaSamp) * math.Min(math.Max(math.Abs(vThetaSamp), minAccVel), maxAccVel)

	// never command a speed that cannot be shed before reaching the
	// goal heading
	maxSpeedToStop := math.Sqrt(2 * p.cfg.AccLimTheta * math.Abs(angDiff))
	vThetaSamp = frame.Sign(vThetaSamp) * math.Min(maxSpeedToStop, math.Abs(vThetaSamp))

	valid := p.engine.CheckTrajectory(pose.X, pose.Y, pose.Theta, vel.X, vel.Y, vel.Theta, 0, 0, vThetaSamp)
	p.logger.Debugf("rotating to goal, th cmd: %.2f, valid: %t", vThetaSamp, valid)
	if !valid {
		return frame.Velocity{}, false
	}
	return frame.Velocity{Theta: vThetaSamp}, true
}

// transformGlobalPlan re-expresses the retained plan in the global cost
// frame, keeping only the contiguous run of points inside the local
// window around the robot.
func (p *Planner) transformGlobalPlan(globalPose frame.Stamped) ([]frame.Stamped, error) {
	robotInPlan, err := p.tf.TransformPose(globalPose, p.globalPlan[0].FrameID)
	if err != nil {
		return nil, err
	}

	distThreshold := math.Max(float64(p.source.SizeCellsX()), float64(p.source.SizeCellsY())) *
		p.source.Resolution() / 2.0
	sqDistThreshold := distThreshold * distThreshold

	start := -1
	for i := range p.globalPlan {
		if robotInPlan.SquaredDistanceTo(p.globalPlan[i].Pose) <= sqDistThreshold {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil
	}

	var transformed []frame.Stamped
	for _, pt := range p.globalPlan[start:] {
		if robotInPlan.SquaredDistanceTo(pt.Pose) > sqDistThreshold {
			break
		}
		tp, err := p.tf.TransformPose(pt, p.globalFrame)
		if err != nil {
			return nil, err
		}
		transformed = append(transformed, tp)
	}
	return transformed, nil
}

// prunePlan drops the prefix the robot has already passed from both the
// transformed plan and the retained plan, stopping at the first point
// still near the robot.
func (p *Planner) prunePlan(pose frame.Pose, transformed []frame.Stamped) []frame.Stamped {
	cut := 0
	for cut < len(transformed) && pose.SquaredDistanceTo(transformed[cut].Pose) >= pruneDistSq {
		cut++
	}
	if cut == 0 {
		return transformed
	}
	if cut <= len(p.globalPlan) {
		p.globalPlan = p.globalPlan[cut:]
	}
	return transformed[cut:]
}
