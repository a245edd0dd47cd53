package planner

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/localplanner/costmap"
	"go.viam.com/localplanner/frame"
)

const planFrame = "map"

type recordingSink struct {
	paths [][]frame.Stamped
}

func (r *recordingSink) PublishPath(path []frame.Stamped) {
	r.paths = append(r.paths, path)
}

// newTestPlanner builds a planner over a free 10x10m map centered on
// the origin, with an identity transform between the plan frame and the
// costmap's global frame.
func newTestPlanner(t *testing.T, cfg Config) (*Planner, *costmap.StaticSource) {
	t.Helper()
	src := costmap.NewStaticSource(200, 200, 0.05, -5, -5, 0.1)
	tf := frame.NewStaticTransformer()
	tf.SetTransform(planFrame, src.GlobalFrameID(), frame.Transform2D{})
	src.SetRobotPose(frame.Stamped{FrameID: src.GlobalFrameID()})
	p, err := New("local_planner", cfg, tf, src, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return p, src
}

func mapPlan(points ...frame.Pose) []frame.Stamped {
	out := make([]frame.Stamped, 0, len(points))
	for _, p := range points {
		out = append(out, frame.Stamped{Pose: p, FrameID: planFrame})
	}
	return out
}

func straightMapPlan(fromX, toX, step float64) []frame.Stamped {
	var poses []frame.Pose
	for x := fromX; x <= toX+step/2; x += step {
		poses = append(poses, frame.Pose{X: x})
	}
	return mapPlan(poses...)
}

func TestUninitializedPlanner(t *testing.T) {
	var p Planner
	test.That(t, errors.Is(p.SetPlan(nil), ErrNotInitialized), test.ShouldBeTrue)
	_, err := p.ComputeVelocityCommands()
	test.That(t, errors.Is(err, ErrNotInitialized), test.ShouldBeTrue)
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
}

func TestInitializeIsIdempotent(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.1)), test.ShouldBeNil)

	// a second initialize warns and leaves state alone
	other := DefaultConfig()
	other.MaxVelX = 99
	tf := frame.NewStaticTransformer()
	err := p.Initialize("other", other, tf, src, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.name, test.ShouldEqual, "local_planner")
	test.That(t, p.cfg.MaxVelX, test.ShouldEqual, 0.5)
	test.That(t, len(p.globalPlan), test.ShouldNotEqual, 0)
}

// A straight plan ahead on an empty map, robot at rest at the origin.
func TestStraightPlanDrivesForward(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.05)), test.ShouldBeNil)

	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd.X, test.ShouldBeGreaterThan, 0)
	test.That(t, cmd.Y, test.ShouldEqual, 0)
	test.That(t, math.Abs(cmd.Theta), test.ShouldBeLessThan, 0.2)
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
}

// Inside the position tolerance with a 1 rad yaw error, stopped.
func TestRotateToGoal(t *testing.T) {
	cfg := DefaultConfig()
	p, _ := newTestPlanner(t, cfg)
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 1.0})), test.ShouldBeNil)

	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd.X, test.ShouldEqual, 0)
	test.That(t, cmd.Y, test.ShouldEqual, 0)
	// spinning up from rest: one period of angular acceleration,
	// positive toward the goal heading, well under both the
	// max-speed-to-stop bound (~2.53) and the velocity cap
	test.That(t, cmd.Theta, test.ShouldAlmostEqual, cfg.AccLimTheta*stopDecelTime)
	test.That(t, p.rotatingToGoal, test.ShouldBeTrue)
}

// An already-spinning robot is capped by max_rotational_vel.
func TestRotateToGoalRespectsVelocityCap(t *testing.T) {
	cfg := DefaultConfig()
	p, _ := newTestPlanner(t, cfg)
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 2.0})), test.ShouldBeNil)

	p.rotatingToGoal = true
	p.UpdateOdometry(frame.Velocity{Theta: 0.9})
	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	// window allows up to 0.9 + 0.32 but the cap is 1.0
	test.That(t, cmd.Theta, test.ShouldBeLessThanOrEqualTo, cfg.MaxRotationalVel)
	test.That(t, cmd.Theta, test.ShouldBeGreaterThan, 0)
}

// The cycle after a rotation closes the yaw gap: still spinning, but
// the rotate phase is over and the flag must drop with it.
func TestRotatingFlagClearsOnceOriented(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 0.02})), test.ShouldBeNil)

	// mid-rotation state: inside both tolerances but angular velocity
	// has not yet decayed below the stopped threshold
	p.rotatingToGoal = true
	p.UpdateOdometry(frame.Velocity{Theta: 0.2})

	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, frame.Velocity{})
	test.That(t, p.rotatingToGoal, test.ShouldBeFalse)
	// not done yet: the base is still moving
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)

	// once the residual spin decays, the next cycle latches done
	p.UpdateOdometry(frame.Velocity{})
	cmd, err = p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, frame.Velocity{})
	test.That(t, p.rotatingToGoal, test.ShouldBeFalse)
	test.That(t, p.IsGoalReached(), test.ShouldBeTrue)
}

func TestStopBeforeRotating(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 1.0})), test.ShouldBeNil)

	// still translating when the position tolerance is met
	p.UpdateOdometry(frame.Velocity{X: 0.4})
	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.rotatingToGoal, test.ShouldBeFalse)
	// one period of deceleration: 0.4 - 2.5*0.1
	test.That(t, cmd.X, test.ShouldAlmostEqual, 0.15)
	test.That(t, cmd.Theta, test.ShouldEqual, 0)
}

// A lethal block in the robot's lane; straight-line motion at the
// current speed is infeasible.
func TestObstacleForcesEvasionOrFailure(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	src.AddObstacle(0.3, -0.2, 0.4, 0.2)
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.05)), test.ShouldBeNil)

	p.UpdateOdometry(frame.Velocity{X: 0.5})
	cmd, err := p.ComputeVelocityCommands()
	if err != nil {
		// acceptable with this few samples
		test.That(t, errors.Is(err, ErrNoTrajectory), test.ShouldBeTrue)
		return
	}
	// whatever was chosen, it is not plowing straight ahead
	straight := cmd.Y == 0 && cmd.Theta == 0
	test.That(t, straight, test.ShouldBeFalse)
}

// DWA keeps commands inside one control period of the current speed.
func TestDWACommandWindow(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.05)), test.ShouldBeNil)

	p.UpdateOdometry(frame.Velocity{X: 0.5})
	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd.X, test.ShouldBeGreaterThanOrEqualTo, 0.25)
	test.That(t, cmd.X, test.ShouldBeLessThanOrEqualTo, 0.75)
}

// A cycle with no plan fails without touching state.
func TestEmptyPlan(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())

	_, err := p.ComputeVelocityCommands()
	test.That(t, errors.Is(err, ErrEmptyPlan), test.ShouldBeTrue)
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)

	// controller state is untouched by the failed cycle
	test.That(t, p.rotatingToGoal, test.ShouldBeFalse)
	test.That(t, p.goalReached.Load(), test.ShouldBeFalse)

	test.That(t, p.SetPlan([]frame.Stamped{}), test.ShouldBeNil)
	_, err = p.ComputeVelocityCommands()
	test.That(t, errors.Is(err, ErrEmptyPlan), test.ShouldBeTrue)
}

// Replacing the plan with a longer one and advancing the robot
// prunes the passed prefix.
func TestPrunePlanKeepsNearSuffix(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.1)), test.ShouldBeNil)
	_, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, p.SetPlan(straightMapPlan(0, 6, 0.1)), test.ShouldBeNil)
	robot := frame.Pose{X: 2}
	src.SetRobotPose(frame.Stamped{Pose: robot, FrameID: src.GlobalFrameID()})
	_, err = p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, len(p.globalPlan), test.ShouldBeGreaterThan, 0)
	first := p.globalPlan[0]
	test.That(t, robot.DistanceTo(first.Pose), test.ShouldBeLessThan, 1.0)
	// pruning keeps a suffix: points stay in original order and spacing
	for i := 1; i < len(p.globalPlan); i++ {
		test.That(t, p.globalPlan[i].X-p.globalPlan[i-1].X, test.ShouldAlmostEqual, 0.1, 1e-9)
	}
}

// Round trip with pruning off: a successful cycle leaves the retained
// plan exactly as set.
func TestNoPruneRetainsWholePlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrunePlan = false
	p, src := newTestPlanner(t, cfg)
	plan := straightMapPlan(0, 4, 0.1)
	test.That(t, p.SetPlan(plan), test.ShouldBeNil)

	src.SetRobotPose(frame.Stamped{Pose: frame.Pose{X: 2}, FrameID: src.GlobalFrameID()})
	_, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.globalPlan, test.ShouldResemble, plan)
}

func TestTransformFailure(t *testing.T) {
	src := costmap.NewStaticSource(200, 200, 0.05, -5, -5, 0.1)
	src.SetRobotPose(frame.Stamped{FrameID: src.GlobalFrameID()})
	// transformer with no edge between the plan frame and the cost frame
	p, err := New("local_planner", DefaultConfig(), frame.NewStaticTransformer(), src, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.1)), test.ShouldBeNil)

	_, err = p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, frame.ErrLookup), test.ShouldBeTrue)
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
}

func TestRobotPoseUnavailable(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.1)), test.ShouldBeNil)
	src.DropRobotPose()

	_, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldNotBeNil)
}

// Terminal correctness: the done state latches and stays latched.
func TestGoalReachedLatches(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	goal := frame.Pose{X: 0.02, Theta: 0.01}
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, goal)), test.ShouldBeNil)
	src.SetRobotPose(frame.Stamped{Pose: frame.Pose{X: 0.0, Theta: 0.0}, FrameID: src.GlobalFrameID()})

	cmd, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, frame.Velocity{})
	test.That(t, p.IsGoalReached(), test.ShouldBeTrue)

	// same inputs, next cycle: still done
	cmd, err = p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, frame.Velocity{})
	test.That(t, p.IsGoalReached(), test.ShouldBeTrue)

	// a fresh plan clears the latch
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.1)), test.ShouldBeNil)
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
}

// IsGoalReached re-derives arrival even if no cycle has latched it.
func TestIsGoalReachedWithoutCycle(t *testing.T) {
	p, src := newTestPlanner(t, DefaultConfig())
	test.That(t, p.SetPlan(mapPlan(frame.Pose{X: 0.05})), test.ShouldBeNil)

	src.SetRobotPose(frame.Stamped{Pose: frame.Pose{X: 0.04}, FrameID: src.GlobalFrameID()})
	test.That(t, p.IsGoalReached(), test.ShouldBeTrue)

	// moving again: not reached
	p.UpdateOdometry(frame.Velocity{X: 0.2})
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
	p.UpdateOdometry(frame.Velocity{})

	// far away: not reached
	src.SetRobotPose(frame.Stamped{Pose: frame.Pose{X: 3}, FrameID: src.GlobalFrameID()})
	test.That(t, p.IsGoalReached(), test.ShouldBeFalse)
}

func TestVisualizationSinks(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	var global, local recordingSink
	p.SetVisualization(&global, &local)
	test.That(t, p.SetPlan(straightMapPlan(0, 4, 0.05)), test.ShouldBeNil)

	_, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(global.paths), test.ShouldEqual, 1)
	test.That(t, len(local.paths), test.ShouldEqual, 1)
	test.That(t, len(global.paths[0]), test.ShouldBeGreaterThan, 0)
	test.That(t, len(local.paths[0]), test.ShouldBeGreaterThan, 0)
	// every published pose carries the cost frame
	test.That(t, global.paths[0][0].FrameID, test.ShouldEqual, "odom")
	test.That(t, local.paths[0][0].FrameID, test.ShouldEqual, "odom")
}

func TestVisualizationAtGoalPublishesGlobalOnly(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	var global, local recordingSink
	p.SetVisualization(&global, &local)
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 1.0})), test.ShouldBeNil)

	_, err := p.ComputeVelocityCommands()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(global.paths), test.ShouldEqual, 1)
	// the local plan is empty at the goal, and empty paths are dropped
	test.That(t, len(local.paths), test.ShouldEqual, 0)
}

func TestLegacyGoalBehavior(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LegacyGoalBehavior = true
	p, src := newTestPlanner(t, cfg)
	// goal inside the position tolerance but the rotation there is
	// blocked by a wall hugging the robot
	src.AddObstacle(0.11, -1, 0.16, 1)
	test.That(t, p.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 3.0})), test.ShouldBeNil)

	cmd, err := p.ComputeVelocityCommands()
	// legacy mode claims success with a zero command even though the
	// rotation was infeasible
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, frame.Velocity{})

	cfg.LegacyGoalBehavior = false
	p2, src2 := newTestPlanner(t, cfg)
	src2.AddObstacle(0.11, -1, 0.16, 1)
	test.That(t, p2.SetPlan(mapPlan(frame.Pose{}, frame.Pose{X: 0.05, Theta: 3.0})), test.ShouldBeNil)
	_, err = p2.ComputeVelocityCommands()
	test.That(t, errors.Is(err, ErrNoTrajectory), test.ShouldBeTrue)
}
