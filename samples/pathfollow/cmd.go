// Package main runs the local planner in a small closed-loop
// simulation: a static costmap with one obstacle, a straight global
// plan through it, and a kinematic robot that executes each command
// perfectly. Useful for eyeballing planner behavior without a robot.
package main

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/localplanner/costmap"
	"go.viam.com/localplanner/frame"
	"go.viam.com/localplanner/planner"
)

var logger = golog.NewDevelopmentLogger("pathfollow")

const (
	controlPeriod  = 100 * time.Millisecond
	odometryPeriod = 20 * time.Millisecond
	runTimeout     = 60 * time.Second
)

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// logSink logs published paths instead of rendering them.
type logSink struct {
	name   string
	logger golog.Logger
}

func (s *logSink) PublishPath(path []frame.Stamped) {
	s.logger.Debugf("%s path: %d poses, ends at (%.2f, %.2f)",
		s.name, len(path), path[len(path)-1].X, path[len(path)-1].Y)
}

// simRobot integrates commands into a pose, standing in for a base and
// its odometry.
type simRobot struct {
	mu   sync.Mutex
	pose frame.Pose
	vel  frame.Velocity
}

func (r *simRobot) drive(vel frame.Velocity, dt float64) frame.Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vel = vel
	sin, cos := math.Sincos(r.pose.Theta)
	r.pose.X += (vel.X*cos - vel.Y*sin) * dt
	r.pose.Y += (vel.X*sin + vel.Y*cos) * dt
	r.pose.Theta += vel.Theta * dt
	return r.pose
}

func (r *simRobot) velocity() frame.Velocity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vel
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	src := costmap.NewStaticSource(200, 200, 0.05, -5, -5, 0.1)
	src.AddObstacle(1.5, -0.4, 1.7, 0.4)
	src.SetRobotPose(frame.Stamped{FrameID: src.GlobalFrameID()})

	tf := frame.NewStaticTransformer()
	tf.SetTransform("map", src.GlobalFrameID(), frame.Transform2D{})

	p, err := planner.New("pathfollow", planner.DefaultConfig(), tf, src, logger)
	if err != nil {
		return err
	}
	p.SetVisualization(
		&logSink{name: "global", logger: logger},
		&logSink{name: "local", logger: logger},
	)

	var plan []frame.Stamped
	for x := 0.0; x <= 3.0; x += 0.05 {
		plan = append(plan, frame.Stamped{Pose: frame.Pose{X: x}, FrameID: "map"})
	}
	if err := p.SetPlan(plan); err != nil {
		return err
	}

	robot := &simRobot{}
	clk := clock.New()
	start := clk.Now()

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// odometry feeder, standing in for the transport thread
	g.Go(func() error {
		for {
			if !utils.SelectContextOrWait(ctx, odometryPeriod) {
				return ctx.Err()
			}
			p.UpdateOdometry(robot.velocity())
		}
	})

	// control loop
	g.Go(func() error {
		defer cancel()
		for {
			if !utils.SelectContextOrWait(ctx, controlPeriod) {
				return ctx.Err()
			}
			cmd, err := p.ComputeVelocityCommands()
			if err != nil {
				logger.Warnw("no command this cycle", "error", err)
				cmd = frame.Velocity{}
			}
			pose := robot.drive(cmd, controlPeriod.Seconds())
			src.SetRobotPose(frame.Stamped{Pose: pose, FrameID: src.GlobalFrameID()})
			logger.Infof("pose (%.2f, %.2f, %.2f) cmd (%.2f, %.2f, %.2f)",
				pose.X, pose.Y, pose.Theta, cmd.X, cmd.Y, cmd.Theta)

			if p.IsGoalReached() {
				logger.Infof("goal reached in %v", clk.Since(start))
				return nil
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
