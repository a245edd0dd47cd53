package planner

import (
	"github.com/benbjohnson/clock"

	"go.viam.com/localplanner/frame"
	"go.viam.com/localplanner/trajectory"
)

// PathSink receives an ordered pose sequence for display. Sinks are
// observers only; a slow, absent, or nil sink never changes what the
// planner drives.
type PathSink interface {
	PublishPath(path []frame.Stamped)
}

// visualizer republishes the transformed plan and the winning local
// trajectory each cycle, stamped against an injectable clock.
type visualizer struct {
	globalFrame string
	clk         clock.Clock
	globalPlan  PathSink
	localPlan   PathSink
}

func newVisualizer(globalFrame string) *visualizer {
	return &visualizer{globalFrame: globalFrame, clk: clock.New()}
}

// publish stamps and forwards a path. Empty paths are dropped so
// subscribers never see a zero-length update.
func (v *visualizer) publish(sink PathSink, path []frame.Stamped) {
	if sink == nil || len(path) == 0 {
		return
	}
	now := v.clk.Now()
	out := make([]frame.Stamped, len(path))
	for i, p := range path {
		out[i] = frame.Stamped{Pose: p.Pose, FrameID: v.globalFrame, Time: now}
	}
	sink.PublishPath(out)
}

func (v *visualizer) publishGlobal(path []frame.Stamped) {
	v.publish(v.globalPlan, path)
}

func (v *visualizer) publishLocal(path []frame.Stamped) {
	v.publish(v.localPlan, path)
}

// pathFromTrajectory converts a rollout's integrated poses into a
// displayable path.
func (v *visualizer) pathFromTrajectory(traj *trajectory.Trajectory) []frame.Stamped {
	path := make([]frame.Stamped, 0, traj.NumPoints())
	for i := 0; i < traj.NumPoints(); i++ {
		pt := traj.Point(i)
		path = append(path, frame.Stamped{
			Pose:    frame.Pose{X: pt.X, Y: pt.Y, Theta: pt.Theta},
			FrameID: v.globalFrame,
		})
	}
	return path
}
