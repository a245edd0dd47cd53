package costmap

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"

	"go.viam.com/localplanner/frame"
)

// StaticSource is an in-memory Source for tests and simulations. The
// grid and robot pose are settable; everything is guarded by one mutex
// so a simulation loop and the planner may share it.
type StaticSource struct {
	mu                  sync.Mutex
	grid                *Snapshot
	robotPose           frame.Stamped
	havePose            bool
	footprint           []r3.Vector
	inscribedRadius     float64
	circumscribedRadius float64
	globalFrame         string
	baseFrame           string
}

// NewStaticSource returns a StaticSource over a free-space grid of the
// given dimensions with a square footprint of side 2*inscribedRadius.
func NewStaticSource(sizeX, sizeY int, resolution, originX, originY float64, inscribedRadius float64) *StaticSource {
	r := inscribedRadius
	return &StaticSource{
		grid:            NewSnapshot(sizeX, sizeY, resolution, originX, originY),
		inscribedRadius: r,
		// square footprint: circumscribed = inscribed * sqrt(2)
		circumscribedRadius: r * 1.4142135623730951,
		footprint: []r3.Vector{
			{X: r, Y: r},
			{X: -r, Y: r},
			{X: -r, Y: -r},
			{X: r, Y: -r},
		},
		globalFrame: "odom",
		baseFrame:   "base_link",
	}
}

// SetRobotPose updates the pose reported to the planner.
func (s *StaticSource) SetRobotPose(p frame.Stamped) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robotPose = p
	s.havePose = true
}

// DropRobotPose makes subsequent RobotPose calls fail, simulating a
// localization outage.
func (s *StaticSource) DropRobotPose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.havePose = false
}

// SetCost writes a single cell of the live grid.
func (s *StaticSource) SetCost(mx, my int, cost uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid.SetCost(mx, my, cost)
}

// AddObstacle marks every cell touching the world-frame axis-aligned
// rectangle as lethal.
func (s *StaticSource) AddObstacle(minX, minY, maxX, maxY float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.grid.Resolution()
	ox, oy := s.grid.Origin()
	loX, hiX := int(math.Floor((minX-ox)/res)), int(math.Floor((maxX-ox)/res))
	loY, hiY := int(math.Floor((minY-oy)/res)), int(math.Floor((maxY-oy)/res))
	for my := loY; my <= hiY; my++ {
		for mx := loX; mx <= hiX; mx++ {
			// SetCost drops cells off the grid
			s.grid.SetCost(mx, my, LethalObstacle)
		}
	}
}

// SnapshotCopy implements Source.
func (s *StaticSource) SnapshotCopy() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.Clone()
}

// ClearRobotFootprint implements Source by clearing a circumscribed
// circle around the current robot pose.
func (s *StaticSource) ClearRobotFootprint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.havePose {
		return
	}
	s.grid.ClearAround(s.robotPose.X, s.robotPose.Y, s.circumscribedRadius)
}

// RobotPose implements Source.
func (s *StaticSource) RobotPose() (frame.Stamped, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.robotPose, s.havePose
}

// Footprint implements Source.
func (s *StaticSource) Footprint() []r3.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]r3.Vector, len(s.footprint))
	copy(out, s.footprint)
	return out
}

// InscribedRadius implements Source.
func (s *StaticSource) InscribedRadius() float64 { return s.inscribedRadius }

// CircumscribedRadius implements Source.
func (s *StaticSource) CircumscribedRadius() float64 { return s.circumscribedRadius }

// GlobalFrameID implements Source.
func (s *StaticSource) GlobalFrameID() string { return s.globalFrame }

// BaseFrameID implements Source.
func (s *StaticSource) BaseFrameID() string { return s.baseFrame }

// SizeCellsX implements Source.
func (s *StaticSource) SizeCellsX() int { return s.grid.SizeX() }

// SizeCellsY implements Source.
func (s *StaticSource) SizeCellsY() int { return s.grid.SizeY() }

// Resolution implements Source.
func (s *StaticSource) Resolution() float64 { return s.grid.Resolution() }
