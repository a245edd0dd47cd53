// Package costmap defines the 2D cost grid the planner scores
// trajectories against, plus the collaborator interface that supplies
// it. Costmap construction and inflation happen elsewhere; the planner
// only consumes per-cycle snapshots.
package costmap

import (
	"github.com/golang/geo/r3"

	"go.viam.com/localplanner/frame"
)

// Cell cost values. Anything between FreeSpace and
// InscribedInflatedObstacle is a scalar traversal cost from inflation.
const (
	FreeSpace                 uint8 = 0
	InscribedInflatedObstacle uint8 = 253
	LethalObstacle            uint8 = 254
	NoInformation             uint8 = 255
)

// Snapshot is a fixed copy of the cost grid taken at the start of a
// control cycle. Mutations to the live map after the copy are not
// observed.
type Snapshot struct {
	sizeX      int
	sizeY      int
	resolution float64
	originX    float64
	originY    float64
	costs      []uint8
}

// NewSnapshot returns a snapshot of the given dimensions with every
// cell set to FreeSpace. Resolution is meters per cell; the origin is
// the world position of cell (0, 0)'s lower-left corner.
func NewSnapshot(sizeX, sizeY int, resolution, originX, originY float64) *Snapshot {
	return &Snapshot{
		sizeX:      sizeX,
		sizeY:      sizeY,
		resolution: resolution,
		originX:    originX,
		originY:    originY,
		costs:      make([]uint8, sizeX*sizeY),
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.costs = make([]uint8, len(s.costs))
	copy(out.costs, s.costs)
	return &out
}

// SizeX returns the grid width in cells.
func (s *Snapshot) SizeX() int { return s.sizeX }

// SizeY returns the grid height in cells.
func (s *Snapshot) SizeY() int { return s.sizeY }

// Resolution returns meters per cell.
func (s *Snapshot) Resolution() float64 { return s.resolution }

// Origin returns the world coordinates of the grid origin.
func (s *Snapshot) Origin() (float64, float64) { return s.originX, s.originY }

// InBounds reports whether the cell coordinates fall inside the grid.
func (s *Snapshot) InBounds(mx, my int) bool {
	return mx >= 0 && my >= 0 && mx < s.sizeX && my < s.sizeY
}

// Cost returns the cost at the given cell. Out-of-bounds reads return
// NoInformation.
func (s *Snapshot) Cost(mx, my int) uint8 {
	if !s.InBounds(mx, my) {
		return NoInformation
	}
	return s.costs[my*s.sizeX+mx]
}

// SetCost writes the cost at the given cell; out-of-bounds writes are
// dropped.
func (s *Snapshot) SetCost(mx, my int, cost uint8) {
	if !s.InBounds(mx, my) {
		return
	}
	s.costs[my*s.sizeX+mx] = cost
}

// WorldToMap converts world coordinates to cell coordinates. The third
// return is false when the point falls off the grid.
func (s *Snapshot) WorldToMap(wx, wy float64) (int, int, bool) {
	if wx < s.originX || wy < s.originY {
		return 0, 0, false
	}
	mx := int((wx - s.originX) / s.resolution)
	my := int((wy - s.originY) / s.resolution)
	if mx >= s.sizeX || my >= s.sizeY {
		return 0, 0, false
	}
	return mx, my, true
}

// MapToWorld returns the world coordinates of a cell's center.
func (s *Snapshot) MapToWorld(mx, my int) (float64, float64) {
	wx := s.originX + (float64(mx)+0.5)*s.resolution
	wy := s.originY + (float64(my)+0.5)*s.resolution
	return wx, wy
}

// ClearAround sets every cell whose center lies within radius meters of
// the world point (wx, wy) to FreeSpace.
func (s *Snapshot) ClearAround(wx, wy, radius float64) {
	if radius <= 0 {
		return
	}
	cells := int(radius/s.resolution) + 1
	cx, cy, ok := s.WorldToMap(wx, wy)
	if !ok {
		return
	}
	rSq := radius * radius
	for my := cy - cells; my <= cy+cells; my++ {
		for mx := cx - cells; mx <= cx+cells; mx++ {
			if !s.InBounds(mx, my) {
				continue
			}
			px, py := s.MapToWorld(mx, my)
			if (px-wx)*(px-wx)+(py-wy)*(py-wy) <= rSq {
				s.costs[my*s.sizeX+mx] = FreeSpace
			}
		}
	}
}

// Source is the capability surface the planner needs from whatever owns
// the live costmap. It mirrors the narrow slice of the map server the
// controller consumes; the planner holds a Source handle and never the
// map itself.
type Source interface {
	// SnapshotCopy returns a copy of the current grid. Called once per
	// control cycle; the copy is the cycle's world state.
	SnapshotCopy() *Snapshot
	// ClearRobotFootprint zeroes the cells under the robot in the live
	// map so the robot does not score itself as an obstacle.
	ClearRobotFootprint()
	// RobotPose returns the robot pose in the global cost frame; false
	// when the pose is unavailable this cycle.
	RobotPose() (frame.Stamped, bool)
	// Footprint returns the robot outline in the base frame. Z is
	// ignored.
	Footprint() []r3.Vector
	InscribedRadius() float64
	CircumscribedRadius() float64
	GlobalFrameID() string
	BaseFrameID() string
	SizeCellsX() int
	SizeCellsY() int
	Resolution() float64
}
