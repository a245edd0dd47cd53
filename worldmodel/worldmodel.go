// Package worldmodel answers collision queries for a robot footprint
// placed on a costmap snapshot.
package worldmodel

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/localplanner/costmap"
)

// CollisionCost is returned when a placement is in collision or off the
// known map.
const CollisionCost = -1.0

// CostmapModel scores footprint placements against a costmap snapshot.
// Only the footprint edges are rasterized; the interior is covered by
// the inscribed-radius check on the center cell, which suffices for
// convex footprints.
type CostmapModel struct {
	costmap *costmap.Snapshot
}

// NewCostmapModel returns a model over the given snapshot.
func NewCostmapModel(cm *costmap.Snapshot) *CostmapModel {
	return &CostmapModel{costmap: cm}
}

// SetCostmap swaps in a fresh snapshot for the next cycle.
func (m *CostmapModel) SetCostmap(cm *costmap.Snapshot) {
	m.costmap = cm
}

// FootprintCost returns the maximum cell cost touched by the footprint
// placed at (x, y, theta), or CollisionCost if the placement is in
// collision. Footprint points are in the base frame; Z is ignored.
func (m *CostmapModel) FootprintCost(x, y, theta float64, footprint []r3.Vector, inscribedRadius, circumscribedRadius float64) float64 {
	cx, cy, ok := m.costmap.WorldToMap(x, y)
	if !ok {
		return CollisionCost
	}

	centerCost := m.costmap.Cost(cx, cy)
	if centerCost >= costmap.InscribedInflatedObstacle {
		return CollisionCost
	}

	if len(footprint) < 3 {
		return CollisionCost
	}

	sin, cos := math.Sincos(theta)
	maxCost := float64(centerCost)
	var x0, y0, x1, y1 int
	for i := range footprint {
		a := footprint[i]
		b := footprint[(i+1)%len(footprint)]

		x0, y0, ok = m.costmap.WorldToMap(x+a.X*cos-a.Y*sin, y+a.X*sin+a.Y*cos)
		if !ok {
			return CollisionCost
		}
		x1, y1, ok = m.costmap.WorldToMap(x+b.X*cos-b.Y*sin, y+b.X*sin+b.Y*cos)
		if !ok {
			return CollisionCost
		}

		lineCost := m.lineCost(x0, y0, x1, y1)
		if lineCost < 0 {
			return CollisionCost
		}
		maxCost = math.Max(maxCost, lineCost)
	}
	return maxCost
}

// lineCost rasterizes a grid segment with Bresenham and returns the
// maximum cell cost along it, or CollisionCost on a lethal cell.
func (m *CostmapModel) lineCost(x0, y0, x1, y1 int) float64 {
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy

	maxCost := 0.0
	for {
		c := m.pointCost(x0, y0)
		if c < 0 {
			return CollisionCost
		}
		maxCost = math.Max(maxCost, c)
		if x0 == x1 && y0 == y1 {
			return maxCost
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (m *CostmapModel) pointCost(mx, my int) float64 {
	if !m.costmap.InBounds(mx, my) {
		return CollisionCost
	}
	c := m.costmap.Cost(mx, my)
	if c == costmap.LethalObstacle || c == costmap.NoInformation {
		return CollisionCost
	}
	return float64(c)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
