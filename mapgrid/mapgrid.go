// Package mapgrid computes per-cell distance fields over the local
// costmap: distance to the nearest plan cell and distance to the goal
// cell, both as 4-connected BFS wavefronts that treat lethal cells as
// barriers.
package mapgrid

import (
	"math"

	"go.viam.com/localplanner/costmap"
	"go.viam.com/localplanner/frame"
)

// Unreachable marks a cell no wavefront reached.
var Unreachable = math.Inf(1)

// Cell carries the two distance values plus per-field visited flags for
// the current build.
type Cell struct {
	CX, CY   int
	PathDist float64
	GoalDist float64
	PathMark bool
	GoalMark bool
}

// MapGrid holds one Cell per costmap cell. It is rebuilt every control
// cycle; Update does a full reset, seed, and expansion.
type MapGrid struct {
	sizeX int
	sizeY int
	cells []Cell
}

// New returns a MapGrid of the given dimensions with all distances
// unreachable.
func New(sizeX, sizeY int) *MapGrid {
	m := &MapGrid{}
	m.Resize(sizeX, sizeY)
	return m
}

// Resize grows or shrinks the grid, resetting every cell.
func (m *MapGrid) Resize(sizeX, sizeY int) {
	m.sizeX = sizeX
	m.sizeY = sizeY
	if cap(m.cells) < sizeX*sizeY {
		m.cells = make([]Cell, sizeX*sizeY)
	} else {
		m.cells = m.cells[:sizeX*sizeY]
	}
	m.reset()
}

// SizeX returns the grid width in cells.
func (m *MapGrid) SizeX() int { return m.sizeX }

// SizeY returns the grid height in cells.
func (m *MapGrid) SizeY() int { return m.sizeY }

func (m *MapGrid) reset() {
	for i := range m.cells {
		m.cells[i] = Cell{
			CX:       i % m.sizeX,
			CY:       i / m.sizeX,
			PathDist: Unreachable,
			GoalDist: Unreachable,
		}
	}
}

func (m *MapGrid) at(mx, my int) *Cell {
	return &m.cells[my*m.sizeX+mx]
}

func (m *MapGrid) inBounds(mx, my int) bool {
	return mx >= 0 && my >= 0 && mx < m.sizeX && my < m.sizeY
}

// PathDist returns the cell's distance (in cells) to the nearest plan
// cell, or Unreachable.
func (m *MapGrid) PathDist(mx, my int) float64 {
	if !m.inBounds(mx, my) {
		return Unreachable
	}
	return m.at(mx, my).PathDist
}

// GoalDist returns the cell's distance (in cells) to the goal cell, or
// Unreachable.
func (m *MapGrid) GoalDist(mx, my int) float64 {
	if !m.inBounds(mx, my) {
		return Unreachable
	}
	return m.at(mx, my).GoalDist
}

// Update rebuilds both fields from the transformed plan. Every cell the
// plan passes over seeds the path wavefront at distance zero;
// consecutive plan points further apart than one cell are interpolated
// so the seed line has no gaps. The last on-map plan point seeds the
// goal wavefront.
func (m *MapGrid) Update(cm *costmap.Snapshot, plan []frame.Stamped) {
	if cm.SizeX() != m.sizeX || cm.SizeY() != m.sizeY {
		m.Resize(cm.SizeX(), cm.SizeY())
	} else {
		m.reset()
	}
	if len(plan) == 0 {
		return
	}

	var pathQueue []*Cell
	var goalCell *Cell
	seed := func(wx, wy float64) {
		mx, my, ok := cm.WorldToMap(wx, wy)
		if !ok {
			return
		}
		c := m.at(mx, my)
		if !c.PathMark {
			c.PathDist = 0
			c.PathMark = true
			pathQueue = append(pathQueue, c)
		}
		goalCell = c
	}

	res := cm.Resolution()
	for i, p := range plan {
		seed(p.X, p.Y)
		if i+1 >= len(plan) {
			break
		}
		next := plan[i+1]
		dist := p.DistanceTo(next.Pose)
		for d := res; d < dist; d += res {
			f := d / dist
			seed(p.X+(next.X-p.X)*f, p.Y+(next.Y-p.Y)*f)
		}
	}

	m.expand(cm, pathQueue, func(c *Cell) (*float64, *bool) { return &c.PathDist, &c.PathMark })

	if goalCell != nil {
		goalCell.GoalDist = 0
		goalCell.GoalMark = true
		m.expand(cm, []*Cell{goalCell}, func(c *Cell) (*float64, *bool) { return &c.GoalDist, &c.GoalMark })
	}
}

// expand runs one BFS wavefront. field selects which distance/mark pair
// of a cell this wavefront owns.
func (m *MapGrid) expand(cm *costmap.Snapshot, queue []*Cell, field func(*Cell) (*float64, *bool)) {
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curDist, _ := field(cur)

		for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			nx, ny := cur.CX+d[0], cur.CY+d[1]
			if !m.inBounds(nx, ny) {
				continue
			}
			cost := cm.Cost(nx, ny)
			if cost == costmap.LethalObstacle || cost == costmap.NoInformation {
				continue
			}
			n := m.at(nx, ny)
			nDist, nMark := field(n)
			if *nMark {
				continue
			}
			*nDist = *curDist + 1
			*nMark = true
			queue = append(queue, n)
		}
	}
}
