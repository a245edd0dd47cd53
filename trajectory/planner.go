package trajectory

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/localplanner/costmap"
	"go.viam.com/localplanner/frame"
	"go.viam.com/localplanner/mapgrid"
)

// Cost sentinels for infeasible rollouts.
const (
	// CostCollision marks a rollout that hit an obstacle or left the map.
	CostCollision = -1.0
	// CostUnreachable marks a rollout ending in a cell no wavefront
	// reached, so path and goal distances are undefined there.
	CostUnreachable = -2.0
)

// WorldModel scores a footprint placement against the world; negative
// means collision.
type WorldModel interface {
	FootprintCost(x, y, theta float64, footprint []r3.Vector, inscribedRadius, circumscribedRadius float64) float64
}

// Planner enumerates velocity samples, rolls each out, and selects the
// cheapest feasible trajectory. It is not safe for concurrent use; the
// control loop owns it.
type Planner struct {
	opts   Options
	logger golog.Logger

	worldModel          WorldModel
	costmap             *costmap.Snapshot
	footprint           []r3.Vector
	inscribedRadius     float64
	circumscribedRadius float64

	mapGrid *mapgrid.MapGrid
	plan    []frame.Stamped

	// escape and oscillation bookkeeping, persisting across cycles
	escaping                      bool
	escapeX, escapeY, escapeTheta float64
	rotPosOnly, rotNegOnly        bool
	oscillationX, oscillationY    float64

	// scratch trajectories reused across samples
	traj     Trajectory
	compTraj Trajectory
	bestTraj Trajectory
}

// New returns a Planner over the given collaborators. The snapshot may
// be swapped every cycle with SetCostmap.
func New(
	model WorldModel,
	cm *costmap.Snapshot,
	footprint []r3.Vector,
	inscribedRadius, circumscribedRadius float64,
	opts Options,
	logger golog.Logger,
) *Planner {
	return &Planner{
		opts:                opts,
		logger:              logger,
		worldModel:          model,
		costmap:             cm,
		footprint:           footprint,
		inscribedRadius:     inscribedRadius,
		circumscribedRadius: circumscribedRadius,
		mapGrid:             mapgrid.New(cm.SizeX(), cm.SizeY()),
	}
}

// SetCostmap installs this cycle's snapshot.
func (p *Planner) SetCostmap(cm *costmap.Snapshot) {
	p.costmap = cm
}

// UpdatePlan retains the transformed plan and rebuilds the path and
// goal distance fields from it.
func (p *Planner) UpdatePlan(plan []frame.Stamped) {
	p.plan = p.plan[:0]
	p.plan = append(p.plan, plan...)
	p.mapGrid.Update(p.costmap, p.plan)
}

// CheckTrajectory reports whether driving the sample from the given
// state produces a feasible rollout: collision-free and ending in a
// cell the distance fields reach.
func (p *Planner) CheckTrajectory(x, y, theta, vx, vy, vtheta, vxSamp, vySamp, vthetaSamp float64) bool {
	p.generateTrajectory(x, y, theta, vx, vy, vtheta, vxSamp, vySamp, vthetaSamp, &p.traj)
	return p.traj.Cost >= 0
}

// FindBestPath evaluates the sample space from the given pose and
// velocity and returns the winning trajectory plus the velocity to
// drive. An infeasible result has Cost < 0 and a zero drive command.
func (p *Planner) FindBestPath(pose frame.Pose, vel frame.Velocity) (*Trajectory, frame.Velocity) {
	best := p.createTrajectories(pose.X, pose.Y, pose.Theta, vel.X, vel.Y, vel.Theta)
	if best.Cost < 0 {
		return best, frame.Velocity{}
	}
	return best, frame.Velocity{X: best.XV, Y: best.YV, Theta: best.ThetaV}
}

// createTrajectories explores the velocity sample space and returns the
// cheapest feasible rollout. Ties keep the earlier-enumerated sample.
func (p *Planner) createTrajectories(x, y, theta, vx, vy, vtheta float64) *Trajectory {
	// once the robot has moved on, stop holding it to a past escape or
	// rotation commitment
	if math.Hypot(x-p.oscillationX, y-p.oscillationY) >= p.opts.OscillationResetDist {
		p.rotPosOnly, p.rotNegOnly = false, false
		p.oscillationX, p.oscillationY = x, y
	}
	if p.escaping &&
		(math.Hypot(x-p.escapeX, y-p.escapeY) >= p.opts.EscapeResetDist ||
			math.Abs(frame.ShortestAngularDistance(p.escapeTheta, theta)) >= p.opts.EscapeResetTheta) {
		p.escaping = false
	}

	var maxVelX, minVelX, maxVelTheta, minVelTheta float64
	if p.opts.DWA {
		// dynamic window: only velocities reachable within one control
		// period are considered
		maxVelX = math.Min(p.opts.MaxVelX, vx+p.opts.AccLimX*p.opts.SimPeriod)
		minVelX = math.Max(p.opts.MinVelX, vx-p.opts.AccLimX*p.opts.SimPeriod)
		maxVelTheta = math.Min(p.opts.MaxVelTheta, vtheta+p.opts.AccLimTheta*p.opts.SimPeriod)
		minVelTheta = math.Max(p.opts.MinVelTheta, vtheta-p.opts.AccLimTheta*p.opts.SimPeriod)
	} else {
		maxVelX = math.Min(p.opts.MaxVelX, vx+p.opts.AccLimX*p.opts.SimTime)
		minVelX = math.Max(p.opts.MinVelX, vx-p.opts.AccLimX*p.opts.SimTime)
		maxVelTheta = math.Min(p.opts.MaxVelTheta, vtheta+p.opts.AccLimTheta*p.opts.SimTime)
		minVelTheta = math.Max(p.opts.MinVelTheta, vtheta-p.opts.AccLimTheta*p.opts.SimTime)
	}

	vxSamps := span(minVelX, maxVelX, p.opts.VXSamples)
	// the straight sample leads so ties favor driving straight
	vthetaSamps := []float64{0}
	if p.opts.VThetaSamples > 1 {
		vthetaSamps = append(vthetaSamps, span(minVelTheta, maxVelTheta, p.opts.VThetaSamples-1)...)
	}
	vySamps := []float64{0}
	if p.opts.HolonomicRobot {
		vySamps = append(vySamps, p.opts.YVels...)
	}

	best := &p.bestTraj
	best.Cost = -1
	comp := &p.compTraj

	if !p.escaping {
		for _, vxSamp := range vxSamps {
			for _, vySamp := range vySamps {
				for _, vthetaSamp := range vthetaSamps {
					p.generateTrajectory(x, y, theta, vx, vy, vtheta, vxSamp, vySamp, vthetaSamp, comp)
					if comp.Cost >= 0 && (best.Cost < 0 || comp.Cost < best.Cost) {
						// swap contents so each keeps its own points buffer
						*best, *comp = *comp, *best
					}
				}
			}
		}
		if best.Cost >= 0 {
			return best
		}
		p.logger.Debugf("no feasible translating sample from (%.2f, %.2f, %.2f), trying escape actions", vx, vy, vtheta)
	}

	// escape actions: rotate in place, holding any direction already
	// committed to so the robot does not wobble between the two
	for _, vthetaSamp := range span(minVelTheta, maxVelTheta, p.opts.VThetaSamples) {
		switch {
		case vthetaSamp > 0:
			if p.rotNegOnly {
				continue
			}
			vthetaSamp = math.Max(vthetaSamp, p.opts.MinInPlaceVelTheta)
		case vthetaSamp < 0:
			if p.rotPosOnly {
				continue
			}
			vthetaSamp = math.Min(vthetaSamp, -p.opts.MinInPlaceVelTheta)
		default:
			continue
		}
		p.generateTrajectory(x, y, theta, vx, vy, vtheta, 0, 0, vthetaSamp, comp)
		if comp.Cost >= 0 && (best.Cost < 0 || comp.Cost < best.Cost) {
			*best, *comp = *comp, *best
		}
	}
	if best.Cost >= 0 {
		p.rotPosOnly = best.ThetaV > 0
		p.rotNegOnly = best.ThetaV < 0
		p.oscillationX, p.oscillationY = x, y
		return best
	}

	// last resort: back up
	p.generateTrajectory(x, y, theta, vx, vy, vtheta, p.opts.BackupVel, 0, 0, comp)
	if comp.Cost >= 0 {
		*best, *comp = *comp, *best
		p.escaping = true
		p.escapeX, p.escapeY, p.escapeTheta = x, y, theta
	}
	return best
}

// generateTrajectory rolls out one sample from the given state into
// traj, overwriting it.
func (p *Planner) generateTrajectory(x, y, theta, vx, vy, vtheta, vxSamp, vySamp, vthetaSamp float64, traj *Trajectory) {
	vmag := math.Hypot(vxSamp, vySamp)

	var numSteps int
	if p.opts.HeadingScoring {
		// heading scoring samples the pose at a fixed time offset, so
		// steps are laid out in time rather than arc length
		numSteps = int(math.Ceil(p.opts.SimTime / p.opts.SimGranularity))
	} else {
		numSteps = int(math.Ceil(math.Max(vmag, math.Abs(vthetaSamp)) * p.opts.SimTime / p.opts.SimGranularity))
	}
	if numSteps < 1 {
		numSteps = 1
	}
	dt := p.opts.SimTime / float64(numSteps)

	traj.resetPoints()
	traj.XV = vxSamp
	traj.YV = vySamp
	traj.ThetaV = vthetaSamp
	traj.Cost = CostCollision
	traj.TimeDelta = dt

	vxI, vyI, vthetaI := vx, vy, vtheta
	pathDist, goalDist := mapgrid.Unreachable, mapgrid.Unreachable
	occCost := 0.0
	headingDiff := 0.0
	elapsed := 0.0

	for i := 0; i < numSteps; i++ {
		footprintCost := p.worldModel.FootprintCost(x, y, theta, p.footprint, p.inscribedRadius, p.circumscribedRadius)
		if footprintCost < 0 {
			return
		}
		cellX, cellY, ok := p.costmap.WorldToMap(x, y)
		if !ok {
			return
		}

		occCost = math.Max(occCost, math.Max(footprintCost, float64(p.costmap.Cost(cellX, cellY))))
		pathDist = p.mapGrid.PathDist(cellX, cellY)
		goalDist = p.mapGrid.GoalDist(cellX, cellY)

		if p.opts.HeadingScoring && elapsed >= p.opts.HeadingScoringTimestep && elapsed < p.opts.HeadingScoringTimestep+dt {
			headingDiff = p.headingDiff(x, y, theta)
		}

		traj.AddPoint(Point{X: x, Y: y, Theta: theta})

		vxI = computeNewVelocity(vxSamp, vxI, p.opts.AccLimX, dt)
		vyI = computeNewVelocity(vySamp, vyI, p.opts.AccLimY, dt)
		vthetaI = computeNewVelocity(vthetaSamp, vthetaI, p.opts.AccLimTheta, dt)

		sin, cos := math.Sincos(theta)
		x += (vxI*cos - vyI*sin) * dt
		y += (vxI*sin + vyI*cos) * dt
		theta += vthetaI * dt
		elapsed += dt
	}

	if math.IsInf(pathDist, 1) || math.IsInf(goalDist, 1) {
		traj.Cost = CostUnreachable
		return
	}

	cost := p.opts.PathDistanceBias*pathDist +
		p.opts.GoalDistanceBias*goalDist +
		p.opts.OccdistScale*occCost
	if p.opts.HeadingScoring {
		cost += headingDiffWeight * headingDiff
	}
	traj.Cost = cost
}

// computeNewVelocity moves vi toward the target vg by at most aMax*dt.
func computeNewVelocity(vg, vi, aMax, dt float64) float64 {
	if vg >= vi {
		return math.Min(vg, vi+aMax*dt)
	}
	return math.Max(vg, vi-aMax*dt)
}

// headingDiff returns the absolute angular deviation between the
// sampled heading and the plan tangent at the point HeadingLookahead
// meters beyond the closest plan point.
func (p *Planner) headingDiff(x, y, heading float64) float64 {
	if len(p.plan) == 0 {
		return 0
	}

	here := frame.Pose{X: x, Y: y}
	nearest := 0
	bestSq := math.Inf(1)
	for i := range p.plan {
		if sq := here.SquaredDistanceTo(p.plan[i].Pose); sq < bestSq {
			bestSq = sq
			nearest = i
		}
	}

	ahead := nearest
	traveled := 0.0
	for ahead+1 < len(p.plan) && traveled < p.opts.HeadingLookahead {
		traveled += p.plan[ahead].DistanceTo(p.plan[ahead+1].Pose)
		ahead++
	}

	var tangent float64
	if ahead+1 < len(p.plan) {
		tangent = math.Atan2(p.plan[ahead+1].Y-p.plan[ahead].Y, p.plan[ahead+1].X-p.plan[ahead].X)
	} else if ahead > 0 {
		tangent = math.Atan2(p.plan[ahead].Y-p.plan[ahead-1].Y, p.plan[ahead].X-p.plan[ahead-1].X)
	} else {
		tangent = p.plan[ahead].Theta
	}
	return math.Abs(frame.ShortestAngularDistance(heading, tangent))
}
