package planner

import "math"

// updateTrapezoids is the lookahead planner (C6): called synchronously from
// calculateMove once a new segment has been fully parameterised but before
// linesCount is incremented. It propagates reachable junction speeds across
// the mutable tail of the ring. Grounded on PathPlanner::updateTrapezoids.
func (p *Planner) updateTrapezoids() {
	r := p.ring
	write := r.linesWritePos

	maxfirst := r.linesPos
	if maxfirst != write {
		maxfirst = r.nextIndex(maxfirst)
	}

	first := write
	boundary := r.prevIndex(maxfirst)
	for idx := r.prevIndex(write); idx != boundary; idx = r.prevIndex(idx) {
		seg := r.segments[idx]
		if seg.EndSpeedFixed {
			break
		}
		first = idx
	}

	if first == write {
		seg := r.segments[write]
		seg.setBlocked(true)
		seg.StartSpeedFixed = true
		p.updateStepsParameter(seg)
		seg.setBlocked(false)
		return
	}

	firstSeg := r.segments[first]
	firstSeg.setBlocked(true)

	previousIdx := r.prevIndex(write)
	previous := r.segments[previousIdx]
	current := r.segments[write]

	// Z<->non-Z and E-only<->other are the two junction heuristics that
	// short-circuit the full backward/forward relaxation (§4.4).
	if (previous.PrimaryAxis == AxisZ) != (current.PrimaryAxis == AxisZ) {
		p.fixJunctionTransition(previous, current)
		firstSeg.setBlocked(false)
		return
	}
	if previous.IsEOnlyMove() != current.IsEOnlyMove() {
		p.fixJunctionTransition(previous, current)
		firstSeg.setBlocked(false)
		return
	}

	p.computeMaxJunctionSpeed(previous, current)
	p.backwardPlanner(r, write, first)
	p.forwardPlanner(r, first, write)

	// Fly-unblock walk: recompute every touched segment's steps
	// parameters in FIFO order, blocking segment k+1 before unblocking
	// segment k, so the stepping thread can pick up `first` as soon as
	// it is finalised rather than waiting for the whole range.
	for idx := first; ; {
		seg := r.segments[idx]
		nextIdx := r.nextIndex(idx)
		if idx != write {
			r.segments[nextIdx].setBlocked(true)
		}
		seg.InvalidateParameters()
		p.updateStepsParameter(seg)
		seg.setBlocked(false)
		if idx == write {
			break
		}
		idx = nextIdx
	}
}

// fixJunctionTransition handles the Z<->non-Z and E-only<->other boundary
// cases: rather than relax jerk budgets across an incompatible pair, force
// both sides to their own safe floor at the junction.
func (p *Planner) fixJunctionTransition(previous, current *Segment) {
	previous.EndSpeed = previous.MinSpeed
	previous.EndSpeedFixed = true
	previous.InvalidateParameters()
	p.updateStepsParameter(previous)

	current.StartSpeed = current.MinSpeed
	current.StartSpeedFixed = true
	current.InvalidateParameters()
	p.updateStepsParameter(current)
}

// computeMaxJunctionSpeed sets previous.MaxJunctionSpeed from the jerk
// budgets on XY, Z (when either segment moves in Z) and E (§4.5).
func (p *Planner) computeMaxJunctionSpeed(previous, current *Segment) {
	dx := current.SpeedAxis[AxisX] - previous.SpeedAxis[AxisX]
	dy := current.SpeedAxis[AxisY] - previous.SpeedAxis[AxisY]
	jerk := math.Sqrt(dx*dx + dy*dy)

	factor := 1.0
	if jerk > p.cfg.MaxJerkXYMMPerSec {
		factor = p.cfg.MaxJerkXYMMPerSec / jerk
	}

	if current.IsZMove() || previous.IsZMove() {
		dz := math.Abs(current.SpeedAxis[AxisZ] - previous.SpeedAxis[AxisZ])
		if dz > p.cfg.MaxJerkZMMPerSec {
			if f := p.cfg.MaxJerkZMMPerSec / dz; f < factor {
				factor = f
			}
		}
	}

	de := math.Abs(current.SpeedAxis[AxisE] - previous.SpeedAxis[AxisE])
	maxStart := p.cfg.Effective()[AxisE].MaxStartFeedrateMMPerSec
	if de > maxStart {
		if f := maxStart / de; f < factor {
			factor = f
		}
	}

	previous.MaxJunctionSpeed = math.Min(previous.FullSpeed*factor, current.FullSpeed)
}

// backwardPlanner walks from the newest segment (writeIdx) down to first,
// carrying the junction speed reachable by decelerating from the end of the
// queue (§4.6).
func (p *Planner) backwardPlanner(r *ring, writeIdx, firstIdx int) {
	lastJunctionSpeed := r.segments[writeIdx].EndSpeed

	for idx := writeIdx; idx != firstIdx; {
		prevIdx := r.prevIndex(idx)
		act := r.segments[idx]
		previous := r.segments[prevIdx]

		var reachable float64
		if act.Nominal {
			reachable = act.FullSpeed
		} else {
			reachable = math.Sqrt(lastJunctionSpeed*lastJunctionSpeed + act.AccelerationDistance2)
		}

		if reachable >= previous.MaxJunctionSpeed {
			clamped := math.Max(previous.MinSpeed, previous.MaxJunctionSpeed)
			if previous.EndSpeed != clamped {
				previous.EndSpeed = clamped
				previous.InvalidateParameters()
			}
			actClamped := math.Max(act.MinSpeed, previous.MaxJunctionSpeed)
			if act.StartSpeed != actClamped {
				act.StartSpeed = actClamped
				act.InvalidateParameters()
			}
			lastJunctionSpeed = previous.EndSpeed
		} else {
			act.StartSpeed = math.Max(act.MinSpeed, lastJunctionSpeed)
			act.InvalidateParameters()
			previous.EndSpeed = math.Max(previous.MinSpeed, lastJunctionSpeed)
			previous.InvalidateParameters()
			lastJunctionSpeed = previous.EndSpeed
		}

		idx = prevIdx
	}
}

// forwardPlanner walks from first up to the newest segment, carrying the
// junction speed reachable by accelerating from the start of the queue, and
// reconciles it with what the backward pass already fixed (§4.7).
func (p *Planner) forwardPlanner(r *ring, firstIdx, writeIdx int) {
	leftSpeed := r.segments[firstIdx].StartSpeed

	for idx := firstIdx; idx != writeIdx; {
		nextIdx := r.nextIndex(idx)
		act := r.segments[idx]
		next := r.segments[nextIdx]

		var vmaxRight float64
		if act.Nominal {
			vmaxRight = act.FullSpeed
		} else {
			vmaxRight = math.Sqrt(leftSpeed*leftSpeed + act.AccelerationDistance2)
		}

		if vmaxRight > act.EndSpeed {
			if leftSpeed < act.MinSpeed {
				leftSpeed = act.MinSpeed
				act.EndSpeed = math.Sqrt(leftSpeed*leftSpeed + act.AccelerationDistance2)
			}
			act.StartSpeed = leftSpeed

			newLeft := math.Max(math.Min(act.EndSpeed, act.MaxJunctionSpeed), next.MinSpeed)
			next.StartSpeed = newLeft
			if act.EndSpeed == act.MaxJunctionSpeed {
				act.EndSpeedFixed = true
				next.StartSpeedFixed = true
			}
			act.InvalidateParameters()
			leftSpeed = newLeft
		} else {
			act.StartSpeedFixed = true
			act.EndSpeedFixed = true
			act.InvalidateParameters()
			if act.MinSpeed > leftSpeed {
				leftSpeed = act.MinSpeed
				vmaxRight = math.Sqrt(leftSpeed*leftSpeed + act.AccelerationDistance2)
			}
			act.StartSpeed = leftSpeed
			act.EndSpeed = math.Max(act.MinSpeed, vmaxRight)

			newLeft := math.Max(math.Min(act.EndSpeed, act.MaxJunctionSpeed), next.MinSpeed)
			next.StartSpeed = newLeft
			next.StartSpeedFixed = true
			leftSpeed = newLeft
		}

		idx = nextIdx
	}
}

// updateStepsParameter derives vStart/vEnd and the accel/decel step counts
// from the segment's (possibly just-relaxed) boundary speeds, trimming the
// profile to a bare peak if it cannot fit in stepsRemaining (§4.8).
func (p *Planner) updateStepsParameter(seg *Segment) {
	if seg.ParametersUpToDate || seg.Warmup {
		return
	}

	vMax := float64(seg.VMax)
	seg.VStart = uint64(vMax * seg.StartSpeed / seg.FullSpeed)
	seg.VEnd = uint64(vMax * seg.EndSpeed / seg.FullSpeed)

	accel2 := int64(seg.AccelerationPrim) * 2
	if accel2 == 0 {
		accel2 = 1
	}
	vMaxSq := int64(seg.VMax) * int64(seg.VMax)
	vStartSq := int64(seg.VStart) * int64(seg.VStart)
	vEndSq := int64(seg.VEnd) * int64(seg.VEnd)

	seg.AccelSteps = (vMaxSq-vStartSq)/accel2 + 1
	seg.DecelSteps = (vMaxSq-vEndSq)/accel2 + 1

	if seg.AccelSteps+seg.DecelSteps >= seg.StepsRemaining {
		red := (seg.AccelSteps + seg.DecelSteps + 2 - seg.StepsRemaining) / 2
		accelSub := red
		if seg.AccelSteps < accelSub {
			accelSub = seg.AccelSteps
		}
		decelSub := red
		if seg.DecelSteps < decelSub {
			decelSub = seg.DecelSteps
		}
		seg.AccelSteps -= accelSub
		seg.DecelSteps -= decelSub
	}

	seg.ParametersUpToDate = true
}
