package planner

import (
	"time"

	"motioncore/internal/logger"
	"motioncore/internal/pulsesink"
	"motioncore/internal/sysid"
)

// stepLoop is the stepping engine (C7, §4.9): a long-running goroutine that
// dequeues finished segments from the ring, synthesises their per-step
// pulse commands, and hands the block to the pulse sink.
func (p *Planner) stepLoop() {
	defer p.wg.Done()
	defer sysid.RecoverStepper(func(interface{}) {})

	r := p.ring

	for {
		r.mu.Lock()
		for r.linesCount == 0 && !r.stop {
			r.cond.Wait()
		}
		if r.linesCount == 0 && r.stop {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		p.maybeFillUp()

		r.mu.Lock()
		if r.linesCount == 0 && r.stop {
			r.mu.Unlock()
			return
		}
		headIdx := r.linesPos
		r.mu.Unlock()

		seg := r.segments[headIdx]

		for seg.Blocked() {
			if r.stopped() {
				return
			}
			logger.Warnf("stepper: head segment blocked, retrying gid=%d", sysid.GID())
			time.Sleep(100 * time.Millisecond)
		}

		p.fixStartAndEndSpeed(seg)
		if !seg.ParametersUpToDate {
			p.updateStepsParameter(seg)
		}

		p.ensureCommandBuffer(seg)
		directionMask, cancellableMask := p.buildMasks(seg)
		p.emitCommands(seg, directionMask, cancellableMask)

		lowWaterTicks := (p.FCPU / 1000) * uint64(p.MinBufferedMoveTimeMS)
		if err := p.sink.WaitUntilLowMoveTime(p.ctx, int(lowWaterTicks)); err != nil {
			return
		}
		if err := p.sink.PushBlock(seg.Commands); err != nil {
			logger.Errorf("stepper: push block failed id=%s: %v", seg.ID, err)
		}

		r.mu.Lock()
		r.linesPos = r.nextIndex(r.linesPos)
		r.linesCount--
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

// maybeFillUp implements the fill-up delay (§4.9 step 2): when the ring is
// below half and the head segment was tagged optimize (waitMS > 0), wait in
// renewable PrintMoveBufferWaitMS windows for more segments to arrive, for
// as long as occupancy keeps growing each window. Fill-up mode itself is
// state carried across calls on the Planner (mirroring the original's
// waitUntilFilledUp local persisting across run() loop iterations): it is
// consumed by a wait cycle here, then unconditionally re-armed once the
// ring is found at or below one segment, whether or not a wait cycle ran.
func (p *Planner) maybeFillUp() {
	r := p.ring

	r.mu.Lock()
	count := r.linesCount
	belowHalf := count*2 < r.capacity
	head := r.segments[r.linesPos]
	waitEligible := p.fillUpMode && belowHalf && head.WaitMS > 0
	r.mu.Unlock()

	if waitEligible {
		lastCount := count
		for {
			windowDeadline := time.Now().Add(time.Duration(p.PrintMoveBufferWaitMS) * time.Millisecond)
			grew := false
			for time.Now().Before(windowDeadline) {
				r.mu.Lock()
				c := r.linesCount
				stop := r.stop
				r.mu.Unlock()

				if stop {
					break
				}
				if c > lastCount {
					grew = true
					lastCount = c
					break
				}
				time.Sleep(2 * time.Millisecond)
			}

			r.mu.Lock()
			stillBelowHalf := r.linesCount*2 < r.capacity
			stop := r.stop
			r.mu.Unlock()

			if !grew || !stillBelowHalf || stop {
				break
			}
		}
		p.fillUpMode = false
	}

	r.mu.Lock()
	if r.linesCount <= 1 {
		p.fillUpMode = true
	}
	r.mu.Unlock()
}

// fixStartAndEndSpeed marks a segment's boundary speeds immutable just
// before it is consumed, the Path::fixStartAndEndSpeed analogue.
func (p *Planner) fixStartAndEndSpeed(seg *Segment) {
	seg.StartSpeedFixed = true
	seg.EndSpeedFixed = true
}

// ensureCommandBuffer grows or shrinks a segment's command buffer to
// exactly stepsRemaining entries (§4.9 step 5).
func (p *Planner) ensureCommandBuffer(seg *Segment) {
	need := int(seg.StepsRemaining)
	if cap(seg.Commands) < need || cap(seg.Commands)-need > 1<<20 {
		seg.Commands = make([]pulsesink.StepCommand, need)
		return
	}
	seg.Commands = seg.Commands[:need]
}

// buildMasks derives the per-step-invariant direction and cancellable bit
// masks for a segment (§4.9 step 6).
func (p *Planner) buildMasks(seg *Segment) (direction, cancellable uint8) {
	eff := p.cfg.Effective()
	bitFor := func(axis int) int {
		if axis == AxisE {
			return eff[AxisE].StepperCommandPosition
		}
		return axis
	}

	for axis := 0; axis < NumAxis; axis++ {
		if !seg.IsAxisMove(axis) {
			continue
		}
		bit := uint8(1) << uint(bitFor(axis))
		if seg.IsPositiveDirection(axis) {
			direction |= bit
		}
		if seg.Cancelable {
			cancellable |= bit
		}
	}
	return direction, cancellable
}

// emitCommands runs the Bresenham DDA across the non-primary axes and the
// discrete accel/cruise/decel velocity integration to produce exactly
// stepsRemaining pulse commands (§4.9 step 7).
func (p *Planner) emitCommands(seg *Segment, direction, cancellable uint8) {
	eff := p.cfg.Effective()
	ePos := eff[AxisE].StepperCommandPosition

	bitFor := func(axis int) int {
		if axis == AxisE {
			return ePos
		}
		return axis
	}

	fcpu := p.FCPU
	vMax := seg.VMax
	vStart := seg.VStart
	vEnd := seg.VEnd
	fAccel := seg.FAcceleration

	var timerAccel, timerDecel uint64
	// vMaxReached tracks the velocity actually integrated to during the
	// accel phase (defaulting to vStart for a segment with no accel steps,
	// e.g. a pure decel profile); the decel overshoot guard subtracts from
	// this, not from the nominal vMax (§4.9, §9 open question: preserved
	// for bit-for-bit equivalence with the original integrator).
	vMaxReached := vStart
	decelStartsAt := seg.StepsRemaining - seg.DecelSteps
	// The block's duration is the sum of the delays actually emitted, which
	// includes the accel/decel ramps, not only the full-speed time.
	var totalTicks uint64

	for step := int64(0); step < seg.StepsRemaining; step++ {
		var stepMask uint8
		for axis := 0; axis < NumAxis; axis++ {
			if axis == seg.PrimaryAxis || !seg.IsAxisMove(axis) {
				continue
			}
			seg.Error[axis] -= seg.Delta[axis]
			if seg.Error[axis] < 0 {
				stepMask |= uint8(1) << uint(bitFor(axis))
				seg.Error[axis] += seg.Delta[seg.PrimaryAxis]
			}
		}
		stepMask |= uint8(1) << uint(bitFor(seg.PrimaryAxis))

		var interval uint64
		switch {
		case step < seg.AccelSteps:
			vReached := vStart + ((timerAccel>>8)*fAccel)>>10
			if vReached > vMax {
				vReached = vMax
			}
			vMaxReached = vReached
			interval = fcpu / vReached
			timerAccel += interval
		case step >= decelStartsAt:
			dv := ((timerDecel >> 8) * fAccel) >> 10
			var v uint64
			if dv > vMaxReached {
				v = vEnd
			} else {
				v = vMaxReached - dv
				if v < vEnd {
					v = vEnd
				}
			}
			interval = fcpu / v
			timerDecel += interval
		default:
			interval = seg.FullInterval
		}

		invariant(interval < 4*fcpu, "stepper: interval %d exceeds 4*F_CPU for segment %s at step %d", interval, seg.ID, step)
		totalTicks += interval

		seg.Commands[step] = pulsesink.StepCommand{
			Step:            stepMask,
			Direction:       direction,
			CancellableMask: cancellable,
			Options:         0, // reserved by the pulse command layout (§6)
			Delay:           uint32(interval),
		}
	}
	seg.TimeInTicks = totalTicks
}
