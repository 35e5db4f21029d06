package planner

import (
	"math"

	"github.com/google/uuid"

	"motioncore/internal/config"
	"motioncore/internal/logger"
	"motioncore/internal/sysid"
)

// QueueMove is the move-admission entry point (C5, §4.1). axisDiffM is the
// signed per-axis displacement in metres, numSteps the caller's already
// rounded step counts, speedMPS the commanded feedrate in metres/second.
func (p *Planner) QueueMove(axisDiffM [NumAxis]float64, numSteps [NumAxis]int64, speedMPS float64, cancelable, optimize bool) error {
	r := p.ring

	r.mu.Lock()
	for r.linesCount >= r.capacity && !r.stop {
		r.cond.Wait()
	}
	if r.stop {
		r.mu.Unlock()
		return nil
	}
	writeIdx := r.linesWritePos
	seg := r.segments[writeIdx]
	r.mu.Unlock()

	seg.Reset()
	seg.ID = uuid.New()
	seg.Cancelable = cancelable
	if optimize {
		seg.WaitMS = p.PrintMoveBufferWaitMS
	}

	var axisDiffMM [NumAxis]float64
	for i := 0; i < NumAxis; i++ {
		axisDiffMM[i] = axisDiffM[i] * 1000
		seg.Delta[i] = numSteps[i]
		if seg.Delta[i] != 0 {
			seg.SetMoveBit(i)
		}
		if axisDiffMM[i] >= 0 {
			seg.SetDirectionBit(i)
		}
	}
	seg.finalizeDirBits()

	if !seg.IsXMove() && !seg.IsYMove() && !seg.IsZMove() && !seg.IsEMove() {
		logger.Warnf("queueMove: degenerate move dropped, gid=%d", sysid.GID())
		return nil
	}

	seg.PrimaryAxis = selectPrimaryAxis(seg.Delta)
	seg.StepsRemaining = seg.Delta[seg.PrimaryAxis]

	if seg.IsXYZMove() {
		dx, dy, dz := axisDiffMM[AxisX], axisDiffMM[AxisY], axisDiffMM[AxisZ]
		cartesian := math.Sqrt(dx*dx + dy*dy + dz*dz)
		seg.Distance = math.Max(cartesian, math.Abs(axisDiffMM[AxisE]))
	} else {
		seg.Distance = math.Abs(axisDiffMM[AxisE])
	}

	logger.Debugf("queueMove: gid=%d id=%s primary=%d distance=%.4fmm steps=%d",
		sysid.GID(), seg.ID, seg.PrimaryAxis, seg.Distance, seg.StepsRemaining)

	p.calculateMove(seg, axisDiffMM, speedMPS*1000)

	r.mu.Lock()
	r.linesWritePos = r.nextIndex(writeIdx)
	r.linesCount++
	r.cond.Broadcast()
	r.mu.Unlock()

	return nil
}

// selectPrimaryAxis applies the fixed, asymmetric tie-break priority the
// original firmware uses: Y wins if strictly largest among all four axes;
// else X if strictly largest among {X,Z,E}; else Z if strictly greater than
// E; else E. Ties favour the later-checked axis (E > Z > X > Y). Preserved
// exactly per spec.md's Open Questions guidance — see DESIGN.md.
func selectPrimaryAxis(delta [NumAxis]int64) int {
	dx, dy, dz, de := delta[AxisX], delta[AxisY], delta[AxisZ], delta[AxisE]
	if dy > dx && dy > dz && dy > de {
		return AxisY
	}
	if dx > dz && dx > de {
		return AxisX
	}
	if dz > de {
		return AxisZ
	}
	return AxisE
}

// calculateMove is C5's second half (§4.3): derive fullInterval, per-axis
// speeds, the acceleration budget and the safe entry/exit speed, then hand
// off to the lookahead planner.
func (p *Planner) calculateMove(seg *Segment, axisDiffMM [NumAxis]float64, speedMMPerSec float64) {
	eff := p.cfg.Effective()
	fcpu := float64(p.FCPU)

	minSpeedFloor := speedMMPerSec
	if seg.IsXMove() || seg.IsYMove() {
		if p.cfg.MinimumSpeedMMPerSec > minSpeedFloor {
			minSpeedFloor = p.cfg.MinimumSpeedMMPerSec
		}
	}

	timeForMove := fcpu * seg.Distance / minSpeedFloor
	limitInterval := timeForMove / float64(seg.StepsRemaining)

	var axisInterval [NumAxis]float64
	for i := 0; i < NumAxis; i++ {
		if !seg.IsAxisMove(i) {
			continue
		}
		axisInterval[i] = math.Abs(axisDiffMM[i]) * fcpu / (eff[i].MaxFeedrateMMPerSec * float64(seg.StepsRemaining))
		if axisInterval[i] > limitInterval {
			limitInterval = axisInterval[i]
		}
	}

	fullIntervalTicks := uint64(limitInterval)
	seg.FullInterval = fullIntervalTicks

	timeForMove = float64(fullIntervalTicks) * float64(seg.StepsRemaining)
	invTimeS := fcpu / timeForMove

	for i := 0; i < NumAxis; i++ {
		if seg.IsAxisMove(i) {
			// Re-derive this axis's interval at the actual full-speed timing
			// (not the feedrate-bound interval from the loop above) before
			// it feeds the acceleration computation below.
			axisInterval[i] = timeForMove / float64(seg.Delta[i])
			seg.SpeedAxis[i] = axisDiffMM[i] * invTimeS
		}
	}
	seg.FullSpeed = seg.Distance * invTimeS
	if seg.FullSpeed > 0 {
		seg.InvFullSpeed = 1.0 / seg.FullSpeed
	}

	// Acceleration table selector (§4.3, preserved per Open Questions
	// guidance): whichever table "E moves positively" selects is applied
	// to every moving axis, not just E.
	usePrint := seg.IsEPositiveMove()
	slowest := math.Inf(1)
	for i := 0; i < NumAxis; i++ {
		if !seg.IsAxisMove(i) {
			continue
		}
		accel := eff[i].MaxTravelAccelStepsPerSec2
		if usePrint {
			accel = eff[i].MaxPrintAccelStepsPerSec2
		}
		if candidate := axisInterval[i] * accel; candidate < slowest {
			slowest = candidate
		}
	}
	if math.IsInf(slowest, 1) {
		slowest = 0
	}

	seg.AccelerationPrim = uint64(slowest / axisInterval[seg.PrimaryAxis])
	seg.AccelerationDistance2 = 2 * seg.Distance * slowest * seg.FullSpeed / fcpu
	seg.FAcceleration = uint64(262144.0 * float64(seg.AccelerationPrim) / fcpu)
	seg.VMax = uint64(fcpu / float64(fullIntervalTicks))
	seg.TimeInTicks = uint64(timeForMove)

	errInit := seg.Delta[seg.PrimaryAxis] >> 1
	for i := 0; i < NumAxis; i++ {
		seg.Error[i] = errInit
	}

	seg.Speed = speedMMPerSec
	safe := p.safeSpeed(seg, eff)
	seg.StartSpeed = safe
	seg.EndSpeed = safe
	seg.MinSpeed = safe

	if seg.StartSpeed*seg.StartSpeed+seg.AccelerationDistance2 >= seg.FullSpeed*seg.FullSpeed {
		seg.Nominal = true
	}

	p.updateTrapezoids()
}

// safeSpeed returns the maximum entry/exit speed a segment may take in
// isolation, before any junction assistance from a neighbour (§4.2).
func (p *Planner) safeSpeed(seg *Segment, eff [NumAxis]config.EffectiveAxis) float64 {
	xyJerk := p.cfg.MaxJerkXYMMPerSec
	zJerk := p.cfg.MaxJerkZMMPerSec
	safe := xyJerk * 0.5

	sz := math.Abs(seg.SpeedAxis[AxisZ])
	if seg.PrimaryAxis == AxisZ {
		if sz > 0 {
			if v := zJerk * 0.5 * seg.FullSpeed / sz; v < safe {
				safe = v
			}
		}
	} else if sz > zJerk*0.5 {
		if v := zJerk * 0.5 * seg.FullSpeed / sz; v < safe {
			safe = v
		}
	}

	if seg.IsEMove() {
		se := math.Abs(seg.SpeedAxis[AxisE])
		maxStart := eff[AxisE].MaxStartFeedrateMMPerSec
		if seg.IsXYZMove() {
			if se > 0 {
				if v := 0.5 * maxStart * seg.FullSpeed / se; v < safe {
					safe = v
				}
			}
		} else {
			// A pure-E retraction move overrides the XY jerk floor entirely
			// rather than taking the smaller of the two: a retraction has no
			// XY component for that budget to meaningfully bound.
			safe = 0.5 * maxStart
		}
	}

	if seg.PrimaryAxis == AxisX || seg.PrimaryAxis == AxisY {
		if safe < p.cfg.MinimumSpeedMMPerSec {
			safe = p.cfg.MinimumSpeedMMPerSec
		}
	} else if seg.PrimaryAxis == AxisZ {
		if safe < p.cfg.MinimumZSpeedMMPerSec {
			safe = p.cfg.MinimumZSpeedMMPerSec
		}
	}

	if safe > seg.FullSpeed {
		safe = seg.FullSpeed
	}
	return safe
}
