// Package planner implements the motion core: the segment model, the
// bounded segment ring, the admission pipeline, the lookahead trapezoid
// planner, and the stepping engine. The algorithm is ported directly from
// original_source/software/path_planner/PathPlanner.cpp (a Redeem/
// Repetier-Firmware derived planner); the Go structuring — package layout,
// struct/method naming, logging idiom — follows the teacher's
// project/toolhead.go; locking uses sync.Mutex/sync.Cond, not a spinlock.
package planner

import (
	"sync/atomic"

	"github.com/google/uuid"

	"motioncore/internal/pulsesink"
)

// Axis indices, fixed at build time.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisE = 3

	NumMovingAxis = 3
	NumAxis       = 4
)

// dirXYZMoveBit is bit 6 of Segment.Dir. The original firmware reuses the
// Z-direction bit (axis 2's direction bit would sit at bit 6 under the
// "bit i+4" rule) to also flag "this segment has an X, Y or Z component",
// which only holds if Z never moves in the negative direction — not a
// safe assumption. This module keeps the bit for wire-format parity (it is
// written into the pulse command stream unchanged, see Design Notes) but
// never reads it back; IsXYZMove/IsZMove below are derived from the
// unambiguous per-axis move bits instead. See DESIGN.md.
const dirXYZMoveBit = 1 << 6

// Segment is one queued move: its geometry, its resolved kinematics, its
// planner state, its DDA accumulators, and its output command buffer. It
// corresponds to the original's Path/PathPlanner segment slot.
type Segment struct {
	ID uuid.UUID

	// Geometry.
	Delta          [NumAxis]int64
	Dir            uint8
	PrimaryAxis    int
	StepsRemaining int64
	Distance       float64

	// Kinematics.
	Speed                 float64
	FullSpeed             float64
	FullInterval          uint64
	SpeedAxis             [NumAxis]float64
	AccelerationPrim      uint64
	AccelerationDistance2 float64
	FAcceleration         uint64
	InvFullSpeed          float64
	VMax                  uint64
	TimeInTicks           uint64

	// Planner state.
	StartSpeed       float64
	EndSpeed         float64
	MinSpeed         float64
	MaxJunctionSpeed float64
	VStart           uint64
	VEnd             uint64
	AccelSteps       int64
	DecelSteps       int64

	// joinFlags, split into named booleans per the Design Notes
	// flag-record re-architecture guidance.
	StartSpeedFixed    bool
	EndSpeedFixed      bool
	ParametersUpToDate bool
	blocked            atomic.Bool

	// flags, likewise split out.
	Warmup     bool
	Nominal    bool
	Cancelable bool
	WaitMS     int

	// DDA state. Indexed directly by axis constant, not compacted to a
	// 3-element "non-primary" array — the primary axis's own slot is
	// never read, so direct indexing is simplest and behaviourally
	// identical to the original's error[3]. See SPEC_FULL.md supplemented
	// feature #2.
	Error [NumAxis]int64

	// Output buffer.
	Commands []pulsesink.StepCommand
}

func NewSegment() *Segment {
	return &Segment{}
}

// Reset clears a segment for reuse, retaining its Commands backing array so
// the stepping engine's buffer-growth logic (§4.9 step 5) can reuse the
// allocation rather than starting from nil every time.
func (s *Segment) Reset() {
	commands := s.Commands
	*s = Segment{Commands: commands[:0]}
}

func (s *Segment) SetMoveBit(axis int)      { s.Dir |= 1 << uint(axis) }
func (s *Segment) IsAxisMove(axis int) bool { return s.Dir&(1<<uint(axis)) != 0 }

func (s *Segment) SetDirectionBit(axis int) { s.Dir |= 1 << uint(axis+4) }
func (s *Segment) IsPositiveDirection(axis int) bool {
	return s.Dir&(1<<uint(axis+4)) != 0
}

func (s *Segment) IsXMove() bool { return s.IsAxisMove(AxisX) }
func (s *Segment) IsYMove() bool { return s.IsAxisMove(AxisY) }
func (s *Segment) IsZMove() bool { return s.IsAxisMove(AxisZ) }
func (s *Segment) IsEMove() bool { return s.IsAxisMove(AxisE) }

func (s *Segment) IsXYZMove() bool   { return s.IsXMove() || s.IsYMove() || s.IsZMove() }
func (s *Segment) IsEOnlyMove() bool { return s.IsEMove() && !s.IsXYZMove() }

func (s *Segment) IsEPositiveMove() bool { return s.IsEMove() && s.IsPositiveDirection(AxisE) }

// finalizeDirBits sets the wire-format-only bit 6 once geometry is fixed.
func (s *Segment) finalizeDirBits() {
	if s.IsXYZMove() {
		s.Dir |= dirXYZMoveBit
	}
}

// Blocked reports whether the planner currently owns this segment. The
// stepping thread must not read or mutate a blocked segment (invariant I6).
func (s *Segment) Blocked() bool { return s.blocked.Load() }

func (s *Segment) setBlocked(v bool) { s.blocked.Store(v) }

// InvalidateParameters clears parametersUpToDate, the Path::invalidateParameter
// analogue invoked by every speed mutation in the backward/forward passes
// (SPEC_FULL.md supplemented feature #1).
func (s *Segment) InvalidateParameters() { s.ParametersUpToDate = false }
