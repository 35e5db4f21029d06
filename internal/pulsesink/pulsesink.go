// Package pulsesink gives the motion core's external "pulse sink"
// collaborator a concrete Go shape. The planning core never drives step/dir
// pins itself; it hands a PulseSink fully-timed command blocks and leaves
// delivery to whatever is on the other end of the interface, the way the
// teacher's project/chelper package hands timed moves to an opaque
// serialqueue/stepcompress collaborator it never inspects directly.
package pulsesink

import (
	"context"
	"sync"
)

// StepCommand is one pulse-sink command, matching the fixed binary layout
// the host and the external pulse generator agree on: a step mask, a
// direction mask, a cancellable-axis mask, an options byte, and a delay (in
// core ticks) before the command fires.
type StepCommand struct {
	Step            uint8
	Direction       uint8
	CancellableMask uint8
	Options         uint8
	Delay           uint32
}

// PulseSink is the external collaborator the stepping engine drives. It
// corresponds exactly to the six operations the host's design leaves opaque:
// push a finished block of commands, wait for the sink's own queue to drain
// below a watermark, wait for it to fully drain, and the run/stop/reset
// lifecycle.
type PulseSink interface {
	// PushBlock hands over one segment's worth of already-timed commands.
	PushBlock(commands []StepCommand) error

	// WaitUntilLowMoveTime blocks until the sink's own buffered move time
	// has drained below lowWaterTicks core ticks, or ctx is done.
	WaitUntilLowMoveTime(ctx context.Context, lowWaterTicks int) error

	// WaitUntilFinished blocks until every pushed command has been
	// delivered downstream.
	WaitUntilFinished(ctx context.Context) error

	// Run starts delivering pushed blocks. Idempotent.
	Run() error

	// Stop halts delivery without discarding undelivered blocks.
	Stop() error

	// Reset discards any undelivered blocks and returns the sink to its
	// freshly-constructed state.
	Reset() error
}

// MemoryPulseSink is an in-memory PulseSink, used by tests and by
// cmd/motioncore when no serial device is configured. It records every
// pushed block and reports itself finished immediately (unless ctx is
// already done): with no real downstream hardware, a recorded block counts
// as delivered — good enough to exercise the planner/stepper wiring end to
// end.
type MemoryPulseSink struct {
	mu      sync.Mutex
	cond    *sync.Cond
	blocks  [][]StepCommand
	running bool
	reset   bool
}

func NewMemoryPulseSink() *MemoryPulseSink {
	s := &MemoryPulseSink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *MemoryPulseSink) PushBlock(commands []StepCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]StepCommand, len(commands))
	copy(cp, commands)
	s.blocks = append(s.blocks, cp)
	s.cond.Broadcast()
	return nil
}

func (s *MemoryPulseSink) WaitUntilLowMoveTime(ctx context.Context, lowWaterTicks int) error {
	// The in-memory sink never accumulates real delivery latency, so its
	// queue is always "low"; it only needs to honor ctx cancellation.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *MemoryPulseSink) WaitUntilFinished(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *MemoryPulseSink) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *MemoryPulseSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *MemoryPulseSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = nil
	s.reset = true
	return nil
}

// Blocks returns a snapshot of every block pushed so far, for test
// assertions.
func (s *MemoryPulseSink) Blocks() [][]StepCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]StepCommand, len(s.blocks))
	copy(out, s.blocks)
	return out
}
