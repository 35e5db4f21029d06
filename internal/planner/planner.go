package planner

import (
	"context"
	"sync"
	"time"

	"motioncore/internal/config"
	"motioncore/internal/logger"
	"motioncore/internal/pulsesink"
	"motioncore/internal/sysid"
)

// Default timing constants, overridable on the Planner before RunThread.
// The spec leaves their exact values to the deployment; these mirror
// typical Repetier-Firmware-derived defaults.
const (
	DefaultPrintMoveBufferWaitMS = 100
	DefaultMinBufferedMoveTimeMS = 6
	DefaultMoveCacheSize         = 32
)

// Planner is the top-level facade: it owns the segment ring, holds the
// captured machine configuration, and drives one stepping goroutine against
// a PulseSink. It corresponds to PathPlanner in the original firmware, and
// is structured the way the teacher's project.Toolhead wires its trapq,
// lookahead queue and MCU collaborator together.
type Planner struct {
	cfg  *config.Config
	ring *ring
	sink pulsesink.PulseSink

	FCPU                  uint64
	PrintMoveBufferWaitMS int
	MinBufferedMoveTimeMS int

	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	fillUpMode bool
}

// NewPlanner captures cfg and sink (the Design Notes' "immutable
// configuration object captured by the planner at construction") and builds
// a ring of the given capacity.
func NewPlanner(cfg *config.Config, sink pulsesink.PulseSink, capacity int, fcpu uint64) *Planner {
	if capacity < 1 {
		capacity = DefaultMoveCacheSize
	}
	return &Planner{
		cfg:                   cfg,
		ring:                  newRing(capacity),
		sink:                  sink,
		FCPU:                  fcpu,
		PrintMoveBufferWaitMS: DefaultPrintMoveBufferWaitMS,
		MinBufferedMoveTimeMS: DefaultMinBufferedMoveTimeMS,
		fillUpMode:            true,
	}
}

// RunThread starts the pulse sink then the stepping goroutine (§6).
func (p *Planner) RunThread() error {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return nil
	}
	if err := p.sink.Run(); err != nil {
		p.runMu.Unlock()
		return err
	}
	p.ring.clearStop()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.runMu.Unlock()

	p.wg.Add(1)
	go p.stepLoop()

	logger.Infof("planner: stepping thread started gid=%d stats=%+v", sysid.GID(), p.Stats())
	return nil
}

// StopThread sets the stop predicate, stops the pulse sink, and optionally
// joins the stepping goroutine (§6).
func (p *Planner) StopThread(join bool) {
	p.ring.requestStop()

	p.runMu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.runMu.Unlock()

	if err := p.sink.Stop(); err != nil {
		logger.Warnf("planner: pulse sink stop: %v", err)
	}

	if join {
		p.wg.Wait()
	}

	p.runMu.Lock()
	p.running = false
	p.runMu.Unlock()

	logger.Infof("planner: stepping thread stopped stats=%+v", p.Stats())
}

// Reset forwards to the pulse sink only; the ring is never reset directly,
// an intentional restriction per §5 — it is only ever rebuilt by draining.
func (p *Planner) Reset() error {
	return p.sink.Reset()
}

// WaitUntilFinished blocks until the ring is drained and the pulse sink
// reports idle.
func (p *Planner) WaitUntilFinished(ctx context.Context) error {
	p.ring.mu.Lock()
	for p.ring.linesCount > 0 && !p.ring.stop {
		p.ring.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
		p.ring.mu.Lock()
	}
	p.ring.mu.Unlock()
	return p.sink.WaitUntilFinished(ctx)
}

// Close stops the stepping thread and releases the pulse sink if it is
// closeable. This is the Go analogue of PathPlanner's destructor, which
// stopped the thread before freeing every segment's command buffer — here
// the buffers are ordinary Go slices the garbage collector reclaims once
// the ring itself is dropped (SPEC_FULL.md supplemented feature #5).
func (p *Planner) Close() error {
	p.StopThread(true)
	if closer, ok := p.sink.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Stats is a supplemental introspection snapshot (SPEC_FULL.md supplemented
// feature #6): not present in the original, which exposed nothing beyond
// LOG() tracing.
type Stats struct {
	Occupancy     int
	Capacity      int
	LinesPos      int
	LinesWritePos int
}

func (p *Planner) Stats() Stats {
	p.ring.mu.Lock()
	defer p.ring.mu.Unlock()
	return Stats{
		Occupancy:     p.ring.linesCount,
		Capacity:      p.ring.capacity,
		LinesPos:      p.ring.linesPos,
		LinesWritePos: p.ring.linesWritePos,
	}
}

// Config exposes the captured configuration for callers that need to read
// (not mutate in flight) the current profile tables.
func (p *Planner) Config() *config.Config { return p.cfg }
