package planner

import (
	"testing"
	"time"

	"motioncore/internal/config"
	"motioncore/internal/pulsesink"
)

const (
	testFCPU           = 200_000_000
	testStepsPerMM     = 80_000 // steps/metre; SetAxisStepsPerMeter divides by 1000
	testMaxFeedrateMPS = 0.3
	testMaxAccelMPS2   = 3
	testMaxJerkMPS     = 0.02
	testMaxZJerkMPS    = 0.3e-3
	testMaxStartMPS    = 0.04
)

func newTestPlanner(t *testing.T, capacity int) (*Planner, *pulsesink.MemoryPulseSink) {
	t.Helper()
	cfg := config.NewConfig(1)
	cfg.SetMaxFeedrates([3]float64{testMaxFeedrateMPS, testMaxFeedrateMPS, testMaxFeedrateMPS})
	cfg.SetPrintAcceleration([3]float64{testMaxAccelMPS2, testMaxAccelMPS2, testMaxAccelMPS2})
	cfg.SetTravelAcceleration([3]float64{testMaxAccelMPS2, testMaxAccelMPS2, testMaxAccelMPS2})
	cfg.SetAxisStepsPerMeter([3]uint64{testStepsPerMM, testStepsPerMM, testStepsPerMM})
	cfg.SetMaxJerk(testMaxJerkMPS, testMaxZJerkMPS)
	cfg.SetExtruderMaxFeedrate(0, testMaxFeedrateMPS)
	cfg.SetExtruderPrintAcceleration(0, testMaxAccelMPS2)
	cfg.SetExtruderTravelAcceleration(0, testMaxAccelMPS2)
	cfg.SetExtruderAxisStepsPerMeter(0, testStepsPerMM)
	cfg.SetExtruderMaxStartFeedrate(0, testMaxStartMPS)
	if err := cfg.SetExtruder(0); err != nil {
		t.Fatalf("SetExtruder: %v", err)
	}

	sink := pulsesink.NewMemoryPulseSink()
	p := NewPlanner(cfg, sink, capacity, testFCPU)
	return p, sink
}

// Scenario 1 (spec §8): a single 10mm X move at 0.05 m/s.
func TestQueueMove_SingleXMove(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove(
		[NumAxis]float64{0.01, 0, 0, 0},
		[NumAxis]int64{800, 0, 0, 0},
		0.05, false, false,
	); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}

	seg := p.ring.segments[0]
	if seg.PrimaryAxis != AxisX {
		t.Fatalf("primaryAxis = %d, want AxisX", seg.PrimaryAxis)
	}
	if seg.StepsRemaining != 800 {
		t.Fatalf("stepsRemaining = %d, want 800", seg.StepsRemaining)
	}
	if seg.Distance != 10 {
		t.Fatalf("distance = %v, want 10", seg.Distance)
	}
	if seg.FullSpeed < 49.9 || seg.FullSpeed > 50.1 {
		t.Fatalf("fullSpeed = %v, want ~50 mm/s", seg.FullSpeed)
	}
	if !seg.IsPositiveDirection(AxisX) {
		t.Fatalf("direction bit 0 should be set for a positive X move")
	}
	if seg.StartSpeed != seg.EndSpeed {
		t.Fatalf("a lone segment's startSpeed and endSpeed should both equal safeSpeed")
	}
}

// Scenario in the boundary-tests list: an all-zero move is dropped silently
// and the ring is left unchanged.
func TestQueueMove_DegenerateMoveDropped(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove([NumAxis]float64{}, [NumAxis]int64{}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	if p.ring.Len() != 0 {
		t.Fatalf("ring occupancy = %d, want 0 after a degenerate move", p.ring.Len())
	}
}

func TestSelectPrimaryAxis_AsymmetricTieBreak(t *testing.T) {
	cases := []struct {
		name  string
		delta [NumAxis]int64
		want  int
	}{
		{"Y strictly largest wins", [NumAxis]int64{5, 10, 5, 5}, AxisY},
		{"X wins a Y tie", [NumAxis]int64{10, 10, 5, 5}, AxisX},
		{"X strictly largest over Z,E wins", [NumAxis]int64{10, 1, 5, 5}, AxisX},
		{"Z wins an X tie", [NumAxis]int64{10, 1, 10, 5}, AxisZ},
		{"Z strictly greater than E wins", [NumAxis]int64{1, 1, 10, 5}, AxisZ},
		{"E wins a Z tie", [NumAxis]int64{1, 1, 10, 10}, AxisE},
		{"E wins when alone", [NumAxis]int64{0, 0, 0, 10}, AxisE},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := selectPrimaryAxis(c.delta); got != c.want {
				t.Fatalf("selectPrimaryAxis(%v) = %d, want %d", c.delta, got, c.want)
			}
		})
	}
}

// Universal invariant 1: delta[primaryAxis] == stepsRemaining and it is the
// largest magnitude among the four axes.
func TestQueueMove_PrimaryAxisIsLargest(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove(
		[NumAxis]float64{0.01, 0.005, 0, 0.001},
		[NumAxis]int64{800, 400, 0, 80},
		0.1, false, false,
	); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}

	seg := p.ring.segments[0]
	if seg.Delta[seg.PrimaryAxis] != seg.StepsRemaining {
		t.Fatalf("delta[primaryAxis]=%d != stepsRemaining=%d", seg.Delta[seg.PrimaryAxis], seg.StepsRemaining)
	}
	for i := 0; i < NumAxis; i++ {
		if seg.Delta[i] > seg.Delta[seg.PrimaryAxis] {
			t.Fatalf("axis %d delta %d exceeds primary axis delta %d", i, seg.Delta[i], seg.Delta[seg.PrimaryAxis])
		}
	}
}

// Scenario 6 (spec §8): ring saturation blocks the (capacity+1)-th queueMove
// until a segment is consumed.
func TestQueueMove_BlocksWhenRingFull(t *testing.T) {
	const capacity = 4
	p, _ := newTestPlanner(t, capacity)

	for i := 0; i < capacity; i++ {
		if err := p.QueueMove([NumAxis]float64{0.001, 0, 0, 0}, [NumAxis]int64{80, 0, 0, 0}, 0.05, false, false); err != nil {
			t.Fatalf("QueueMove %d: %v", i, err)
		}
	}
	if p.ring.Len() != capacity {
		t.Fatalf("ring occupancy = %d, want %d", p.ring.Len(), capacity)
	}

	done := make(chan struct{})
	go func() {
		_ = p.QueueMove([NumAxis]float64{0.001, 0, 0, 0}, [NumAxis]int64{80, 0, 0, 0}, 0.05, false, false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("QueueMove returned before a slot was freed")
	case <-time.After(50 * time.Millisecond):
	}

	p.ring.mu.Lock()
	p.ring.linesPos = p.ring.nextIndex(p.ring.linesPos)
	p.ring.linesCount--
	p.ring.cond.Broadcast()
	p.ring.mu.Unlock()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("QueueMove did not unblock after a slot was freed")
	}
}
