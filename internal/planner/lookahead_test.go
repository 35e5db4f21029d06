package planner

import (
	"math"
	"testing"
)

const epsilon = 1e-6

// Scenario 2 (spec §8): two collinear X moves at the same feedrate should
// both end up nominal with matching boundary speeds, since a straight-line
// junction costs zero jerk. The planner never mutates the head segment
// (slot 0 here), so a lead-in move occupies it and the pair under test is
// slots 1 and 2.
func TestLookahead_CollinearMovesStayNominal(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	move := func() {
		if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
			t.Fatalf("QueueMove: %v", err)
		}
	}
	move()
	move()
	move()

	first := p.ring.segments[1]
	second := p.ring.segments[2]

	if math.Abs(first.EndSpeed-second.StartSpeed) > epsilon {
		t.Fatalf("junction speeds diverge: first.EndSpeed=%v second.StartSpeed=%v", first.EndSpeed, second.StartSpeed)
	}
	if math.Abs(first.EndSpeed-first.FullSpeed) > epsilon {
		t.Fatalf("first.EndSpeed=%v should reach fullSpeed=%v on a collinear junction", first.EndSpeed, first.FullSpeed)
	}
}

// Scenario 3 (spec §8): a 90 degree X->Y corner clamps the junction speed to
// maxJerk/jerk * fullSpeed. A lead-in move occupies the head slot, which the
// planner never mutates.
func TestLookahead_RightAngleCornerClampsJunctionSpeed(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove lead-in: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove 1: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0, 0.005, 0, 0}, [NumAxis]int64{0, 400, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove 2: %v", err)
	}

	first := p.ring.segments[1]

	wantJunction := testMaxJerkMPS * 1000 / math.Sqrt(50*50+50*50) * 50
	if math.Abs(first.MaxJunctionSpeed-wantJunction) > 0.1 {
		t.Fatalf("maxJunctionSpeed = %v, want ~%v mm/s", first.MaxJunctionSpeed, wantJunction)
	}
	if first.EndSpeed > first.MaxJunctionSpeed+epsilon {
		t.Fatalf("first.EndSpeed=%v exceeds maxJunctionSpeed=%v", first.EndSpeed, first.MaxJunctionSpeed)
	}
}

// Scenario 4 (spec §8): a Z-only move following an XY move forces
// endSpeedFixed on the preceding XY move and startSpeedFixed on the Z move,
// with the preceding move ending at its own safe speed. A lead-in move
// occupies the head slot, which the planner never mutates.
func TestLookahead_ZTransitionFixesJunction(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove lead-in: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove 1: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0, 0, 0.001, 0}, [NumAxis]int64{0, 0, 80, 0}, 0.02, false, false); err != nil {
		t.Fatalf("QueueMove 2: %v", err)
	}

	xy := p.ring.segments[1]
	z := p.ring.segments[2]

	if !xy.EndSpeedFixed {
		t.Fatalf("xy.EndSpeedFixed should be set after a Z transition")
	}
	if !z.StartSpeedFixed {
		t.Fatalf("z.StartSpeedFixed should be set after a Z transition")
	}
	if math.Abs(xy.EndSpeed-xy.MinSpeed) > epsilon {
		t.Fatalf("xy.EndSpeed=%v should equal its own safe speed %v", xy.EndSpeed, xy.MinSpeed)
	}
}

// Scenario 5 (spec §8): back-to-back opposite-direction E-only retractions
// force a full stop at the junction: the E-jerk check binds and both sides
// drop to their own safe speed. A lead-in move occupies the head slot, which
// the planner never mutates, so the junction is actually planned.
func TestLookahead_OppositeRetractionsForceFullStop(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove lead-in: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0, 0, 0, -0.005}, [NumAxis]int64{0, 0, 0, 400}, 0.1, false, false); err != nil {
		t.Fatalf("QueueMove 1: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0, 0, 0, 0.005}, [NumAxis]int64{0, 0, 0, 400}, 0.1, false, false); err != nil {
		t.Fatalf("QueueMove 2: %v", err)
	}

	first := p.ring.segments[1]
	second := p.ring.segments[2]

	if !first.IsEOnlyMove() || !second.IsEOnlyMove() {
		t.Fatalf("both retraction segments should be E-only")
	}
	if math.Abs(first.EndSpeed-first.MinSpeed) > epsilon {
		t.Fatalf("first.EndSpeed=%v should drop to its own safe speed at the E-only junction", first.EndSpeed)
	}
	if math.Abs(second.StartSpeed-second.MinSpeed) > epsilon {
		t.Fatalf("second.StartSpeed=%v should start from its own safe speed at the E-only junction", second.StartSpeed)
	}
}

// Universal invariant 6: a second, no-new-segment pass over updateTrapezoids
// is idempotent modulo the parametersUpToDate bits.
func TestLookahead_UpdateTrapezoidsIdempotent(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	if err := p.QueueMove([NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove 1: %v", err)
	}
	if err := p.QueueMove([NumAxis]float64{0, 0.005, 0, 0}, [NumAxis]int64{0, 400, 0, 0}, 0.05, false, false); err != nil {
		t.Fatalf("QueueMove 2: %v", err)
	}

	// Rewind linesWritePos back to the last-filled slot so the second call
	// sees the same "current" segment calculateMove already left it
	// pointing at, matching the "no new segment" premise of invariant 6.
	p.ring.linesWritePos = p.ring.prevIndex(p.ring.linesWritePos)

	before := snapshotSpeeds(p)
	p.updateTrapezoids()
	after := snapshotSpeeds(p)

	p.ring.linesWritePos = p.ring.nextIndex(p.ring.linesWritePos)

	if before != after {
		t.Fatalf("updateTrapezoids is not idempotent: before=%v after=%v", before, after)
	}
}

// forwardPlanner must leave every adjacent pair's junction speed consistent
// with next.startSpeed = max(min(act.endSpeed, act.maxJunctionSpeed),
// next.minSpeed) regardless of which of its two branches fired for act. An
// earlier draft took a branch that instead copied act.endSpeed into
// next.startSpeed unclamped, which this test would have caught as soon as
// any segment's own minSpeed exceeded the preceding segment's endSpeed.
func TestLookahead_ForwardPlannerJunctionSpeedsAreClamped(t *testing.T) {
	p, _ := newTestPlanner(t, 8)

	moves := []struct {
		deltaM  [NumAxis]float64
		steps   [NumAxis]int64
		feedMPS float64
	}{
		{[NumAxis]float64{0.005, 0, 0, 0}, [NumAxis]int64{400, 0, 0, 0}, 0.05},
		{[NumAxis]float64{0, 0.005, 0, 0}, [NumAxis]int64{0, 400, 0, 0}, 0.05},
		{[NumAxis]float64{0.0002, 0, 0, 0}, [NumAxis]int64{16, 0, 0, 0}, 0.3},
		{[NumAxis]float64{0, 0, 0, 0.005}, [NumAxis]int64{0, 0, 0, 400}, 0.1},
	}
	for i, m := range moves {
		if err := p.QueueMove(m.deltaM, m.steps, m.feedMPS, false, false); err != nil {
			t.Fatalf("QueueMove %d: %v", i, err)
		}
	}

	for i := 0; i < len(moves)-1; i++ {
		act := p.ring.segments[i]
		next := p.ring.segments[i+1]

		want := math.Max(math.Min(act.EndSpeed, act.MaxJunctionSpeed), next.MinSpeed)
		if math.Abs(next.StartSpeed-want) > epsilon {
			t.Fatalf("segment %d->%d: next.StartSpeed=%v, want max(min(endSpeed,maxJunctionSpeed),minSpeed)=%v "+
				"(endSpeed=%v maxJunctionSpeed=%v next.minSpeed=%v)",
				i, i+1, next.StartSpeed, want, act.EndSpeed, act.MaxJunctionSpeed, next.MinSpeed)
		}
	}
}

type speedSnapshot struct {
	startA, endA, startB, endB float64
}

func snapshotSpeeds(p *Planner) speedSnapshot {
	a := p.ring.segments[0]
	b := p.ring.segments[1]
	return speedSnapshot{a.StartSpeed, a.EndSpeed, b.StartSpeed, b.EndSpeed}
}
