package risk

import "testing"

func newTestPolicy() *Policy {
	return NewPolicy(Config{StopLossThreshold: -0.10, FallThreshold: 3})
}

func TestStopLossMember(t *testing.T) {
	p := newTestPolicy()

	if !p.StopLossMember(-0.11) {
		t.Error("roi_since_entry -0.11 should breach member stop-loss")
	}
	if !p.StopLossMember(-0.10) {
		t.Error("roi_since_entry exactly -0.10 should breach member stop-loss (<=)")
	}
	if p.StopLossMember(-0.09) {
		t.Error("roi_since_entry -0.09 should not breach member stop-loss")
	}
}

func TestStopLossNonMember(t *testing.T) {
	p := newTestPolicy()

	if !p.StopLossNonMember(-0.11) {
		t.Error("roi_window_total -0.11 should breach non-member stop-loss")
	}
	if p.StopLossNonMember(-0.10) {
		t.Error("roi_window_total exactly -0.10 should NOT breach non-member stop-loss (strict <)")
	}
}

// TestThreeDayFall mirrors spec scenario S2: [-0.02, 0.0, -0.01] holds at
// counter 2 (not expelled); appending another -0.01 pushes it to 3 (expelled).
func TestThreeDayFall(t *testing.T) {
	p := newTestPolicy()

	notYet := []float64{-0.02, 0.0, -0.01}
	if p.ThreeDayFall(notYet) {
		t.Error("counter should be 2 after [-0.02, 0.0, -0.01], not yet expelled")
	}

	expelled := []float64{-0.02, 0.0, -0.01, -0.01}
	if !p.ThreeDayFall(expelled) {
		t.Error("counter should be 3 after a third consecutive losing day, expelled")
	}
}

func TestThreeDayFallResetsOnPositive(t *testing.T) {
	p := newTestPolicy()

	rois := []float64{-0.01, -0.01, 0.05, -0.01}
	if p.ThreeDayFall(rois) {
		t.Error("a positive day should reset the streak, only one losing day follows it")
	}
}

// TestStopLossPriorityScenario mirrors spec scenario S1: an agent with daily
// ROIs [-0.05, -0.03, -0.04] (a three-day-fall candidate) but also
// roi_since_entry = -0.11 must be classified STOP_LOSS by callers checking
// stop-loss before three-day-fall, which this test asserts both fire so the
// caller's ordering (not this package's) determines priority.
func TestStopLossPriorityScenario(t *testing.T) {
	p := newTestPolicy()

	if !p.StopLossMember(-0.11) {
		t.Fatal("expected stop-loss to apply")
	}
	if !p.ThreeDayFall([]float64{-0.05, -0.03, -0.04}) {
		t.Fatal("expected three-day-fall to also apply; caller must check stop-loss first")
	}
}
