package interruption

import "testing"

func TestSlidingWindowMinMax_SuppressesShortBurst(t *testing.T) {
	// A single high sample surrounded by low ones should not survive a
	// window of 3: every window containing it also contains a low sample,
	// so every window's min is 0.1 and the max across windows is 0.1.
	probs := []float64{0.1, 0.1, 0.9, 0.1, 0.1}
	got := slidingWindowMinMax(probs, 3)
	if got != 0.1 {
		t.Fatalf("slidingWindowMinMax = %v, want 0.1", got)
	}
}

func TestSlidingWindowMinMax_SustainedRiseSurvives(t *testing.T) {
	probs := []float64{0.1, 0.8, 0.85, 0.9, 0.1}
	got := slidingWindowMinMax(probs, 3)
	if got != 0.8 {
		t.Fatalf("slidingWindowMinMax = %v, want 0.8", got)
	}
}

func TestSlidingWindowMinMax_InsufficientHistoryReturnsZero(t *testing.T) {
	probs := []float64{0.2, 0.4, 0.6}
	got := slidingWindowMinMax(probs, 10)
	if got != 0 {
		t.Fatalf("slidingWindowMinMax = %v, want 0 (not enough history for a full window)", got)
	}
}

func TestSlidingWindowMinMax_Empty(t *testing.T) {
	if got := slidingWindowMinMax(nil, 3); got != 0 {
		t.Fatalf("slidingWindowMinMax(nil) = %v, want 0", got)
	}
}

func TestMinInterruptionWindowFrames_RoundsUp(t *testing.T) {
	if got := minInterruptionWindowFrames(0.25); got != 25 {
		t.Fatalf("minInterruptionWindowFrames(0.25) = %d, want 25", got)
	}
	if got := minInterruptionWindowFrames(0.241); got != 25 {
		t.Fatalf("minInterruptionWindowFrames(0.241) = %d, want 25 (rounds up)", got)
	}
}
