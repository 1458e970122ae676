package fsrs

import "testing"

func TestRetrievabilityDecaysOverTime(t *testing.T) {
	r0 := Retrievability(0, 10)
	r10 := Retrievability(10, 10)
	if !(r0 > r10) {
		t.Fatalf("expected retrievability to decay: r0=%v r10=%v", r0, r10)
	}
	if r0 < 0.999 {
		t.Fatalf("expected retrievability at 0 days to be ~1, got %v", r0)
	}
}

func TestBoostedInitialStateScalesWithSurprise(t *testing.T) {
	low := BoostedInitialState(0)
	high := BoostedInitialState(1)
	if !(high.Stability > low.Stability) {
		t.Fatalf("expected higher surprise to boost stability: low=%v high=%v", low.Stability, high.Stability)
	}
	if high.Difficulty != low.Difficulty {
		t.Fatalf("surprise boost must not affect difficulty: low=%v high=%v", low.Difficulty, high.Difficulty)
	}
}

func TestBoostedInitialStateClampsSurprise(t *testing.T) {
	over := BoostedInitialState(5)
	one := BoostedInitialState(1)
	if over.Stability != one.Stability {
		t.Fatalf("expected surprise > 1 to clamp to 1")
	}
}

func TestNextAgainReducesStabilityRelativeToGood(t *testing.T) {
	base := InitialState(Good)
	again := Next(base, 5, Again)
	good := Next(base, 5, Good)
	if !(again.Stability < good.Stability) {
		t.Fatalf("expected an 'again' rating to yield lower stability than 'good': again=%v good=%v", again.Stability, good.Stability)
	}
}
