package sampler

import "testing"

// fixedSource always returns the same draw, useful for pinning down
// which candidate a weighted draw lands on.
type fixedSource struct{ v float64 }

func (f fixedSource) Float64() float64 { return f.v }

func TestSampleArgmaxShortCircuit(t *testing.T) {
	logits := []float32{0.1, 0.9, 0.3, 0.2}
	opts := Options{Temperature: 0} // 0 ⇒ argmax, spec.md §4.8
	got := Sample(logits, nil, opts, fixedSource{0.999})
	if got != 1 {
		t.Errorf("Sample with Temperature=0 = %d, want 1 (argmax)", got)
	}
}

func TestSampleDoesNotMutateInput(t *testing.T) {
	logits := []float32{1, 2, 3, 4}
	original := append([]float32(nil), logits...)
	opts := DefaultOptions()
	Sample(logits, nil, opts, NewSource(42))
	for i := range logits {
		if logits[i] != original[i] {
			t.Fatalf("Sample mutated caller's logits slice at index %d", i)
		}
	}
}

func TestSampleRepetitionPenaltyDampensRecent(t *testing.T) {
	// With a very strong penalty, the previously emitted top token
	// should no longer win argmax.
	logits := []float32{1.0, 5.0, 1.0}
	opts := Options{Temperature: 0, RepetitionPenalty: 100}
	got := Sample(logits, []int{1}, opts, fixedSource{0})
	if got == 1 {
		t.Errorf("repetition penalty should have suppressed token 1, got %d", got)
	}
}

func TestSampleTopKRestrictsCandidates(t *testing.T) {
	logits := []float32{5, 4, 3, 2, 1}
	opts := Options{Temperature: 1, TopK: 1, TopP: 0} // only the top logit survives
	got := Sample(logits, nil, opts, fixedSource{0.999})
	if got != 0 {
		t.Errorf("TopK=1 should always draw the single surviving candidate (id 0), got %d", got)
	}
}

func TestArgmax(t *testing.T) {
	cases := []struct {
		logits []float32
		want   int
	}{
		{[]float32{1, 2, 3}, 2},
		{[]float32{3, 2, 1}, 0},
		{[]float32{1, 5, 5}, 1}, // first max wins ties
	}
	for _, c := range cases {
		if got := argmax(c.logits); got != c.want {
			t.Errorf("argmax(%v) = %d, want %d", c.logits, got, c.want)
		}
	}
}

func TestNucleusFilterKeepsAtLeastOne(t *testing.T) {
	candidates := []candidate{{id: 0, logit: 10}, {id: 1, logit: -10}, {id: 2, logit: -10}}
	filtered := nucleusFilter(candidates, 0.01)
	if len(filtered) == 0 {
		t.Fatalf("nucleusFilter should never return zero candidates")
	}
	if filtered[0].id != 0 {
		t.Errorf("nucleusFilter should keep the highest-probability candidate first")
	}
}

func TestDrawFromEmptyReturnsZero(t *testing.T) {
	if got := drawFrom(nil, fixedSource{0.5}); got != 0 {
		t.Errorf("drawFrom(nil) = %d, want 0", got)
	}
}

func TestDrawFromPicksHighestWeightAtR0(t *testing.T) {
	candidates := []candidate{{id: 7, logit: 10}, {id: 3, logit: -10}}
	got := drawFrom(candidates, fixedSource{0})
	if got != 7 {
		t.Errorf("drawFrom at r=0 should pick the first (highest-weight) candidate, got %d", got)
	}
}

func TestNewSourceDeterministicForNonZeroSeed(t *testing.T) {
	a := NewSource(123)
	b := NewSource(123)
	for i := 0; i < 5; i++ {
		va, vb := a.Float64(), b.Float64()
		if va != vb {
			t.Fatalf("NewSource(123) should be deterministic, draw %d differed: %v vs %v", i, va, vb)
		}
	}
}
