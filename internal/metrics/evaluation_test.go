package metrics

import (
	"math"
	"strings"
	"testing"
)

func TestEvaluationScores(t *testing.T) {
	e := NewEvaluation(3)
	if e.Accuracy() != 0 {
		t.Fatalf("empty accuracy = %v", e.Accuracy())
	}
	if err := e.Add([]int{0, 0, 1, 1}, []int{0, 1, 1, 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Add([]int{2, 2}, []int{2, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.Total() != 6 || e.Correct() != 4 {
		t.Fatalf("total/correct = %d/%d", e.Total(), e.Correct())
	}
	if math.Abs(e.Accuracy()-4.0/6) > 1e-12 {
		t.Fatalf("accuracy = %v", e.Accuracy())
	}
	if e.Confusion[2][0] != 1 || e.Confusion[0][1] != 1 {
		t.Fatalf("unexpected confusion %v", e.Confusion)
	}
	if p := e.Precision(1); math.Abs(p-2.0/3) > 1e-12 {
		t.Fatalf("precision(1) = %v", p)
	}
	if r := e.Recall(2); r != 0.5 {
		t.Fatalf("recall(2) = %v", r)
	}
	if f := e.F1(0); math.Abs(f-0.5) > 1e-12 {
		t.Fatalf("f1(0) = %v", f)
	}
	stats := e.Stats()
	for _, want := range []string{"labeled 2 classified as 0: 1 times", "accuracy:  0.6667", "samples:   6"} {
		if !strings.Contains(stats, want) {
			t.Fatalf("stats missing %q:\n%s", want, stats)
		}
	}
}

func TestEvaluationRejectsMismatch(t *testing.T) {
	e := NewEvaluation(2)
	if err := e.Add([]int{0}, []int{0, 1}); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if err := e.Add([]int{0}, []int{2}); err == nil {
		t.Fatal("expected out-of-range prediction error")
	}
	if e.Total() != 0 {
		t.Fatalf("rejected batches were counted: %d", e.Total())
	}
}
