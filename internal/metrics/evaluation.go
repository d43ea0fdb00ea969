package metrics

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Evaluation accumulates predictions over a held-out pass. Confusion is
// indexed [actual][predicted].
type Evaluation struct {
	Epoch     int
	Classes   int
	Confusion [][]int
	total     int
	correct   int
}

// NewEvaluation returns an empty evaluation over classes labels.
func NewEvaluation(classes int) *Evaluation {
	conf := make([][]int, classes)
	for i := range conf {
		conf[i] = make([]int, classes)
	}
	return &Evaluation{Classes: classes, Confusion: conf}
}

// Add records one batch of predictions against its labels.
func (e *Evaluation) Add(labels, predicted []int) error {
	if len(labels) != len(predicted) {
		return errors.Errorf("evaluation: %d labels but %d predictions", len(labels), len(predicted))
	}
	for i, actual := range labels {
		guess := predicted[i]
		if actual < 0 || actual >= e.Classes || guess < 0 || guess >= e.Classes {
			return errors.Errorf("evaluation: sample %d has label %d, prediction %d outside [0, %d)",
				i, actual, guess, e.Classes)
		}
	}
	for i, actual := range labels {
		guess := predicted[i]
		e.Confusion[actual][guess]++
		e.total++
		if actual == guess {
			e.correct++
		}
	}
	return nil
}

// Total returns the number of evaluated samples.
func (e *Evaluation) Total() int { return e.total }

// Correct returns the number of correct predictions.
func (e *Evaluation) Correct() int { return e.correct }

// Accuracy returns correct/total, or 0 before any sample was added.
func (e *Evaluation) Accuracy() float64 {
	if e.total == 0 {
		return 0
	}
	return float64(e.correct) / float64(e.total)
}

// Precision returns the fraction of predictions of class c that were right.
func (e *Evaluation) Precision(c int) float64 {
	predicted := 0
	for actual := range e.Confusion {
		predicted += e.Confusion[actual][c]
	}
	if predicted == 0 {
		return 0
	}
	return float64(e.Confusion[c][c]) / float64(predicted)
}

// Recall returns the fraction of samples of class c that were found.
func (e *Evaluation) Recall(c int) float64 {
	actual := 0
	for _, n := range e.Confusion[c] {
		actual += n
	}
	if actual == 0 {
		return 0
	}
	return float64(e.Confusion[c][c]) / float64(actual)
}

// F1 returns the harmonic mean of precision and recall for class c.
func (e *Evaluation) F1(c int) float64 {
	p, r := e.Precision(c), e.Recall(c)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Macro averages a per-class metric over the classes present in the labels.
func (e *Evaluation) Macro(metric func(c int) float64) float64 {
	var vals []float64
	for c := 0; c < e.Classes; c++ {
		if floats.Sum(intsToFloats(e.Confusion[c])) == 0 {
			continue
		}
		vals = append(vals, metric(c))
	}
	if len(vals) == 0 {
		return 0
	}
	return floats.Sum(vals) / float64(len(vals))
}

func intsToFloats(in []int) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// Stats renders a multi-line summary: the non-zero confusion cells followed by
// the aggregate scores.
func (e *Evaluation) Stats() string {
	var sb strings.Builder
	for actual, row := range e.Confusion {
		for guess, n := range row {
			if n > 0 {
				fmt.Fprintf(&sb, "labeled %d classified as %d: %d times\n", actual, guess, n)
			}
		}
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "classes:   %d\n", e.Classes)
	fmt.Fprintf(&sb, "samples:   %d\n", e.total)
	fmt.Fprintf(&sb, "accuracy:  %.4f\n", e.Accuracy())
	fmt.Fprintf(&sb, "precision: %.4f\n", e.Macro(e.Precision))
	fmt.Fprintf(&sb, "recall:    %.4f\n", e.Macro(e.Recall))
	fmt.Fprintf(&sb, "f1:        %.4f\n", e.Macro(e.F1))
	return sb.String()
}
