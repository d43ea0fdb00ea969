package model

import (
	"sort"
)

// ScheduleEntry sets the learning rate from Step onwards.
type ScheduleEntry struct {
	Step int     `json:"step"`
	Rate float64 `json:"rate"`
}

// Schedule maps a global step index to a learning rate. Entries are kept
// sorted by Step so lookups are a predecessor search.
type Schedule []ScheduleEntry

// NewSchedule builds a sorted, validated schedule from a step→rate table.
func NewSchedule(rates map[int]float64) (Schedule, error) {
	s := make(Schedule, 0, len(rates))
	for step, rate := range rates {
		s = append(s, ScheduleEntry{Step: step, Rate: rate})
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Step < s[j].Step })
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Constant returns a schedule with a single rate for every step.
func Constant(rate float64) Schedule {
	return Schedule{{Step: 0, Rate: rate}}
}

func mustSchedule(rates map[int]float64) Schedule {
	s, err := NewSchedule(rates)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate requires a non-empty, strictly increasing list of non-negative
// steps with positive, non-increasing rates.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return configErr("learning-rate schedule is empty")
	}
	for i, e := range s {
		if e.Step < 0 {
			return configErr("schedule step %d is negative", e.Step)
		}
		if e.Rate <= 0 {
			return configErr("schedule rate at step %d must be > 0 (got %g)", e.Step, e.Rate)
		}
		if i == 0 {
			continue
		}
		prev := s[i-1]
		if e.Step <= prev.Step {
			return configErr("schedule steps must be strictly increasing (%d after %d)", e.Step, prev.Step)
		}
		if e.Rate > prev.Rate {
			return configErr("schedule rate increases at step %d (%g > %g)", e.Step, e.Rate, prev.Rate)
		}
	}
	return nil
}

// Rate returns the rate of the entry with the greatest Step <= step. A step
// before the first entry has no defined rate.
func (s Schedule) Rate(step int) (float64, error) {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Step > step }) - 1
	if idx < 0 {
		if len(s) == 0 {
			return 0, configErr("learning-rate schedule is empty")
		}
		return 0, configErr("no learning rate for step %d (schedule starts at %d)", step, s[0].Step)
	}
	return s[idx].Rate, nil
}
