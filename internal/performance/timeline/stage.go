// Package timeline provides the run clock, stage schedules, execution
// segments and the coordinator that launches scenarios at their offsets.
package timeline

import (
	"fmt"
	"time"
)

// Profile is the qualitative shape of a stage relative to the one before it.
type Profile string

const (
	// ProfileRampUp marks a stage whose target is above the previous target.
	ProfileRampUp Profile = "ramp-up"
	// ProfileSteady marks a stage that holds the previous target.
	ProfileSteady Profile = "steady"
	// ProfileRampDown marks a stage whose target is below the previous target.
	ProfileRampDown Profile = "ramp-down"
)

// Tag names stamped on iterations started under a ramping schedule.
const (
	TagStage        = "stage"
	TagStageProfile = "stage_profile"
)

// ProfileOf compares two consecutive targets.
func ProfileOf(prev, cur int64) Profile {
	switch {
	case cur > prev:
		return ProfileRampUp
	case cur < prev:
		return ProfileRampDown
	default:
		return ProfileSteady
	}
}

// Stage is one time-bounded segment of a ramping schedule. Target is a VU
// count for ramping-vus and an iteration rate for ramping-arrival-rate.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int64         `json:"target"`
}

// Schedule is an ordered list of stages starting from an initial value.
type Schedule struct {
	Start  int64
	Stages []Stage
}

// Position describes where in a schedule a point in time falls.
type Position struct {
	Index   int
	Profile Profile
	// Done is true once the elapsed time is past the last stage.
	Done bool
}

// Tags returns the stage tags for this position.
func (p Position) Tags() map[string]string {
	return map[string]string{
		TagStage:        fmt.Sprintf("%d", p.Index),
		TagStageProfile: string(p.Profile),
	}
}

// Validate checks that every stage has a positive duration and a
// non-negative target.
func (s Schedule) Validate() error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	if s.Start < 0 {
		return fmt.Errorf("start value must be >= 0, got %d", s.Start)
	}
	for i, st := range s.Stages {
		if st.Duration <= 0 {
			return fmt.Errorf("stage %d: duration must be > 0", i)
		}
		if st.Target < 0 {
			return fmt.Errorf("stage %d: target must be >= 0, got %d", i, st.Target)
		}
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func (s Schedule) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	return total
}

// MaxTarget returns the highest value the schedule ever reaches.
func (s Schedule) MaxTarget() int64 {
	m := s.Start
	for _, st := range s.Stages {
		if st.Target > m {
			m = st.Target
		}
	}
	return m
}

// ValueAt linearly interpolates the target at the given elapsed time.
// Past the end of the schedule the last target is returned.
func (s Schedule) ValueAt(elapsed time.Duration) float64 {
	prev := float64(s.Start)
	if elapsed <= 0 {
		return prev
	}

	var stageStart time.Duration
	for _, st := range s.Stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(st.Duration)
			return prev + (float64(st.Target)-prev)*progress
		}
		prev = float64(st.Target)
		stageStart = stageEnd
	}
	return prev
}

// At resolves the stage index and profile at the given elapsed time. The first
// stage is compared against the start value.
func (s Schedule) At(elapsed time.Duration) Position {
	if len(s.Stages) == 0 {
		return Position{Profile: ProfileSteady, Done: true}
	}

	prev := s.Start
	var stageStart time.Duration
	for i, st := range s.Stages {
		stageStart += st.Duration
		if elapsed < stageStart {
			return Position{Index: i, Profile: ProfileOf(prev, st.Target)}
		}
		prev = st.Target
	}

	last := len(s.Stages) - 1
	before := s.Start
	if last > 0 {
		before = s.Stages[last-1].Target
	}
	return Position{Index: last, Profile: ProfileOf(before, s.Stages[last].Target), Done: true}
}
