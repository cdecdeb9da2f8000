package gaming

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/doorstep/internal/apperr"
)

// ConditionKind names the counter an achievement is measured against.
type ConditionKind string

const (
	KindDoorsVisited       ConditionKind = "doors_visited"
	KindSeriesCompleted    ConditionKind = "series_completed"
	KindConsecutiveSeries  ConditionKind = "consecutive_series"
	KindSeriesWithoutPause ConditionKind = "series_without_pause"
	KindUniqueStreets      ConditionKind = "unique_streets"
	KindDoorsInTimeframe   ConditionKind = "doors_in_timeframe"
	KindDoorsInDay         ConditionKind = "doors_in_day"
)

var knownKinds = []ConditionKind{
	KindDoorsVisited, KindSeriesCompleted, KindConsecutiveSeries, KindSeriesWithoutPause,
	KindUniqueStreets, KindDoorsInTimeframe, KindDoorsInDay,
}

type Condition struct {
	Kind      ConditionKind `yaml:"kind" json:"kind"`
	Threshold int           `yaml:"threshold" json:"threshold"`
	// Timeframe is the window in seconds for KindDoorsInTimeframe.
	Timeframe int `yaml:"timeframe,omitempty" json:"timeframe,omitempty"`
}

type Definition struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Category    string    `yaml:"category" json:"category"`
	XPReward    int       `yaml:"xp_reward" json:"xp_reward"`
	Badge       string    `yaml:"badge" json:"badge"`
	Condition   Condition `yaml:"condition" json:"condition"`
}

// Validate rejects definitions the evaluator cannot measure.
func Validate(def Definition) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: achievement id is required", apperr.ErrInvalidArgument)
	}
	if !slices.Contains(knownKinds, def.Condition.Kind) {
		return fmt.Errorf("%w: achievement %s: unknown condition kind %q", apperr.ErrInvalidArgument, def.ID, def.Condition.Kind)
	}
	if def.Condition.Threshold <= 0 {
		return fmt.Errorf("%w: achievement %s: threshold must be positive", apperr.ErrInvalidArgument, def.ID)
	}
	if def.Condition.Kind == KindDoorsInTimeframe && def.Condition.Timeframe <= 0 {
		return fmt.Errorf("%w: achievement %s: timeframe must be positive", apperr.ErrInvalidArgument, def.ID)
	}
	if def.XPReward < 0 {
		return fmt.Errorf("%w: achievement %s: xp reward must not be negative", apperr.ErrInvalidArgument, def.ID)
	}
	return nil
}

// Stats are the counters achievements are measured against.
type Stats struct {
	DoorsVisited       int
	SeriesCompleted    int
	ConsecutiveSeries  int
	SeriesWithoutPause int
	UniqueStreets      int
	DoorsInDay         int
	DoorTimes          []time.Time
}

// SessionStats takes every per-session counter from s. Aggregate totals are
// the caller's to overwrite.
func SessionStats(s *Session) Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DoorsVisited:       s.DoorsVisited,
		SeriesCompleted:    s.SeriesCompleted,
		ConsecutiveSeries:  s.ConsecutiveSeries,
		SeriesWithoutPause: s.SeriesWithoutPause,
		UniqueStreets:      len(s.UniqueStreets),
		DoorsInDay:         s.DailyDoors,
		DoorTimes:          s.RecentDoorTimes,
	}
}

func (st Stats) counter(c Condition) int {
	switch c.Kind {
	case KindDoorsVisited:
		return st.DoorsVisited
	case KindSeriesCompleted:
		return st.SeriesCompleted
	case KindConsecutiveSeries:
		return st.ConsecutiveSeries
	case KindSeriesWithoutPause:
		return st.SeriesWithoutPause
	case KindUniqueStreets:
		return st.UniqueStreets
	case KindDoorsInDay:
		return st.DoorsInDay
	case KindDoorsInTimeframe:
		return maxInWindow(st.DoorTimes, time.Duration(c.Timeframe)*time.Second)
	}
	return 0
}

// maxInWindow returns the largest number of instants that fit in any window
// of length w.
func maxInWindow(times []time.Time, w time.Duration) int {
	if len(times) == 0 || w <= 0 {
		return 0
	}
	sorted := slices.Clone(times)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	best, lo := 0, 0
	for hi := range sorted {
		for sorted[hi].Sub(sorted[lo]) > w {
			lo++
		}
		best = max(best, hi-lo+1)
	}
	return best
}

type AchievementProgress struct {
	Definition
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	Progress    int        `json:"progress"`
	MaxProgress int        `json:"max_progress"`
	// Ready reports a locked achievement whose condition is met. Writing the
	// unlock record is the caller's job.
	Ready bool `json:"ready"`
}

// Evaluate derives the display state of every definition. It never writes.
// Locked achievements sort before unlocked ones, then by category and name.
func Evaluate(defs []Definition, stats Stats, unlocked map[string]time.Time) []AchievementProgress {
	out := make([]AchievementProgress, 0, len(defs))
	for _, def := range defs {
		ap := AchievementProgress{Definition: def, MaxProgress: def.Condition.Threshold}
		if at, ok := unlocked[def.ID]; ok {
			ap.Unlocked = true
			ap.Progress = def.Condition.Threshold
			if !at.IsZero() {
				ap.UnlockedAt = &at
			}
		} else {
			ap.Progress = min(stats.counter(def.Condition), def.Condition.Threshold)
			ap.Ready = ap.Progress >= ap.MaxProgress
		}
		out = append(out, ap)
	}

	slices.SortStableFunc(out, func(a, b AchievementProgress) int {
		if a.Unlocked != b.Unlocked {
			if a.Unlocked {
				return 1
			}
			return -1
		}
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Ready returns the definitions whose progress says they should be unlocked.
func Ready(progress []AchievementProgress) []Definition {
	var defs []Definition
	for _, ap := range progress {
		if ap.Ready {
			defs = append(defs, ap.Definition)
		}
	}
	return defs
}
