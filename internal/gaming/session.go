// Package gaming holds the canvassing session lifecycle and the progress and
// achievement calculators. Everything here is a pure transformation of values
// given the current instant; persistence belongs to the caller.
package gaming

import (
	"fmt"
	"slices"
	"time"

	"github.com/dukerupert/doorstep/internal/apperr"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// OpenStatuses are the states a user may hold at most one session in.
var OpenStatuses = []Status{StatusActive, StatusPaused}

const (
	// SeriesLength is the number of doors that make up one series.
	SeriesLength = 10

	// InactivityTimeout is how long an open session may go without a door
	// before it is completed automatically.
	InactivityTimeout = 15 * time.Minute

	maxRecentDoors = 200
	dayLayout      = "2006-01-02"
)

type Session struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	CityID             string      `json:"city_id"`
	Status             Status      `json:"status"`
	StartedAt          time.Time   `json:"started_at"`
	EndedAt            *time.Time  `json:"ended_at,omitempty"`
	PauseStartedAt     *time.Time  `json:"pause_started_at,omitempty"`
	TotalPauseDuration int64       `json:"total_pause_duration"`
	DoorsVisited       int         `json:"doors_visited"`
	CurrentSeriesDoors int         `json:"current_series_doors"`
	SeriesCompleted    int         `json:"series_completed"`
	ConsecutiveSeries  int         `json:"consecutive_series"`
	SeriesWithoutPause int         `json:"series_without_pause"`
	PauseCount         int         `json:"pause_count"`
	DailyDoors         int         `json:"daily_doors"`
	DailyDate          string      `json:"daily_date"`
	LastDoorTime       *time.Time  `json:"last_door_time,omitempty"`
	UniqueStreets      []string    `json:"unique_streets"`
	RecentDoorTimes    []time.Time `json:"-"`
	UpdatedAt          time.Time   `json:"updated_at"`
	// Version counts stored writes; a write based on an older version is
	// rejected.
	Version int64 `json:"version"`
}

// NewSession returns an active session started at now. The ID is assigned by
// the store.
func NewSession(userID, cityID string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		UserID:        userID,
		CityID:        cityID,
		Status:        StatusActive,
		StartedAt:     now,
		DailyDate:     now.Format(dayLayout),
		UniqueStreets: []string{},
		UpdatedAt:     now,
	}
}

func (s *Session) IsOpen() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

// Pause moves an active session to paused.
func (s *Session) Pause(now time.Time) (Patch, error) {
	if s.Status != StatusActive {
		return Patch{}, fmt.Errorf("%w: cannot pause a %s session", apperr.ErrInvalidState, s.Status)
	}
	now = now.UTC()
	s.Status = StatusPaused
	s.PauseStartedAt = &now
	s.PauseCount++
	s.ConsecutiveSeries = 0

	var p Patch
	p.add(FieldStatus, FieldPauseStartedAt, FieldPauseCount, FieldConsecutiveSeries)
	return p, nil
}

// Resume moves a paused session back to active, folding the pause into
// TotalPauseDuration.
func (s *Session) Resume(now time.Time) (Patch, error) {
	if s.Status != StatusPaused {
		return Patch{}, fmt.Errorf("%w: cannot resume a %s session", apperr.ErrInvalidState, s.Status)
	}
	s.foldPause(now)
	s.Status = StatusActive

	var p Patch
	p.add(FieldStatus, FieldPauseStartedAt, FieldTotalPauseDuration)
	return p, nil
}

// Complete ends an open session. A pause in progress is folded first.
func (s *Session) Complete(now time.Time) (Patch, error) {
	if !s.IsOpen() {
		return Patch{}, fmt.Errorf("%w: session already %s", apperr.ErrInvalidState, s.Status)
	}
	var p Patch
	if s.Status == StatusPaused {
		s.foldPause(now)
		p.add(FieldPauseStartedAt, FieldTotalPauseDuration)
	}
	now = now.UTC()
	s.Status = StatusCompleted
	s.EndedAt = &now
	p.add(FieldStatus, FieldEndedAt)
	return p, nil
}

func (s *Session) foldPause(now time.Time) {
	if s.PauseStartedAt != nil {
		if elapsed := now.Sub(*s.PauseStartedAt); elapsed > 0 {
			s.TotalPauseDuration += int64(elapsed / time.Second)
		}
	}
	s.PauseStartedAt = nil
}

// RecordDoor counts one visited door on street. Only legal while active.
func (s *Session) RecordDoor(street string, now time.Time) (Patch, []Event, error) {
	if s.Status != StatusActive {
		return Patch{}, nil, fmt.Errorf("%w: cannot record a door on a %s session", apperr.ErrInvalidState, s.Status)
	}
	now = now.UTC()

	var p Patch
	p.add(FieldDoorsVisited, FieldLastDoorTime, FieldCurrentSeriesDoors,
		FieldDailyDoors, FieldDailyDate, FieldRecentDoorTimes)

	s.DoorsVisited++
	s.LastDoorTime = &now

	if day := now.Format(dayLayout); day != s.DailyDate {
		s.DailyDate = day
		s.DailyDoors = 0
	}
	s.DailyDoors++

	if street != "" && !slices.Contains(s.UniqueStreets, street) {
		s.UniqueStreets = append(s.UniqueStreets, street)
		p.add(FieldUniqueStreets)
	}

	s.RecentDoorTimes = append(s.RecentDoorTimes, now)
	if n := len(s.RecentDoorTimes); n > maxRecentDoors {
		s.RecentDoorTimes = slices.Clone(s.RecentDoorTimes[n-maxRecentDoors:])
	}

	var events []Event
	s.CurrentSeriesDoors++
	if s.CurrentSeriesDoors >= SeriesLength {
		s.CurrentSeriesDoors = 0
		s.SeriesCompleted++
		s.ConsecutiveSeries++
		p.add(FieldSeriesCompleted, FieldConsecutiveSeries)
		if s.PauseCount == 0 {
			s.SeriesWithoutPause++
			p.add(FieldSeriesWithoutPause)
		}
		events = append(events, Event{
			Kind:            EventSeriesCompleted,
			SessionID:       s.ID,
			SeriesCompleted: s.SeriesCompleted,
		})
	}
	return p, events, nil
}

// lastActivity is the later of the last door and the start.
func (s *Session) lastActivity() time.Time {
	if s.LastDoorTime != nil && s.LastDoorTime.After(s.StartedAt) {
		return *s.LastDoorTime
	}
	return s.StartedAt
}

// IsInactive reports whether an open session has gone longer than
// InactivityTimeout without activity. Paused and active sessions are treated
// alike; completed sessions are never inactive.
func IsInactive(s *Session, now time.Time) bool {
	if !s.IsOpen() {
		return false
	}
	return now.Sub(s.lastActivity()) > InactivityTimeout
}

// EffectiveDuration is the time spent canvassing, excluding pauses, floored
// to whole seconds and never negative. Completed sessions stop at EndedAt.
func EffectiveDuration(s *Session, now time.Time) time.Duration {
	end := now
	if s.Status == StatusCompleted && s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(s.StartedAt) - time.Duration(s.TotalPauseDuration)*time.Second
	if s.Status == StatusPaused && s.PauseStartedAt != nil {
		d -= end.Sub(*s.PauseStartedAt)
	}
	d = d.Truncate(time.Second)
	if d < 0 {
		return 0
	}
	return d
}
