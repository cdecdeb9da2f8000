package gaming

type EventKind string

const (
	EventSeriesCompleted      EventKind = "series_completed"
	EventMilestoneReached     EventKind = "milestone_reached"
	EventSessionAutoCompleted EventKind = "session_auto_completed"
	EventAchievementUnlocked  EventKind = "achievement_unlocked"
	EventLevelUp              EventKind = "level_up"
)

// Event is a semantic signal returned to the caller. Presentation is the
// caller's business.
type Event struct {
	Kind            EventKind   `json:"kind"`
	SessionID       string      `json:"session_id,omitempty"`
	SeriesCompleted int         `json:"series_completed,omitempty"`
	Milestone       *Milestone  `json:"milestone,omitempty"`
	Achievement     *Definition `json:"achievement,omitempty"`
	Level           int         `json:"level,omitempty"`
}
