package gaming

import "slices"

// Field names one persisted attribute of a Session.
type Field string

const (
	FieldStatus             Field = "status"
	FieldEndedAt            Field = "ended_at"
	FieldPauseStartedAt     Field = "pause_started_at"
	FieldTotalPauseDuration Field = "total_pause_duration"
	FieldDoorsVisited       Field = "doors_visited"
	FieldCurrentSeriesDoors Field = "current_series_doors"
	FieldSeriesCompleted    Field = "series_completed"
	FieldConsecutiveSeries  Field = "consecutive_series"
	FieldSeriesWithoutPause Field = "series_without_pause"
	FieldPauseCount         Field = "pause_count"
	FieldDailyDoors         Field = "daily_doors"
	FieldDailyDate          Field = "daily_date"
	FieldLastDoorTime       Field = "last_door_time"
	FieldUniqueStreets      Field = "unique_streets"
	FieldRecentDoorTimes    Field = "recent_door_times"
)

// Patch is the set of fields a transition changed. The store writes exactly
// these fields, reading their values from the session.
type Patch struct {
	fields []Field
}

func (p *Patch) add(fields ...Field) {
	for _, f := range fields {
		if !slices.Contains(p.fields, f) {
			p.fields = append(p.fields, f)
		}
	}
}

// Fields returns the changed fields in the order they were first touched.
func (p Patch) Fields() []Field {
	return slices.Clone(p.fields)
}

func (p Patch) Has(f Field) bool {
	return slices.Contains(p.fields, f)
}

func (p Patch) Empty() bool {
	return len(p.fields) == 0
}

// Merge adds the fields of o to p.
func (p *Patch) Merge(o Patch) {
	p.add(o.fields...)
}
