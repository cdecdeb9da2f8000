package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/model"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionCols = `id, user_id, city_id, status, started_at, ended_at, pause_started_at,
	total_pause_duration, doors_visited, current_series_doors, series_completed,
	consecutive_series, series_without_pause, pause_count, daily_doors, daily_date,
	last_door_time, unique_streets, recent_door_times, updated_at, version`

func scanSession(scanner interface{ Scan(...any) error }) (*gaming.Session, error) {
	var s gaming.Session
	var endedAt, pauseStartedAt, lastDoor sql.NullTime
	var streets, doorTimes string

	err := scanner.Scan(&s.ID, &s.UserID, &s.CityID, &s.Status, &s.StartedAt, &endedAt, &pauseStartedAt,
		&s.TotalPauseDuration, &s.DoorsVisited, &s.CurrentSeriesDoors, &s.SeriesCompleted,
		&s.ConsecutiveSeries, &s.SeriesWithoutPause, &s.PauseCount, &s.DailyDoors, &s.DailyDate,
		&lastDoor, &streets, &doorTimes, &s.UpdatedAt, &s.Version)
	if err != nil {
		return nil, err
	}

	s.StartedAt = utc(s.StartedAt)
	s.UpdatedAt = utc(s.UpdatedAt)
	s.EndedAt = fromNullTime(endedAt)
	s.PauseStartedAt = fromNullTime(pauseStartedAt)
	s.LastDoorTime = fromNullTime(lastDoor)

	if err := json.Unmarshal([]byte(streets), &s.UniqueStreets); err != nil {
		return nil, fmt.Errorf("decode unique streets: %w", err)
	}
	if s.UniqueStreets == nil {
		s.UniqueStreets = []string{}
	}
	if err := json.Unmarshal([]byte(doorTimes), &s.RecentDoorTimes); err != nil {
		return nil, fmt.Errorf("decode door times: %w", err)
	}
	return &s, nil
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create inserts s as a new session and assigns its ID. A second open
// session for the same user fails with apperr.ErrConflict.
func (s *SessionStore) Create(ctx context.Context, sess *gaming.Session) error {
	streets, err := encodeJSON(sess.UniqueStreets)
	if err != nil {
		return fmt.Errorf("encode unique streets: %w", err)
	}
	doorTimes, err := encodeJSON(sess.RecentDoorTimes)
	if err != nil {
		return fmt.Errorf("encode door times: %w", err)
	}
	if sess.UniqueStreets == nil {
		streets = "[]"
	}
	if sess.RecentDoorTimes == nil {
		doorTimes = "[]"
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sess.UserID, sess.CityID, string(sess.Status), utc(sess.StartedAt), nullTime(sess.EndedAt), nullTime(sess.PauseStartedAt),
		sess.TotalPauseDuration, sess.DoorsVisited, sess.CurrentSeriesDoors, sess.SeriesCompleted,
		sess.ConsecutiveSeries, sess.SeriesWithoutPause, sess.PauseCount, sess.DailyDoors, sess.DailyDate,
		nullTime(sess.LastDoorTime), streets, doorTimes, utc(sess.UpdatedAt), sess.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: session already in progress", apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.ID = id
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*gaming.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q querier, id string) (*gaming.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// FindOpen returns the user's active or paused session, or nil.
func (s *SessionStore) FindOpen(ctx context.Context, userID string) (*gaming.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = ? AND status IN ('active', 'paused')`,
		userID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	return sess, nil
}

// Latest returns the user's most recently started session of any status.
func (s *SessionStore) Latest(ctx context.Context, userID string) (*gaming.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT 1`,
		userID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) list(ctx context.Context, what, query string, args ...any) ([]gaming.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	var sessions []gaming.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ListCompleted returns the user's completed sessions in a city, most
// recently ended first. A limit of zero or less returns all of them.
func (s *SessionStore) ListCompleted(ctx context.Context, userID, cityID string, limit int) ([]gaming.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.list(ctx, "completed sessions",
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = ? AND city_id = ? AND status = 'completed'
		 ORDER BY ended_at DESC LIMIT ?`,
		userID, cityID, limit,
	)
}

// ListOpen returns every active or paused session across all users.
func (s *SessionStore) ListOpen(ctx context.Context) ([]gaming.Session, error) {
	return s.list(ctx, "open sessions",
		`SELECT `+sessionCols+` FROM sessions WHERE status IN ('active', 'paused') ORDER BY started_at ASC`,
	)
}

// Totals sums doors and series across every session of the user.
func (s *SessionStore) Totals(ctx context.Context, userID string) (doors, series int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(doors_visited), 0), COALESCE(SUM(series_completed), 0) FROM sessions WHERE user_id = ?`,
		userID,
	).Scan(&doors, &series)
	if err != nil {
		return 0, 0, fmt.Errorf("sum session totals: %w", err)
	}
	return doors, series, nil
}

// Update writes the patched fields of sess at now. The row is only written
// while its stored version still matches sess and, when expect is non-empty,
// its stored status is one of expect. A status outside expect fails with
// apperr.ErrInvalidState; any other concurrent write fails with
// apperr.ErrConflict.
func (s *SessionStore) Update(ctx context.Context, sess *gaming.Session, patch gaming.Patch, now time.Time, expect ...gaming.Status) error {
	return updateSession(ctx, s.db, sess, patch, now, expect)
}

// Complete writes a completing patch and credits xp and the session's doors
// to its user in one transaction. It returns the credited user, or nil when
// there was nothing to credit.
func (s *SessionStore) Complete(ctx context.Context, sess *gaming.Session, patch gaming.Patch, now time.Time, xp int, expect ...gaming.Status) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateSession(ctx, tx, sess, patch, now, expect); err != nil {
		return nil, err
	}
	var u *model.User
	if xp != 0 || sess.DoorsVisited != 0 {
		if u, err = addXP(ctx, tx, sess.UserID, xp, sess.DoorsVisited); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

func updateSession(ctx context.Context, q querier, sess *gaming.Session, patch gaming.Patch, now time.Time, expect []gaming.Status) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []any
	for _, f := range patch.Fields() {
		v, err := fieldValue(sess, f)
		if err != nil {
			return err
		}
		sets = append(sets, string(f)+" = ?")
		args = append(args, v)
	}
	updatedAt := now.UTC()
	sets = append(sets, "updated_at = ?", "version = version + 1")
	args = append(args, updatedAt)

	query := `UPDATE sessions SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND version = ?`
	args = append(args, sess.ID, sess.Version)
	if len(expect) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(expect)-1) + `)`
		for _, st := range expect {
			args = append(args, string(st))
		}
	}

	result, err := q.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: session already in progress", apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		sess.UpdatedAt = updatedAt
		sess.Version++
		return nil
	}

	current, err := getSession(ctx, q, sess.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, sess.ID)
	}
	if len(expect) > 0 && !slices.Contains(expect, current.Status) {
		return fmt.Errorf("%w: session is %s", apperr.ErrInvalidState, current.Status)
	}
	return fmt.Errorf("%w: session changed concurrently", apperr.ErrConflict)
}

func fieldValue(sess *gaming.Session, f gaming.Field) (any, error) {
	switch f {
	case gaming.FieldStatus:
		return string(sess.Status), nil
	case gaming.FieldEndedAt:
		return nullTime(sess.EndedAt), nil
	case gaming.FieldPauseStartedAt:
		return nullTime(sess.PauseStartedAt), nil
	case gaming.FieldTotalPauseDuration:
		return sess.TotalPauseDuration, nil
	case gaming.FieldDoorsVisited:
		return sess.DoorsVisited, nil
	case gaming.FieldCurrentSeriesDoors:
		return sess.CurrentSeriesDoors, nil
	case gaming.FieldSeriesCompleted:
		return sess.SeriesCompleted, nil
	case gaming.FieldConsecutiveSeries:
		return sess.ConsecutiveSeries, nil
	case gaming.FieldSeriesWithoutPause:
		return sess.SeriesWithoutPause, nil
	case gaming.FieldPauseCount:
		return sess.PauseCount, nil
	case gaming.FieldDailyDoors:
		return sess.DailyDoors, nil
	case gaming.FieldDailyDate:
		return sess.DailyDate, nil
	case gaming.FieldLastDoorTime:
		return nullTime(sess.LastDoorTime), nil
	case gaming.FieldUniqueStreets:
		v, err := encodeJSON(sess.UniqueStreets)
		if err != nil {
			return nil, fmt.Errorf("encode unique streets: %w", err)
		}
		return v, nil
	case gaming.FieldRecentDoorTimes:
		v, err := encodeJSON(sess.RecentDoorTimes)
		if err != nil {
			return nil, fmt.Errorf("encode door times: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown session field %q", f)
}
