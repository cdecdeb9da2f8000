// Package canvass runs canvassing commands against the stores: session
// transitions, door recording, unlocks and XP, publishing the resulting
// events to the realtime hub.
package canvass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/metrics"
	"github.com/dukerupert/doorstep/internal/model"
	"github.com/dukerupert/doorstep/internal/street"
	"github.com/dukerupert/doorstep/internal/websocket"
)

// HistoryLimit is how many completed sessions History returns.
const HistoryLimit = 10

type SessionRepository interface {
	Create(ctx context.Context, sess *gaming.Session) error
	GetByID(ctx context.Context, id string) (*gaming.Session, error)
	FindOpen(ctx context.Context, userID string) (*gaming.Session, error)
	Latest(ctx context.Context, userID string) (*gaming.Session, error)
	Update(ctx context.Context, sess *gaming.Session, patch gaming.Patch, now time.Time, expect ...gaming.Status) error
	Complete(ctx context.Context, sess *gaming.Session, patch gaming.Patch, now time.Time, xp int, expect ...gaming.Status) (*model.User, error)
	ListOpen(ctx context.Context) ([]gaming.Session, error)
	ListCompleted(ctx context.Context, userID, cityID string, limit int) ([]gaming.Session, error)
	Totals(ctx context.Context, userID string) (doors, series int, err error)
}

type CityRepository interface {
	GetByID(ctx context.Context, id string) (*model.City, error)
}

type AddressRepository interface {
	Create(ctx context.Context, a model.Address, now time.Time) (*model.Address, error)
	Delete(ctx context.Context, id string) error
	CountByCity(ctx context.Context, cityID string) (int, error)
}

type StatusRepository interface {
	Exists(ctx context.Context, userID, name string) (bool, error)
}

type AchievementRepository interface {
	Unlocked(ctx context.Context, userID string) (map[string]time.Time, error)
	Unlock(ctx context.Context, userID, achievementID string, at time.Time, xp int) (bool, *model.User, error)
}

// Publisher delivers change notifications to a user's subscribers.
type Publisher interface {
	Publish(userID string, msg websocket.Message)
}

type Stores struct {
	Sessions     SessionRepository
	Cities       CityRepository
	Addresses    AddressRepository
	Statuses     StatusRepository
	Achievements AchievementRepository
}

type Service struct {
	sessions     SessionRepository
	cities       CityRepository
	addresses    AddressRepository
	statuses     StatusRepository
	achievements AchievementRepository
	catalog      []gaming.Definition
	clock        clock.Clock
	pub          Publisher
	logger       *slog.Logger
}

func NewService(st Stores, catalog []gaming.Definition, clk clock.Clock, pub Publisher, logger *slog.Logger) *Service {
	return &Service{
		sessions:     st.Sessions,
		cities:       st.Cities,
		addresses:    st.Addresses,
		statuses:     st.Statuses,
		achievements: st.Achievements,
		catalog:      catalog,
		clock:        clk,
		pub:          pub,
		logger:       logger.With("component", "canvass"),
	}
}

// DoorInput is one visited address.
type DoorInput struct {
	Number string `json:"number"`
	Street string `json:"street_name"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

type DoorResult struct {
	Session  *gaming.Session `json:"session"`
	Address  *model.Address  `json:"address"`
	Progress gaming.Progress `json:"progress"`
	Events   []gaming.Event  `json:"events"`
}

type EndResult struct {
	Session *gaming.Session `json:"session"`
	Summary gaming.Summary  `json:"summary"`
	Events  []gaming.Event  `json:"events"`
}

// SessionView is a session with its derived timing.
type SessionView struct {
	*gaming.Session
	EffectiveSeconds int64 `json:"effective_seconds"`
	Inactive         bool  `json:"inactive"`
}

type AddressResult struct {
	Address  *model.Address  `json:"address"`
	Progress gaming.Progress `json:"progress"`
	Events   []gaming.Event  `json:"events"`
}

type HistoryEntry struct {
	Session gaming.Session `json:"session"`
	Summary gaming.Summary `json:"summary"`
}

func (s *Service) publish(userID, entity, action, id string, extra map[string]any) {
	if s.pub != nil {
		s.pub.Publish(userID, websocket.NewMessage(entity, action, id, extra))
	}
}

func (s *Service) publishEvents(userID string, events []gaming.Event) {
	for _, ev := range events {
		s.publish(userID, "event", string(ev.Kind), ev.SessionID, map[string]any{"event": ev})
	}
}

func (s *Service) ownedCity(ctx context.Context, userID, cityID string) (*model.City, error) {
	city, err := s.cities.GetByID(ctx, cityID)
	if err != nil {
		return nil, err
	}
	if city == nil || city.UserID != userID {
		return nil, fmt.Errorf("%w: city %s", apperr.ErrNotFound, cityID)
	}
	return city, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*gaming.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	return sess, nil
}

// StartSession opens a session in one of the user's cities. A user with an
// open session gets apperr.ErrConflict.
func (s *Service) StartSession(ctx context.Context, userID, cityID string) (*gaming.Session, error) {
	if _, err := s.ownedCity(ctx, userID, cityID); err != nil {
		return nil, err
	}
	open, err := s.sessions.FindOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("%w: session already in progress", apperr.ErrConflict)
	}

	sess := gaming.NewSession(userID, cityID, s.clock.Now())
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	s.logger.Info("session started", "session_id", sess.ID, "user_id", userID, "city_id", cityID)
	s.publish(userID, "session", "started", sess.ID, nil)
	return sess, nil
}

type transitionFunc func(*gaming.Session, time.Time) (gaming.Patch, error)

// transition applies fn to the stored session and writes it back only if the
// stored row is unchanged since it was read and its status is one of expect.
func (s *Service) transition(ctx context.Context, userID, sessionID string, fn transitionFunc, expect ...gaming.Status) (*gaming.Session, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	patch, err := fn(sess, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, sess, patch, now, expect...); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) PauseSession(ctx context.Context, userID, sessionID string) (*gaming.Session, error) {
	sess, err := s.transition(ctx, userID, sessionID, (*gaming.Session).Pause, gaming.StatusActive)
	if err != nil {
		return nil, err
	}
	s.publish(userID, "session", "paused", sess.ID, nil)
	return sess, nil
}

func (s *Service) ResumeSession(ctx context.Context, userID, sessionID string) (*gaming.Session, error) {
	sess, err := s.transition(ctx, userID, sessionID, (*gaming.Session).Resume, gaming.StatusPaused)
	if err != nil {
		return nil, err
	}
	s.publish(userID, "session", "resumed", sess.ID, nil)
	return sess, nil
}

// EndSession completes an open session and credits its XP.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) (*EndResult, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, sess, metrics.ReasonEnded, s.clock.Now())
}

// AbandonSession is the best-effort completion sent by a client going away.
// A session that is already completed, or changes concurrently, is not an
// error. The inactivity sweep remains the authoritative path.
func (s *Service) AbandonSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	_, err = s.complete(ctx, sess, metrics.ReasonAbandoned, s.clock.Now())
	if errors.Is(err, apperr.ErrInvalidState) || errors.Is(err, apperr.ErrConflict) {
		return nil
	}
	return err
}

// complete writes the completion of sess together with its XP credit, then
// announces it. Nothing is credited or announced when the write is rejected.
func (s *Service) complete(ctx context.Context, sess *gaming.Session, reason string, now time.Time) (*EndResult, error) {
	patch, err := sess.Complete(now)
	if err != nil {
		return nil, err
	}
	summary := gaming.Summarize(sess, now)
	u, err := s.sessions.Complete(ctx, sess, patch, now, summary.XP, gaming.OpenStatuses...)
	if err != nil {
		return nil, err
	}
	metrics.SessionsCompleted.WithLabelValues(reason).Inc()

	var events []gaming.Event
	if reason == metrics.ReasonInactive {
		events = append(events, gaming.Event{Kind: gaming.EventSessionAutoCompleted, SessionID: sess.ID})
	}
	if lvl := levelUp(u, summary.XP); lvl > 0 {
		events = append(events, gaming.Event{Kind: gaming.EventLevelUp, SessionID: sess.ID, Level: lvl})
	}

	s.logger.Info("session completed",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"reason", reason,
		"doors", sess.DoorsVisited,
		"xp", summary.XP,
	)
	s.publish(sess.UserID, "session", "completed", sess.ID, map[string]any{"reason": reason, "summary": summary})
	s.publishEvents(sess.UserID, events)
	return &EndResult{Session: sess, Summary: summary, Events: events}, nil
}

// levelUp returns the new level of u when crediting xp crossed a level
// boundary, zero otherwise.
func levelUp(u *model.User, xp int) int {
	if u == nil || xp <= 0 {
		return 0
	}
	if u.Level > gaming.LevelForXP(u.XP-xp) {
		return u.Level
	}
	return 0
}

// RecordDoor records a visited address on an active session. The address
// insert is undone if the session changed state underneath.
func (s *Service) RecordDoor(ctx context.Context, userID, sessionID string, in DoorInput) (*DoorResult, error) {
	in.Number = strings.TrimSpace(in.Number)
	in.Street = street.Normalize(in.Street)
	in.Status = strings.TrimSpace(in.Status)
	if in.Number == "" || in.Street == "" {
		return nil, fmt.Errorf("%w: number and street are required", apperr.ErrInvalidArgument)
	}

	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != gaming.StatusActive {
		return nil, fmt.Errorf("%w: cannot record a door on a %s session", apperr.ErrInvalidState, sess.Status)
	}
	ok, err := s.statuses.Exists(ctx, userID, in.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, in.Status)
	}

	now := s.clock.Now()
	addr, err := s.addresses.Create(ctx, model.Address{
		CityID:     sess.CityID,
		Number:     in.Number,
		StreetName: in.Street,
		Status:     in.Status,
		Note:       in.Note,
	}, now)
	if err != nil {
		return nil, err
	}

	patch, events, err := sess.RecordDoor(addr.StreetName, now)
	if err == nil {
		err = s.sessions.Update(ctx, sess, patch, now, gaming.StatusActive)
	}
	if err != nil {
		if delErr := s.addresses.Delete(ctx, addr.ID); delErr != nil {
			s.logger.Error("undo address insert", "address_id", addr.ID, "error", delErr)
		}
		return nil, err
	}
	metrics.DoorsRecorded.Inc()
	if len(events) > 0 {
		metrics.SeriesCompleted.Add(float64(len(events)))
	}

	progress, milestone, err := s.milestone(ctx, sess.CityID, sess.ID)
	if err != nil {
		return nil, err
	}
	events = append(events, milestone...)

	unlocks, err := s.unlockReady(ctx, userID, sess, now)
	if err != nil {
		return nil, err
	}
	events = append(events, unlocks...)

	s.publish(userID, "address", "created", addr.ID, map[string]any{"city_id": addr.CityID})
	s.publish(userID, "session", "door_recorded", sess.ID, map[string]any{"doors_visited": sess.DoorsVisited})
	s.publishEvents(userID, events)
	if events == nil {
		events = []gaming.Event{}
	}
	return &DoorResult{Session: sess, Address: addr, Progress: progress, Events: events}, nil
}

// AddAddress records an address typed outside a session. It counts towards
// the city's progress like a recorded door, so crossing a milestone emits
// milestone_reached, attributed to the user's open session if there is one.
func (s *Service) AddAddress(ctx context.Context, userID, cityID string, a model.Address) (*AddressResult, error) {
	a.Number = strings.TrimSpace(a.Number)
	a.StreetName = street.Normalize(a.StreetName)
	a.Status = strings.TrimSpace(a.Status)
	a.Note = strings.TrimSpace(a.Note)
	if a.Number == "" || a.StreetName == "" {
		return nil, fmt.Errorf("%w: number and street are required", apperr.ErrInvalidArgument)
	}

	city, err := s.ownedCity(ctx, userID, cityID)
	if err != nil {
		return nil, err
	}
	ok, err := s.statuses.Exists(ctx, userID, a.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, a.Status)
	}

	a.CityID = city.ID
	addr, err := s.addresses.Create(ctx, a, s.clock.Now())
	if err != nil {
		return nil, err
	}

	var sessionID string
	if open, err := s.sessions.FindOpen(ctx, userID); err != nil {
		return nil, err
	} else if open != nil {
		sessionID = open.ID
	}
	progress, events, err := s.milestone(ctx, city.ID, sessionID)
	if err != nil {
		return nil, err
	}

	s.publish(userID, "address", "created", addr.ID, map[string]any{"city_id": city.ID})
	s.publishEvents(userID, events)
	if events == nil {
		events = []gaming.Event{}
	}
	return &AddressResult{Address: addr, Progress: progress, Events: events}, nil
}

// milestone computes the city's progress after an address was added and
// returns the milestone_reached event when the count landed on one.
func (s *Service) milestone(ctx context.Context, cityID, sessionID string) (gaming.Progress, []gaming.Event, error) {
	progress, err := s.cityProgress(ctx, cityID)
	if err != nil {
		return gaming.Progress{}, nil, err
	}
	if progress.Milestone == nil {
		return progress, nil, nil
	}
	return progress, []gaming.Event{{
		Kind:      gaming.EventMilestoneReached,
		SessionID: sessionID,
		Milestone: progress.Milestone,
	}}, nil
}

func (s *Service) cityProgress(ctx context.Context, cityID string) (gaming.Progress, error) {
	city, err := s.cities.GetByID(ctx, cityID)
	if err != nil {
		return gaming.Progress{}, err
	}
	if city == nil {
		return gaming.Progress{}, fmt.Errorf("%w: city %s", apperr.ErrNotFound, cityID)
	}
	count, err := s.addresses.CountByCity(ctx, cityID)
	if err != nil {
		return gaming.Progress{}, err
	}
	return gaming.ComputeProgress(count, city.TargetDoors)
}

// CityProgress reports how far the user is towards the city's target.
func (s *Service) CityProgress(ctx context.Context, userID, cityID string) (gaming.Progress, error) {
	if _, err := s.ownedCity(ctx, userID, cityID); err != nil {
		return gaming.Progress{}, err
	}
	return s.cityProgress(ctx, cityID)
}

// stats aggregates door and series totals across every session of the user;
// the remaining counters come from current.
func (s *Service) stats(ctx context.Context, userID string, current *gaming.Session) (gaming.Stats, error) {
	st := gaming.SessionStats(current)
	doors, series, err := s.sessions.Totals(ctx, userID)
	if err != nil {
		return gaming.Stats{}, err
	}
	st.DoorsVisited = doors
	st.SeriesCompleted = series
	return st, nil
}

func (s *Service) unlockReady(ctx context.Context, userID string, current *gaming.Session, now time.Time) ([]gaming.Event, error) {
	stats, err := s.stats(ctx, userID, current)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.achievements.Unlocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	var events []gaming.Event
	for _, def := range gaming.Ready(gaming.Evaluate(s.catalog, stats, unlocked)) {
		inserted, u, err := s.achievements.Unlock(ctx, userID, def.ID, now, def.XPReward)
		if err != nil {
			return nil, err
		}
		if !inserted {
			continue
		}
		metrics.AchievementsUnlocked.WithLabelValues(def.ID).Inc()
		s.logger.Info("achievement unlocked", "user_id", userID, "achievement", def.ID)
		events = append(events, gaming.Event{Kind: gaming.EventAchievementUnlocked, SessionID: current.ID, Achievement: &def})

		if lvl := levelUp(u, def.XPReward); lvl > 0 {
			events = append(events, gaming.Event{Kind: gaming.EventLevelUp, SessionID: current.ID, Level: lvl})
		}
	}
	return events, nil
}

// Achievements returns the display state of every achievement for the user,
// measured against the open session or, failing that, the latest one.
func (s *Service) Achievements(ctx context.Context, userID string) ([]gaming.AchievementProgress, error) {
	current, err := s.sessions.FindOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		if current, err = s.sessions.Latest(ctx, userID); err != nil {
			return nil, err
		}
	}
	stats, err := s.stats(ctx, userID, current)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.achievements.Unlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return gaming.Evaluate(s.catalog, stats, unlocked), nil
}

// CurrentSession returns the user's open session, or nil.
func (s *Service) CurrentSession(ctx context.Context, userID string) (*SessionView, error) {
	sess, err := s.sessions.FindOpen(ctx, userID)
	if err != nil || sess == nil {
		return nil, err
	}
	now := s.clock.Now()
	return &SessionView{
		Session:          sess,
		EffectiveSeconds: int64(gaming.EffectiveDuration(sess, now) / time.Second),
		Inactive:         gaming.IsInactive(sess, now),
	}, nil
}

// History returns the most recent completed sessions in a city, newest first.
func (s *Service) History(ctx context.Context, userID, cityID string) ([]HistoryEntry, error) {
	if _, err := s.ownedCity(ctx, userID, cityID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListCompleted(ctx, userID, cityID, HistoryLimit)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	entries := make([]HistoryEntry, 0, len(sessions))
	for i := range sessions {
		entries = append(entries, HistoryEntry{Session: sessions[i], Summary: gaming.Summarize(&sessions[i], now)})
	}
	return entries, nil
}

// SweepInactive completes every open session that has been idle longer than
// gaming.InactivityTimeout. A session touched after the snapshot was read is
// skipped. A session that fails to complete is logged and left for the next
// sweep. It returns how many it completed, with the failures joined.
func (s *Service) SweepInactive(ctx context.Context) (int, error) {
	open, err := s.sessions.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	metrics.OpenSessions.Set(float64(len(open)))

	now := s.clock.Now()
	n := 0
	var errs []error
	for i := range open {
		sess := &open[i]
		if !gaming.IsInactive(sess, now) {
			continue
		}
		_, err := s.complete(ctx, sess, metrics.ReasonInactive, now)
		if errors.Is(err, apperr.ErrInvalidState) || errors.Is(err, apperr.ErrConflict) {
			s.logger.Debug("sweep skipped changed session", "session_id", sess.ID, "error", err)
			continue
		}
		if err != nil {
			s.logger.Error("auto-complete session", "session_id", sess.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
