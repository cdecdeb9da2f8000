package canvass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/database"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/model"
	"github.com/dukerupert/doorstep/internal/store"
	"github.com/dukerupert/doorstep/internal/websocket"
)

var start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	stores   Stores
	sessions *store.SessionStore
	catalog  []gaming.Definition
	clock    *clock.Manual
	hub      *websocket.Hub
	users    *store.UserStore
	cities   *store.CityStore
	user     *model.User
	city     *model.City
}

func setup(t *testing.T, target int) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	catalog, err := gaming.DefaultCatalog()
	require.NoError(t, err)
	achievements := store.NewAchievementStore(db)
	require.NoError(t, achievements.Sync(ctx, catalog))

	f := &fixture{
		clock:  clock.NewManual(start),
		hub:    websocket.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil))),
		users:  store.NewUserStore(db),
		cities: store.NewCityStore(db),
	}
	f.user, err = f.users.Create(ctx, "alice", start)
	require.NoError(t, err)
	f.city, err = f.cities.Create(ctx, f.user.ID, "Bordeaux", "33000", target, start)
	require.NoError(t, err)

	f.sessions = store.NewSessionStore(db)
	f.catalog = catalog
	f.stores = Stores{
		Sessions:     f.sessions,
		Cities:       f.cities,
		Addresses:    store.NewAddressStore(db),
		Statuses:     store.NewStatusStore(db),
		Achievements: achievements,
	}
	f.svc = f.withSessions(f.sessions)
	return f
}

// withSessions builds a second service over the same database with sessions
// swapped for repo.
func (f *fixture) withSessions(repo SessionRepository) *Service {
	st := f.stores
	st.Sessions = repo
	return NewService(st, f.catalog, f.clock, f.hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) door(t *testing.T, sessionID string, n int, street string) *DoorResult {
	t.Helper()
	res, err := f.svc.RecordDoor(context.Background(), f.user.ID, sessionID, DoorInput{
		Number: itoa(n),
		Street: street,
		Status: "Absent",
	})
	require.NoError(t, err)
	return res
}

func itoa(n int) string {
	return fmt.Sprint(n)
}

func kinds(events []gaming.Event) []gaming.EventKind {
	var out []gaming.EventKind
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestStartSessionConflict(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	assert.Equal(t, gaming.StatusActive, sess.Status)

	_, err = f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.StartSession(ctx, "someone-else", f.city.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPauseResumeEnd(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.PauseSession(ctx, f.user.ID, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "1", Street: "Rue A", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	f.clock.Advance(2 * time.Minute)
	resumed, err := f.svc.ResumeSession(ctx, f.user.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), resumed.TotalPauseDuration)

	f.clock.Advance(3 * time.Minute)
	end, err := f.svc.EndSession(ctx, f.user.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, gaming.StatusCompleted, end.Session.Status)
	assert.Equal(t, int64(8*60), end.Summary.DurationSeconds)

	_, err = f.svc.EndSession(ctx, f.user.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "1", Street: "Rue A", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRecordDoorSeriesAndAchievements(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	updates, cancel := f.hub.Subscribe(f.user.ID)
	defer cancel()

	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	<-updates // session_started

	var last *DoorResult
	for i := 1; i <= 10; i++ {
		f.clock.Advance(20 * time.Second)
		last = f.door(t, sess.ID, i, "Rue A")
	}
	assert.Equal(t, 10, last.Session.DoorsVisited)
	assert.Equal(t, 1, last.Session.SeriesCompleted)
	assert.Equal(t, 0, last.Session.CurrentSeriesDoors)

	got := kinds(last.Events)
	assert.Contains(t, got, gaming.EventSeriesCompleted)
	assert.Contains(t, got, gaming.EventAchievementUnlocked)

	var unlocked []string
	for _, ev := range last.Events {
		if ev.Kind == gaming.EventAchievementUnlocked {
			unlocked = append(unlocked, ev.Achievement.ID)
		}
	}
	assert.ElementsMatch(t, []string{"first-handle", "warm-up", "quick-visit"}, unlocked)

	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 50+100+200, u.XP)

	progress, err := f.svc.Achievements(ctx, f.user.ID)
	require.NoError(t, err)
	for _, ap := range progress {
		if ap.ID == "street-walker" {
			assert.False(t, ap.Unlocked)
			assert.Equal(t, 10, ap.Progress)
			assert.Equal(t, 100, ap.MaxProgress)
		}
	}
	assert.True(t, progress[len(progress)-1].Unlocked, "unlocked sort last")

	// Recording again never re-unlocks.
	f.clock.Advance(time.Minute)
	next := f.door(t, sess.ID, 11, "Rue B")
	assert.NotContains(t, kinds(next.Events), gaming.EventAchievementUnlocked)
}

func TestRecordDoorMilestone(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)

	// Milestones for a target of 20: 1, 2, 5, 10, 15, 20 doors.
	want := map[int]string{1: "Premiers pas", 2: "Bon début", 5: "Premier quart", 10: "Mi-parcours"}
	for i := 1; i <= 10; i++ {
		f.clock.Advance(time.Minute)
		res := f.door(t, sess.ID, i, "Rue A")
		var milestone string
		for _, ev := range res.Events {
			if ev.Kind == gaming.EventMilestoneReached {
				milestone = ev.Milestone.Name
			}
		}
		assert.Equal(t, want[i], milestone, "door %d", i)
	}

	p, err := f.svc.CityProgress(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(50), p.Percentage)
	assert.Equal(t, "Maître du quartier", p.Rank)
}

func TestRecordDoorValidation(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "1", Street: "Rue A", Status: "Inconnu"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: " ", Street: "Rue A", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	f.door(t, sess.ID, 1, "Rue A")
	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "1", Street: "Rue A", Status: "PI"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	cur, err := f.svc.CurrentSession(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.DoorsVisited, "rejected doors are not counted")

	_, err = f.svc.RecordDoor(ctx, "intruder", sess.ID, DoorInput{Number: "2", Street: "Rue A", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSweepInactiveAndRace(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.door(t, sess.ID, 1, "Rue A")

	f.clock.Advance(10 * time.Minute)
	n, err := f.svc.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	updates, cancel := f.hub.Subscribe(f.user.ID)
	defer cancel()

	f.clock.Advance(6 * time.Minute)
	n, err = f.svc.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var sawAuto bool
	for len(updates) > 0 {
		msg := <-updates
		if msg.Type == "event_session_auto_completed" {
			sawAuto = true
		}
	}
	assert.True(t, sawAuto)

	// A user action arriving after the sweep is rejected, not applied.
	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "2", Street: "Rue A", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = f.svc.PauseSession(ctx, f.user.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// Abandon after the fact is tolerated.
	assert.NoError(t, f.svc.AbandonSession(ctx, f.user.ID, sess.ID))

	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.TotalDoors)

	cur, err := f.svc.CurrentSession(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestAbandonOpenSession(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.AbandonSession(ctx, f.user.ID, sess.ID))
	_, err = f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	assert.NoError(t, err, "abandoning frees the open slot")
}

func TestHistory(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		f.door(t, sess.ID, i+1, "Rue A")
		f.clock.Advance(time.Minute)
		_, err = f.svc.EndSession(ctx, f.user.ID, sess.ID)
		require.NoError(t, err)
	}

	history, err := f.svc.History(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	require.Len(t, history, HistoryLimit)
	assert.True(t, history[0].Session.EndedAt.After(*history[1].Session.EndedAt))
	assert.Equal(t, int64(120), history[0].Summary.DurationSeconds)

	_, err = f.svc.History(ctx, "intruder", f.city.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordDoorNormalizesStreet(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)

	f.door(t, sess.ID, 1, "Rue de la Paix")
	res := f.door(t, sess.ID, 3, "r.  de la Paix")

	assert.Equal(t, "Rue de la Paix", res.Address.StreetName)
	assert.Equal(t, []string{"Rue de la Paix"}, res.Session.UniqueStreets)

	_, err = f.svc.RecordDoor(ctx, f.user.ID, sess.ID, DoorInput{Number: "1", Street: "R. de la Paix", Status: "PI"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

// interleavedSessions runs between after ListOpen has read its snapshot.
type interleavedSessions struct {
	SessionRepository
	between func()
}

func (r *interleavedSessions) ListOpen(ctx context.Context) ([]gaming.Session, error) {
	open, err := r.SessionRepository.ListOpen(ctx)
	if r.between != nil {
		r.between()
		r.between = nil
	}
	return open, err
}

// failingSessions fails to complete the session with ID failID.
type failingSessions struct {
	SessionRepository
	failID string
}

var errDiskFull = errors.New("database or disk is full")

func (r *failingSessions) Complete(ctx context.Context, sess *gaming.Session, patch gaming.Patch, now time.Time, xp int, expect ...gaming.Status) (*model.User, error) {
	if sess.ID == r.failID {
		return nil, errDiskFull
	}
	return r.SessionRepository.Complete(ctx, sess, patch, now, xp, expect...)
}

func TestSweepSkipsSessionPausedAfterSnapshot(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.door(t, sess.ID, 1, "Rue A")
	f.clock.Advance(16 * time.Minute)

	sweeper := f.withSessions(&interleavedSessions{
		SessionRepository: f.sessions,
		between: func() {
			_, err := f.svc.PauseSession(ctx, f.user.ID, sess.ID)
			require.NoError(t, err)
		},
	})
	n, err := sweeper.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := f.sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, gaming.StatusPaused, stored.Status)
	assert.NotNil(t, stored.PauseStartedAt)
	assert.Nil(t, stored.EndedAt)

	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.TotalDoors, "nothing credited for a skipped session")

	// Completing later folds the pause into the total.
	f.clock.Advance(4 * time.Minute)
	end, err := f.svc.EndSession(ctx, f.user.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*60), end.Session.TotalPauseDuration)
	assert.Equal(t, int64(17*60), end.Summary.DurationSeconds)
}

func TestSweepSkipsSessionWithDoorAfterSnapshot(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.door(t, sess.ID, 1, "Rue A")
	f.clock.Advance(16 * time.Minute)

	sweeper := f.withSessions(&interleavedSessions{
		SessionRepository: f.sessions,
		between: func() {
			f.door(t, sess.ID, 2, "Rue A")
		},
	})
	n, err := sweeper.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cur, err := f.svc.CurrentSession(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, gaming.StatusActive, cur.Status)
	assert.Equal(t, 2, cur.DoorsVisited)
	assert.False(t, cur.Inactive)
}

func TestSweepContinuesPastFailedCompletion(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	first, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.door(t, first.ID, 1, "Rue A")

	bob, err := f.users.Create(ctx, "bob", f.clock.Now())
	require.NoError(t, err)
	city, err := f.cities.Create(ctx, bob.ID, "Pau", "64000", 0, f.clock.Now())
	require.NoError(t, err)
	second, err := f.svc.StartSession(ctx, bob.ID, city.ID)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	failing := f.withSessions(&failingSessions{SessionRepository: f.sessions, failID: first.ID})
	n, err := failing.SweepInactive(ctx)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, n, "the other idle session is still completed")

	stored, err := f.sessions.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, gaming.StatusCompleted, stored.Status)

	// The failed session stays open and uncredited; the next sweep completes it.
	stored, err = f.sessions.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.TotalDoors)

	n, err = f.svc.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	u, err = f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.TotalDoors)
}

func TestEndSessionFailureKeepsSessionOpen(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.door(t, sess.ID, 1, "Rue A")

	_, err = f.withSessions(&failingSessions{SessionRepository: f.sessions, failID: sess.ID}).
		EndSession(ctx, f.user.ID, sess.ID)
	assert.ErrorIs(t, err, errDiskFull)

	end, err := f.svc.EndSession(ctx, f.user.ID, sess.ID)
	require.NoError(t, err, "ending again succeeds")
	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.TotalDoors)
	assert.Equal(t, 5, end.Summary.XP)
	assert.Equal(t, 5, u.XP, "credited exactly once")
}

func TestAddAddressEmitsMilestone(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	updates, cancel := f.hub.Subscribe(f.user.ID)
	defer cancel()

	res, err := f.svc.AddAddress(ctx, f.user.ID, f.city.ID, model.Address{Number: "1", StreetName: "av.  Foch", Status: "Absent"})
	require.NoError(t, err)
	assert.Equal(t, "Avenue Foch", res.Address.StreetName)
	assert.Equal(t, []gaming.EventKind{gaming.EventMilestoneReached}, kinds(res.Events))
	assert.Equal(t, "Premiers pas", res.Events[0].Milestone.Name)
	assert.Empty(t, res.Events[0].SessionID)

	var sawMilestone bool
	for len(updates) > 0 {
		if msg := <-updates; msg.Type == "event_milestone_reached" {
			sawMilestone = true
		}
	}
	assert.True(t, sawMilestone)

	// The next milestone is reached by a session door, attributed to it.
	sess, err := f.svc.StartSession(ctx, f.user.ID, f.city.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	door := f.door(t, sess.ID, 2, "Avenue Foch")
	assert.Contains(t, kinds(door.Events), gaming.EventMilestoneReached)

	res, err = f.svc.AddAddress(ctx, f.user.ID, f.city.ID, model.Address{Number: "3", StreetName: "Avenue Foch", Status: "Absent"})
	require.NoError(t, err)
	assert.Empty(t, res.Events, "no milestone at 3 of 20")

	_, err = f.svc.AddAddress(ctx, f.user.ID, f.city.ID, model.Address{Number: "4", StreetName: "Avenue Foch", Status: "Inconnu"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.AddAddress(ctx, "intruder", f.city.ID, model.Address{Number: "4", StreetName: "Avenue Foch", Status: "Absent"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
