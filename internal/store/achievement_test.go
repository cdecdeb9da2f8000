package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/doorstep/internal/gaming"
)

func TestAchievementSyncAndUnlock(t *testing.T) {
	db := setupTestDB(t)
	as := NewAchievementStore(db)
	u := createUser(t, db, "alice")
	ctx := context.Background()

	defs, err := gaming.DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if err := as.Sync(ctx, defs); err != nil {
		t.Fatalf("sync: %v", err)
	}
	defs[0].XPReward = 75
	if err := as.Sync(ctx, defs); err != nil {
		t.Fatalf("resync: %v", err)
	}

	stored, err := as.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != len(defs) {
		t.Fatalf("len = %d, want %d", len(stored), len(defs))
	}
	for _, d := range stored {
		if d.ID == defs[0].ID && d.XPReward != 75 {
			t.Errorf("xp_reward = %d, want 75 after resync", d.XPReward)
		}
		if d.ID == "quick-visit" && d.Condition.Timeframe != 900 {
			t.Errorf("timeframe = %d, want 900", d.Condition.Timeframe)
		}
	}

	at := time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC)
	inserted, credited, err := as.Unlock(ctx, u.ID, "warm-up", at, 100)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !inserted {
		t.Error("expected first unlock to insert")
	}
	if credited == nil || credited.XP != 100 {
		t.Errorf("credited = %+v, want 100 xp", credited)
	}
	inserted, credited, err = as.Unlock(ctx, u.ID, "warm-up", at.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("unlock again: %v", err)
	}
	if inserted || credited != nil {
		t.Error("expected second unlock to be a no-op")
	}

	again, err := NewUserStore(db).GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if again.XP != 100 {
		t.Errorf("xp = %d, want 100 credited once", again.XP)
	}

	unlocked, err := as.Unlocked(ctx, u.ID)
	if err != nil {
		t.Fatalf("unlocked: %v", err)
	}
	if len(unlocked) != 1 || !unlocked["warm-up"].Equal(at) {
		t.Errorf("unlocked = %v", unlocked)
	}
}
