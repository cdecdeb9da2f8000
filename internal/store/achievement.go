package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/model"
)

type AchievementStore struct {
	db *sql.DB
}

func NewAchievementStore(db *sql.DB) *AchievementStore {
	return &AchievementStore{db: db}
}

const achievementCols = `id, name, description, category, xp_reward, badge, kind, threshold, timeframe`

func scanDefinition(scanner interface{ Scan(...any) error }) (*gaming.Definition, error) {
	var d gaming.Definition
	err := scanner.Scan(&d.ID, &d.Name, &d.Description, &d.Category, &d.XPReward, &d.Badge,
		&d.Condition.Kind, &d.Condition.Threshold, &d.Condition.Timeframe)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Sync upserts the catalog so unlock records can reference it. Definitions
// missing from defs are left in place to keep existing unlocks valid.
func (s *AchievementStore) Sync(ctx context.Context, defs []gaming.Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range defs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO achievements (`+achievementCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name, description = excluded.description, category = excluded.category,
			   xp_reward = excluded.xp_reward, badge = excluded.badge, kind = excluded.kind,
			   threshold = excluded.threshold, timeframe = excluded.timeframe`,
			d.ID, d.Name, d.Description, d.Category, d.XPReward, d.Badge,
			string(d.Condition.Kind), d.Condition.Threshold, d.Condition.Timeframe,
		)
		if err != nil {
			return fmt.Errorf("upsert achievement %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *AchievementStore) List(ctx context.Context) ([]gaming.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+achievementCols+` FROM achievements ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var defs []gaming.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

// Unlocked maps achievement IDs the user has unlocked to the unlock time.
func (s *AchievementStore) Unlocked(ctx context.Context, userID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT achievement_id, unlocked_at FROM achievement_unlocks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	unlocked := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		unlocked[id] = at.UTC()
	}
	return unlocked, rows.Err()
}

// Unlock records that the user unlocked an achievement and credits its xp
// reward in the same transaction. It reports false, crediting nothing, when
// the record already existed. The returned user is nil unless xp was
// credited.
func (s *AchievementStore) Unlock(ctx context.Context, userID, achievementID string, at time.Time, xp int) (bool, *model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		userID, achievementID, at.UTC(),
	)
	if err != nil {
		return false, nil, fmt.Errorf("insert unlock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil, nil
	}

	var u *model.User
	if xp != 0 {
		if u, err = addXP(ctx, tx, userID, xp, 0); err != nil {
			return false, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit: %w", err)
	}
	return true, u, nil
}
