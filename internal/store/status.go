package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/model"
)

// DefaultStatuses are seeded for a user the first time their statuses are
// listed.
var DefaultStatuses = []model.Status{
	{Name: "Accepté", Color: "#22c55e", Description: "Le propriétaire a accepté de recevoir des informations"},
	{Name: "Absent", Color: "#eab308", Description: "Personne n'était présent lors de la visite"},
	{Name: "PI", Color: "#ef4444", Description: "Pas intéressé"},
	{Name: "Fermé", Color: "#3b82f6", Description: "Accès impossible ou refusé"},
	{Name: "À Vendre", Color: "#a855f7", Description: "Bien en vente"},
	{Name: "Référent", Color: "#14b8a6", Description: "Contact privilégié dans le secteur"},
}

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type StatusStore struct {
	db *sql.DB
}

func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

func scanStatus(scanner interface{ Scan(...any) error }) (*model.Status, error) {
	var st model.Status
	err := scanner.Scan(&st.ID, &st.UserID, &st.Name, &st.Color, &st.Description, &st.Order)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const statusCols = `id, user_id, name, color, description, sort_order`

func validateStatus(name, color string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: status name is required", apperr.ErrInvalidArgument)
	}
	if !colorRe.MatchString(color) {
		return fmt.Errorf("%w: color must look like #RRGGBB", apperr.ErrInvalidArgument)
	}
	return nil
}

// EnsureDefaults seeds DefaultStatuses when the user has none.
func (s *StatusStore) EnsureDefaults(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return fmt.Errorf("count statuses: %w", err)
	}
	if n > 0 {
		return nil
	}
	for i, st := range DefaultStatuses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO statuses (`+statusCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, st.Name, st.Color, st.Description, i,
		)
		if err != nil {
			return fmt.Errorf("seed status %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

// ListByUser returns the user's statuses in display order, seeding the
// defaults first if needed.
func (s *StatusStore) ListByUser(ctx context.Context, userID string) ([]model.Status, error) {
	if err := s.EnsureDefaults(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+statusCols+` FROM statuses WHERE user_id = ? ORDER BY sort_order ASC, name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []model.Status
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, *st)
	}
	return statuses, rows.Err()
}

func (s *StatusStore) GetByID(ctx context.Context, id string) (*model.Status, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statusCols+` FROM statuses WHERE id = ?`, id)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

func (s *StatusStore) getByName(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, userID, name string) (*model.Status, error) {
	row := q.QueryRowContext(ctx, `SELECT `+statusCols+` FROM statuses WHERE user_id = ? AND name = ?`, userID, name)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status by name: %w", err)
	}
	return st, nil
}

// Exists reports whether the user has a status with this name.
func (s *StatusStore) Exists(ctx context.Context, userID, name string) (bool, error) {
	if err := s.EnsureDefaults(ctx, userID); err != nil {
		return false, err
	}
	st, err := s.getByName(ctx, s.db, userID, name)
	if err != nil {
		return false, err
	}
	return st != nil, nil
}

// Add appends a status at the end of the user's list, after the defaults. Adding an identical
// status again returns the existing one; reusing a name for a different
// status fails with apperr.ErrConflict.
func (s *StatusStore) Add(ctx context.Context, userID, name, color, description string) (*model.Status, error) {
	if err := validateStatus(name, color); err != nil {
		return nil, err
	}
	if err := s.EnsureDefaults(ctx, userID); err != nil {
		return nil, err
	}
	existing, err := s.getByName(ctx, s.db, userID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if strings.EqualFold(existing.Color, color) && existing.Description == description {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: status %q already exists", apperr.ErrConflict, name)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO statuses (`+statusCols+`)
		 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM statuses WHERE user_id = ?))`,
		id, userID, name, color, description, userID,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: status %q already exists", apperr.ErrConflict, name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert status: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Update changes a status. A rename is propagated to every address of the
// user holding the old name, in the same transaction.
func (s *StatusStore) Update(ctx context.Context, userID, id, name, color, description string) (*model.Status, error) {
	if err := validateStatus(name, color); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := scanStatus(tx.QueryRowContext(ctx,
		`SELECT `+statusCols+` FROM statuses WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: status %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE statuses SET name = ?, color = ?, description = ? WHERE id = ?`,
		name, color, description, id,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: status %q already exists", apperr.ErrConflict, name)
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if old.Name != name {
		_, err = tx.ExecContext(ctx,
			`UPDATE addresses SET status = ?
			 WHERE status = ? AND city_id IN (SELECT id FROM cities WHERE user_id = ?)`,
			name, old.Name, userID,
		)
		if err != nil {
			return nil, fmt.Errorf("rename address statuses: %w", err)
		}
	}

	updated, err := scanStatus(tx.QueryRowContext(ctx, `SELECT `+statusCols+` FROM statuses WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// Reorder sets the display order to the order of ids. Every id must belong
// to the user.
func (s *StatusStore) Reorder(ctx context.Context, userID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		result, err := tx.ExecContext(ctx,
			`UPDATE statuses SET sort_order = ? WHERE id = ? AND user_id = ?`, i, id, userID)
		if err != nil {
			return fmt.Errorf("reorder status: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: unknown status %s", apperr.ErrInvalidArgument, id)
		}
	}
	return tx.Commit()
}

// Delete removes a status no address uses any more. A status still in use
// fails with apperr.ErrConflict.
func (s *StatusStore) Delete(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM statuses WHERE id = ? AND user_id = ?`, id, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: status %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	var inUse int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM addresses
		 WHERE status = ? AND city_id IN (SELECT id FROM cities WHERE user_id = ?)`,
		name, userID,
	).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("count status usage: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: status %q is used by %d addresses", apperr.ErrConflict, name, inUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM statuses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return tx.Commit()
}
