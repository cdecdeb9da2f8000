package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/model"
)

type AddressStore struct {
	db *sql.DB
}

func NewAddressStore(db *sql.DB) *AddressStore {
	return &AddressStore{db: db}
}

func scanAddress(scanner interface{ Scan(...any) error }) (*model.Address, error) {
	var a model.Address
	err := scanner.Scan(&a.ID, &a.CityID, &a.Number, &a.StreetName, &a.Status, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = utc(a.CreatedAt)
	a.UpdatedAt = utc(a.UpdatedAt)
	return &a, nil
}

const addressCols = `id, city_id, number, street_name, status, note, created_at, updated_at`

// Create inserts an address. The same number on the same street of a city
// fails with apperr.ErrConflict.
func (s *AddressStore) Create(ctx context.Context, a model.Address, now time.Time) (*model.Address, error) {
	a.ID = uuid.NewString()
	a.CreatedAt = now.UTC()
	a.UpdatedAt = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO addresses (`+addressCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CityID, a.Number, a.StreetName, a.Status, a.Note, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s %s already recorded", apperr.ErrConflict, a.Number, a.StreetName)
	}
	if err != nil {
		return nil, fmt.Errorf("insert address: %w", err)
	}
	return &a, nil
}

func (s *AddressStore) GetByID(ctx context.Context, id string) (*model.Address, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+addressCols+` FROM addresses WHERE id = ?`, id)
	a, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	return a, nil
}

var addressOrder = map[model.AddressSort]string{
	model.SortByNumber:  `CAST(number AS INTEGER), number, street_name COLLATE NOCASE`,
	model.SortByStreet:  `street_name COLLATE NOCASE, CAST(number AS INTEGER), number`,
	model.SortByStatus:  `status, street_name COLLATE NOCASE, CAST(number AS INTEGER)`,
	model.SortByCreated: `created_at DESC`,
}

// List returns the addresses of a city matching f.
func (s *AddressStore) List(ctx context.Context, cityID string, f model.AddressFilter) ([]model.Address, error) {
	query := `SELECT ` + addressCols + ` FROM addresses WHERE city_id = ?`
	args := []any{cityID}
	if f.Street != "" {
		query += ` AND street_name = ?`
		args = append(args, f.Street)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + term + "%"
		query += ` AND (number LIKE ? OR street_name LIKE ? OR note LIKE ? OR status LIKE ?)`
		args = append(args, like, like, like, like)
	}
	order, ok := addressOrder[f.Sort]
	if !ok {
		order = addressOrder[model.SortByStreet]
	}
	query += ` ORDER BY ` + order

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []model.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addrs = append(addrs, *a)
	}
	return addrs, rows.Err()
}

func (s *AddressStore) Update(ctx context.Context, id, number, street, status, note string, now time.Time) (*model.Address, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE addresses SET number = ?, street_name = ?, status = ?, note = ?, updated_at = ? WHERE id = ?`,
		number, street, status, note, now.UTC(), id,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s %s already recorded", apperr.ErrConflict, number, street)
	}
	if err != nil {
		return nil, fmt.Errorf("update address: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AddressStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete address: %w", err)
	}
	return nil
}

func (s *AddressStore) CountByCity(ctx context.Context, cityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses WHERE city_id = ?`, cityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count addresses: %w", err)
	}
	return n, nil
}

// StatusCounts returns how many addresses of a city hold each status, most
// frequent first.
func (s *AddressStore) StatusCounts(ctx context.Context, cityID string) ([]model.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM addresses WHERE city_id = ? GROUP BY status ORDER BY COUNT(*) DESC, status ASC`,
		cityID,
	)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	var counts []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
