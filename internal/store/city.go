package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/model"
)

type CityStore struct {
	db *sql.DB
}

func NewCityStore(db *sql.DB) *CityStore {
	return &CityStore{db: db}
}

func scanCity(scanner interface{ Scan(...any) error }) (*model.City, error) {
	var c model.City
	err := scanner.Scan(&c.ID, &c.UserID, &c.Name, &c.PostalCode, &c.TargetDoors, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = utc(c.CreatedAt)
	c.UpdatedAt = utc(c.UpdatedAt)
	return &c, nil
}

const cityCols = `id, user_id, name, postal_code, target_doors, created_at, updated_at`

func checkTarget(target int) (int, error) {
	if target == 0 {
		return gaming.DefaultTargetDoors, nil
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: target doors must be positive", apperr.ErrInvalidArgument)
	}
	return target, nil
}

// Create adds a city for userID. A zero target uses the default.
func (s *CityStore) Create(ctx context.Context, userID, name, postalCode string, target int, now time.Time) (*model.City, error) {
	target, err := checkTarget(target)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cities (`+cityCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, name, postalCode, target, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert city: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CityStore) GetByID(ctx context.Context, id string) (*model.City, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cityCols+` FROM cities WHERE id = ?`, id)
	c, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get city: %w", err)
	}
	return c, nil
}

// ListByUser returns the user's cities by name, each with its distinct
// street names.
func (s *CityStore) ListByUser(ctx context.Context, userID string) ([]model.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cityCols+` FROM cities WHERE user_id = ? ORDER BY name COLLATE NOCASE ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	var cities []model.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan city: %w", err)
		}
		cities = append(cities, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}

	streets, err := s.streetsByCity(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range cities {
		cities[i].Streets = streets[cities[i].ID]
	}
	return cities, nil
}

func (s *CityStore) streetsByCity(ctx context.Context, userID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.city_id, a.street_name FROM addresses a
		 JOIN cities c ON c.id = a.city_id
		 WHERE c.user_id = ?
		 ORDER BY a.street_name COLLATE NOCASE ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list streets: %w", err)
	}
	defer rows.Close()

	streets := make(map[string][]string)
	for rows.Next() {
		var cityID, street string
		if err := rows.Scan(&cityID, &street); err != nil {
			return nil, fmt.Errorf("scan street: %w", err)
		}
		streets[cityID] = append(streets[cityID], street)
	}
	return streets, rows.Err()
}

func (s *CityStore) Update(ctx context.Context, id, name, postalCode string, target int, now time.Time) (*model.City, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: target doors must be positive", apperr.ErrInvalidArgument)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE cities SET name = ?, postal_code = ?, target_doors = ?, updated_at = ? WHERE id = ?`,
		name, postalCode, target, now.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update city: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes the city and all of its addresses in one transaction.
func (s *CityStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE city_id = ?`, id); err != nil {
		return fmt.Errorf("delete city addresses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete city: %w", err)
	}
	return tx.Commit()
}
