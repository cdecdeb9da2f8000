package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/model"
	"github.com/dukerupert/doorstep/internal/store"
)

// FormatVersion is bumped whenever Archive changes incompatibly.
const FormatVersion = 1

// Archive is one city with its addresses and the statuses they use.
type Archive struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	City       model.City      `json:"city"`
	Statuses   []model.Status  `json:"statuses"`
	Addresses  []model.Address `json:"addresses"`
}

type ImportResult struct {
	CityID           string `json:"city_id"`
	CityCreated      bool   `json:"city_created"`
	StatusesAdded    int    `json:"statuses_added"`
	AddressesAdded   int    `json:"addresses_added"`
	AddressesSkipped int    `json:"addresses_skipped"`
}

type Service struct {
	cities    *store.CityStore
	addresses *store.AddressStore
	statuses  *store.StatusStore
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(cs *store.CityStore, as *store.AddressStore, ss *store.StatusStore, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{cities: cs, addresses: as, statuses: ss, clock: clk, logger: logger.With("component", "export")}
}

// Export collects a city owned by userID.
func (s *Service) Export(ctx context.Context, userID, cityID string) (*Archive, error) {
	city, err := s.cities.GetByID(ctx, cityID)
	if err != nil {
		return nil, err
	}
	if city == nil || city.UserID != userID {
		return nil, fmt.Errorf("%w: city %s", apperr.ErrNotFound, cityID)
	}

	statuses, err := s.statuses.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	addrs, err := s.addresses.List(ctx, city.ID, model.AddressFilter{Sort: model.SortByStreet})
	if err != nil {
		return nil, err
	}

	return &Archive{
		Version:    FormatVersion,
		ExportedAt: s.clock.Now(),
		City:       *city,
		Statuses:   statuses,
		Addresses:  addrs,
	}, nil
}

// Import restores an archive under userID. A city with the same name is
// reused; statuses and addresses the user already has are skipped.
func (s *Service) Import(ctx context.Context, userID string, a *Archive) (*ImportResult, error) {
	if a.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported archive version %d", apperr.ErrInvalidArgument, a.Version)
	}
	name := strings.TrimSpace(a.City.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: archive has no city name", apperr.ErrInvalidArgument)
	}

	now := s.clock.Now()
	result := &ImportResult{}

	city, err := s.findCity(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if city == nil {
		city, err = s.cities.Create(ctx, userID, name, a.City.PostalCode, a.City.TargetDoors, now)
		if err != nil {
			return nil, err
		}
		result.CityCreated = true
	}
	result.CityID = city.ID

	existing, err := s.statuses.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, st := range existing {
		known[st.Name] = true
	}
	for _, st := range a.Statuses {
		if known[st.Name] {
			continue
		}
		if _, err := s.statuses.Add(ctx, userID, st.Name, st.Color, st.Description); err != nil {
			return nil, err
		}
		known[st.Name] = true
		result.StatusesAdded++
	}

	for _, addr := range a.Addresses {
		if !known[addr.Status] {
			s.logger.Warn("skipping address with unknown status", "number", addr.Number, "street", addr.StreetName, "status", addr.Status)
			result.AddressesSkipped++
			continue
		}
		addr.CityID = city.ID
		_, err := s.addresses.Create(ctx, addr, now)
		if errors.Is(err, apperr.ErrConflict) {
			result.AddressesSkipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		result.AddressesAdded++
	}

	s.logger.Info("archive imported",
		"user_id", userID,
		"city_id", city.ID,
		"addresses_added", result.AddressesAdded,
		"addresses_skipped", result.AddressesSkipped,
	)
	return result, nil
}

func (s *Service) findCity(ctx context.Context, userID, name string) (*model.City, error) {
	cities, err := s.cities.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range cities {
		if strings.EqualFold(cities[i].Name, name) {
			return &cities[i], nil
		}
	}
	return nil, nil
}

// Write encrypts the archive to w.
func Write(w io.Writer, a *Archive, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: passphrase is required", apperr.ErrInvalidArgument)
	}
	plaintext, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	sealed, err := Seal(plaintext, passphrase)
	if err != nil {
		return err
	}
	if _, err := w.Write(sealed); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// Read decrypts an archive written by Write.
func Read(r io.Reader, passphrase string) (*Archive, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase is required", apperr.ErrInvalidArgument)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	plaintext, err := Open(data, passphrase)
	if err != nil {
		return nil, err
	}
	var a Archive
	if err := json.Unmarshal(plaintext, &a); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &a, nil
}
