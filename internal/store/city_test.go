package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/doorstep/internal/apperr"
	"github.com/dukerupert/doorstep/internal/model"
)

func TestCityCRUD(t *testing.T) {
	db := setupTestDB(t)
	cs := NewCityStore(db)
	ctx := context.Background()
	u := createUser(t, db, "alice")

	city, err := cs.Create(ctx, u.ID, "Nantes", "44000", 0, testNow)
	if err != nil {
		t.Fatalf("create city: %v", err)
	}
	if city.TargetDoors != 1000 {
		t.Errorf("target_doors = %d, want 1000", city.TargetDoors)
	}
	if city.Name != "Nantes" {
		t.Errorf("name = %q, want %q", city.Name, "Nantes")
	}

	if _, err := cs.Create(ctx, u.ID, "Bad", "", -5, testNow); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("negative target err = %v, want ErrInvalidArgument", err)
	}

	updated, err := cs.Update(ctx, city.ID, "Nantes Centre", "44100", 250, testNow)
	if err != nil {
		t.Fatalf("update city: %v", err)
	}
	if updated.TargetDoors != 250 || updated.PostalCode != "44100" {
		t.Errorf("updated = %+v", updated)
	}
	if _, err := cs.Update(ctx, city.ID, "Nantes", "", 0, testNow); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("zero target err = %v, want ErrInvalidArgument", err)
	}

	if err := cs.Delete(ctx, city.ID); err != nil {
		t.Fatalf("delete city: %v", err)
	}
	got, err := cs.GetByID(ctx, city.ID)
	if err != nil {
		t.Fatalf("get city: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestCityListWithStreets(t *testing.T) {
	db := setupTestDB(t)
	cs := NewCityStore(db)
	as := NewAddressStore(db)
	ctx := context.Background()
	u := createUser(t, db, "alice")
	other := createUser(t, db, "bob")

	rennes := createCity(t, db, u.ID, "Rennes")
	createCity(t, db, u.ID, "Angers")
	createCity(t, db, other.ID, "Brest")

	for _, a := range []model.Address{
		{CityID: rennes.ID, Number: "1", StreetName: "Rue B", Status: "Absent"},
		{CityID: rennes.ID, Number: "2", StreetName: "Rue A", Status: "Absent"},
		{CityID: rennes.ID, Number: "3", StreetName: "Rue B", Status: "PI"},
	} {
		if _, err := as.Create(ctx, a, testNow); err != nil {
			t.Fatalf("create address: %v", err)
		}
	}

	cities, err := cs.ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list cities: %v", err)
	}
	if len(cities) != 2 {
		t.Fatalf("len = %d, want 2", len(cities))
	}
	if cities[0].Name != "Angers" {
		t.Errorf("first = %q, want Angers", cities[0].Name)
	}
	if len(cities[0].Streets) != 0 {
		t.Errorf("angers streets = %v, want none", cities[0].Streets)
	}
	if got := cities[1].Streets; len(got) != 2 || got[0] != "Rue A" || got[1] != "Rue B" {
		t.Errorf("rennes streets = %v, want [Rue A Rue B]", got)
	}
}

func TestCityDeleteCascadesAddresses(t *testing.T) {
	db := setupTestDB(t)
	cs := NewCityStore(db)
	as := NewAddressStore(db)
	ctx := context.Background()
	u := createUser(t, db, "alice")
	city := createCity(t, db, u.ID, "Tours")

	a, err := as.Create(ctx, model.Address{CityID: city.ID, Number: "4", StreetName: "Rue C", Status: "Absent"}, testNow)
	if err != nil {
		t.Fatalf("create address: %v", err)
	}
	if err := cs.Delete(ctx, city.ID); err != nil {
		t.Fatalf("delete city: %v", err)
	}
	got, err := as.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get address: %v", err)
	}
	if got != nil {
		t.Error("expected address to be deleted with its city")
	}
}
