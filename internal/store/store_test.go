package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/doorstep/internal/database"
	"github.com/dukerupert/doorstep/internal/model"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *sql.DB, nickname string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(context.Background(), nickname, testNow)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createCity(t *testing.T, db *sql.DB, userID, name string) *model.City {
	t.Helper()
	c, err := NewCityStore(db).Create(context.Background(), userID, name, "75001", 0, testNow)
	if err != nil {
		t.Fatalf("create city: %v", err)
	}
	return c
}
