package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/doorstep/internal/model"
)

// DefaultTokenTTL is used when a token is created without an explicit TTL.
const DefaultTokenTTL = 90 * 24 * time.Hour

type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.APIToken, error) {
	var t model.APIToken
	err := scanner.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = utc(t.ExpiresAt)
	t.CreatedAt = utc(t.CreatedAt)
	return &t, nil
}

const tokenCols = `token, user_id, expires_at, created_at`

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a new bearer token for userID valid for ttl from now.
func (s *TokenStore) Create(ctx context.Context, userID string, now time.Time, ttl time.Duration) (*model.APIToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	t := &model.APIToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(ttl).UTC(),
		CreatedAt: now.UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (`+tokenCols+`) VALUES (?, ?, ?, ?)`,
		t.Token, t.UserID, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	return t, nil
}

// GetByToken returns the token if it exists and has not expired at now.
func (s *TokenStore) GetByToken(ctx context.Context, token string, now time.Time) (*model.APIToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM api_tokens WHERE token = ?`, token)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if !now.Before(t.ExpiresAt) {
		return nil, nil
	}
	return t, nil
}

func (s *TokenStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// DeleteExpired removes every token that expired before now.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
