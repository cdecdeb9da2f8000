package model

import "time"

type User struct {
	ID         string    `json:"id"`
	Nickname   string    `json:"nickname"`
	XP         int       `json:"xp"`
	Level      int       `json:"level"`
	TotalDoors int       `json:"total_doors"`
	CreatedAt  time.Time `json:"created_at"`
}

type APIToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
