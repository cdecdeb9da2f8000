package model

import "time"

type City struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	PostalCode  string    `json:"postal_code"`
	TargetDoors int       `json:"target_doors"`
	Streets     []string  `json:"streets,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
