package model

// Status is one user-defined address label. Addresses carry the name by value.
type Status struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}
