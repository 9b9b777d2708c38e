package models

import "time"

// Account is a seller account keyed by phone. It is created on the first
// confirmed login.
type Account struct {
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
