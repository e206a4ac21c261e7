package user

import "time"

// User is an entry of the identity directory that tasks are assigned to.
type User struct {
	Subject   string    `json:"userId" db:"subject"`
	Username  string    `json:"username,omitempty" db:"-"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status,omitempty" db:"-"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	Groups    []string  `json:"groups" db:"groups"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
