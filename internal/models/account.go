package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	AccountTypeAdmin AccountType = "admin"
	AccountTypeUser  AccountType = "user"
)

// Account is either an admin (customer-level) or a user belonging to a
// customer. Users have a name unique within their customer; admins do not
// carry a name.
type Account struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	CustomerID        uuid.UUID   `json:"customer_id" db:"customer_id"`
	Type              AccountType `json:"account_type" db:"account_type"`
	Name              string      `json:"name,omitempty" db:"name"`
	Email             string      `json:"email" db:"email"`
	PasswordHash      string      `json:"-" db:"password"`
	PreviousPasswords []string    `json:"-" db:"previous_passwords"`
	RefreshToken      *string     `json:"-" db:"refresh_token"`
	ResetToken        *string     `json:"-" db:"reset_token"`
	Verified          bool        `json:"verified" db:"verified"`
	Suspended         bool        `json:"suspended" db:"suspended"`
	DeletedAt         *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// AccountID returns the id the account is addressed by in tokens and
// account_scopes rows: customer id for admins, user id for users.
func (a *Account) AccountID() uuid.UUID {
	if a.Type == AccountTypeAdmin {
		return a.CustomerID
	}
	return a.ID
}

// ProductLimits are the per-product usage restrictions configured on a
// customer. -1 means unlimited.
type ProductLimits struct {
	Uploads        int64   `json:"uploads"`
	Jobs           int64   `json:"jobs"`
	ExpirationDate *string `json:"expiration_date"`
}

type Customer struct {
	ID                uuid.UUID                `json:"id" db:"id"`
	Email             string                   `json:"email" db:"email"`
	Alias             *string                  `json:"alias,omitempty" db:"alias"`
	UsageRestrictions map[string]ProductLimits `json:"usage_restrictions" db:"usage_restrictions"`
	Data              json.RawMessage          `json:"data,omitempty" db:"data"`
	CreatedAt         time.Time                `json:"created_at" db:"created_at"`
}
