package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User status enums.
const (
	UserStatusActive        = "active"
	UserStatusCycleComplete = "cycle_complete"
)

type User struct {
	ID        uuid.UUID  `json:"id"`
	SponsorID *uuid.UUID `json:"sponsor_id,omitempty"`
	Email     string     `json:"email"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Wallet struct {
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PayoutAddress is the on-chain address a user withdraws to on one network.
type PayoutAddress struct {
	UserID  uuid.UUID `json:"user_id"`
	Network Network   `json:"network"`
	Address string    `json:"address"`
}
