package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bonus ledger type enums.
const (
	BonusTypeDirect   = "direct"
	BonusTypeIndirect = "indirect"
)

// Ledger kinds, used for metrics labels and earnings summaries.
const (
	LedgerReturn = "return"
	LedgerBonus  = "bonus"
	LedgerPoints = "points"
	LedgerRebate = "rebate"
	LedgerAward  = "award"
)

// NewTxID returns a fresh unique transaction id for a ledger row.
func NewTxID() uuid.UUID { return uuid.New() }

type ReturnEntry struct {
	ID           uuid.UUID       `json:"id"`
	TxID         uuid.UUID       `json:"tx_id"`
	UserID       uuid.UUID       `json:"user_id"`
	ActivationID uuid.UUID       `json:"activation_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type BonusEntry struct {
	ID           uuid.UUID       `json:"id"`
	TxID         uuid.UUID       `json:"tx_id"`
	UserID       uuid.UUID       `json:"user_id"`
	SourceUserID uuid.UUID       `json:"source_user_id"`
	ActivationID uuid.UUID       `json:"activation_id"`
	Level        int             `json:"level"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PointsEntry struct {
	ID           uuid.UUID       `json:"id"`
	TxID         uuid.UUID       `json:"tx_id"`
	UserID       uuid.UUID       `json:"user_id"`
	SourceUserID uuid.UUID       `json:"source_user_id"`
	ActivationID uuid.UUID       `json:"activation_id"`
	Level        int             `json:"level"`
	Points       decimal.Decimal `json:"points"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RebateEntry is a threshold payout. Level is always 0 and SourceUserID is the owner.
type RebateEntry struct {
	ID           uuid.UUID       `json:"id"`
	TxID         uuid.UUID       `json:"tx_id"`
	UserID       uuid.UUID       `json:"user_id"`
	SourceUserID uuid.UUID       `json:"source_user_id"`
	Level        int             `json:"level"`
	PointsUsed   decimal.Decimal `json:"points_used"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AwardEntry struct {
	ID        uuid.UUID       `json:"id"`
	TxID      uuid.UUID       `json:"tx_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Rank      string          `json:"rank"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// EarningsSummary is the all-time total per ledger for one user.
type EarningsSummary struct {
	Return     decimal.Decimal `json:"return"`
	Bonus      decimal.Decimal `json:"bonus"`
	Rebate     decimal.Decimal `json:"rebate"`
	Award      decimal.Decimal `json:"award"`
	Points     decimal.Decimal `json:"points"`
	PointsUsed decimal.Decimal `json:"points_used"`
}

// Capped is the total that counts toward the cycle cap.
func (s EarningsSummary) Capped() decimal.Decimal {
	return s.Return.Add(s.Bonus).Add(s.Rebate)
}
