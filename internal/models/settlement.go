package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Network is a supported deposit/payout chain.
type Network string

const (
	NetworkBEP20 Network = "bep20"
	NetworkTRC20 Network = "trc20"
)

// Networks lists every supported network.
var Networks = []Network{NetworkBEP20, NetworkTRC20}

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	switch n := Network(s); n {
	case NetworkBEP20, NetworkTRC20:
		return n, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// DepositStatus is the closed set of deposit states.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
	DepositFailed    DepositStatus = "failed"
)

// CanTransition reports whether a deposit may move from s to next.
func (s DepositStatus) CanTransition(next DepositStatus) bool {
	switch s {
	case DepositPending:
		return next == DepositConfirmed || next == DepositFailed
	case DepositConfirmed, DepositFailed:
		return false
	default:
		panic(fmt.Sprintf("unhandled deposit status %q", s))
	}
}

type Deposit struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Network     Network         `json:"network"`
	TxRef       string          `json:"tx_ref"`
	Status      DepositStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}

// ExpectedOnChain is what the user must have sent: the credited amount plus the fee.
func (d *Deposit) ExpectedOnChain() decimal.Decimal {
	return d.Amount.Add(d.Fee)
}

// WithdrawalStatus is the closed set of withdrawal states.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// CanTransition reports whether a withdrawal may move from s to next.
func (s WithdrawalStatus) CanTransition(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalPending:
		return next == WithdrawalProcessing || next == WithdrawalFailed
	case WithdrawalProcessing:
		return next == WithdrawalCompleted || next == WithdrawalFailed
	case WithdrawalCompleted, WithdrawalFailed:
		return false
	default:
		panic(fmt.Sprintf("unhandled withdrawal status %q", s))
	}
}

// Terminal reports whether no further transition is possible.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// WithdrawalSource is the earning bucket a withdrawal draws from.
type WithdrawalSource string

const (
	SourceReturn WithdrawalSource = "return"
	SourceBonus  WithdrawalSource = "bonus"
	SourceRebate WithdrawalSource = "rebate"
	SourceAward  WithdrawalSource = "award"
)

// ParseWithdrawalSource validates a source name.
func ParseWithdrawalSource(s string) (WithdrawalSource, error) {
	switch src := WithdrawalSource(s); src {
	case SourceReturn, SourceBonus, SourceRebate, SourceAward:
		return src, nil
	}
	return "", fmt.Errorf("unknown withdrawal source %q", s)
}

type Withdrawal struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	TxID              uuid.UUID        `json:"tx_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Fee               decimal.Decimal  `json:"fee"`
	Network           Network          `json:"network"`
	Source            WithdrawalSource `json:"source"`
	Status            WithdrawalStatus `json:"status"`
	ProviderRequestID *string          `json:"provider_request_id,omitempty"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ProcessingAt      *time.Time       `json:"processing_at,omitempty"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
}

// Debited is the full amount taken from the wallet when the withdrawal was requested.
func (w *Withdrawal) Debited() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

// Funding status enums.
const (
	FundingStatusActive = "active"
	FundingStatusRepaid = "repaid"
)

// FundingMultiplier is the Return a funding must earn back before it is repaid.
var FundingMultiplier = decimal.NewFromInt(3)

type Funding struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	RequiredReturn decimal.Decimal `json:"required_return"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	RepaidAt       *time.Time      `json:"repaid_at,omitempty"`
}
