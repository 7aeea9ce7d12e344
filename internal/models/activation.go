package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Activation cycle_status enums.
const (
	CycleStatusActive   = "active"
	CycleStatusComplete = "complete"
)

// CycleMultiplier is the cap on capped earnings, as a multiple of the principal.
var CycleMultiplier = decimal.NewFromInt(3)

type PackageActivation struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	PackageCode string          `json:"package_code"`
	Principal   decimal.Decimal `json:"principal"`
	CycleCap    decimal.Decimal `json:"cycle_cap"`
	CycleStatus string          `json:"cycle_status"`
	ActivatedAt time.Time       `json:"activated_at"`
}

// IsActive reports whether the activation still accrues and earns.
func (a *PackageActivation) IsActive() bool {
	return a != nil && a.CycleStatus == CycleStatusActive
}

// Package is one row of the fixed price table.
type Package struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Principal decimal.Decimal `json:"principal"`
}

// Packages is the fixed price table, keyed by code.
var Packages = map[string]Package{
	"starter":  {Code: "starter", Name: "Starter", Principal: decimal.NewFromInt(100)},
	"basic":    {Code: "basic", Name: "Basic", Principal: decimal.NewFromInt(250)},
	"silver":   {Code: "silver", Name: "Silver", Principal: decimal.NewFromInt(500)},
	"gold":     {Code: "gold", Name: "Gold", Principal: decimal.NewFromInt(1000)},
	"platinum": {Code: "platinum", Name: "Platinum", Principal: decimal.NewFromInt(2500)},
	"diamond":  {Code: "diamond", Name: "Diamond", Principal: decimal.NewFromInt(5000)},
	"elite":    {Code: "elite", Name: "Elite", Principal: decimal.NewFromInt(10000)},
}

// LookupPackage resolves a package code against the price table.
func LookupPackage(code string) (Package, bool) {
	p, ok := Packages[code]
	return p, ok
}
