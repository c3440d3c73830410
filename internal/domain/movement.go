package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates which way money flows on a movement.
type Direction string

const (
	DirectionOutflow Direction = "outflow"
	DirectionInflow  Direction = "inflow"
	DirectionNeutral Direction = "neutral"
)

// Type classifies the accounting nature of a movement.
type Type string

const (
	TypeExpense        Type = "expense"
	TypeCash           Type = "cash"
	TypeDebit          Type = "debit"
	TypeCredit         Type = "credit"
	TypeDebitRepayment Type = "debit_repayment"
)

// Status tracks a movement through the settlement lifecycle.
// The empty string means the movement has no settlement state.
type Status string

const (
	StatusNone             Status = ""
	StatusSettled          Status = "settled"
	StatusPendingDirect    Status = "pending_direct_settlement"
	StatusPendingSplitwise Status = "pending_splitwise_settlement"
	StatusInSplitwise      Status = "in_splitwise"
)

// Source identifiers assigned by the ingestion pipeline.
const (
	SourceBankMail  = "bank_email"
	SourceBankAPI   = "bank_api"
	SourceSplitwise = "splitwise"
)

// Currencies supported by the ledger. Every movement is denominated in one of
// these and converted into all of them for reporting.
const (
	CLP = "CLP"
	USD = "USD"
	GBP = "GBP"
)

// ReportingCurrencies lists the fixed set of currencies every amount is
// converted into.
var ReportingCurrencies = []string{CLP, USD, GBP}

// ValidCurrency reports whether code is one of the supported currencies.
func ValidCurrency(code string) bool {
	switch code {
	case CLP, USD, GBP:
		return true
	}
	return false
}

// Categories is the fixed vocabulary the classifier is allowed to assign.
var Categories = []string{
	"Groceries",
	"Restaurants",
	"Transport",
	"Housing",
	"Utilities",
	"Health",
	"Entertainment",
	"Travel",
	"Shopping",
	"Subscriptions",
	"Education",
	"Income",
	"Transfers",
	"Other",
}

// ValidCategory reports whether name matches the category vocabulary.
// Comparison is case-insensitive and ignores surrounding whitespace.
func ValidCategory(name string) bool {
	return CanonicalCategory(name) != ""
}

// CanonicalCategory returns the vocabulary spelling for name, or "" when the
// name is not part of the vocabulary.
func CanonicalCategory(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, c := range Categories {
		if strings.ToUpper(c) == n {
			return c
		}
	}
	return ""
}

// Movement is one ledger row. Fields are addressed by name everywhere in the
// core; mapping them onto a column layout is the tabular layer's concern.
type Movement struct {
	ID        int64
	Timestamp time.Time

	Direction Direction
	Type      Type

	Amount   decimal.Decimal
	Currency string

	SourceDescription string
	UserDescription   string
	Comment           string
	AIComment         string

	Category string
	Status   Status

	// Source plus SourceID form one idempotency key; AccountingSystemID
	// (the bill-splitting service's expense id) is the other.
	Source             string
	SourceID           string
	AccountingSystemID string

	// SettledMovementID is a one-way reference from a repayment movement to
	// the debit it settles. Zero means unset. It is set at most once and
	// never cleared.
	SettledMovementID int64

	// Amount converted into each reporting currency. A negative value is the
	// failed-conversion sentinel (amounts are strictly positive).
	CLPValue decimal.Decimal
	USDValue decimal.Decimal
	GBPValue decimal.Decimal

	// OriginalAmount records the pre-split amount on movements touched by a
	// split. Zero means the movement never participated in a split.
	OriginalAmount decimal.Decimal
}

// Validate checks the invariants every movement must satisfy before it enters
// the ledger.
func (m *Movement) Validate() error {
	if !m.Amount.IsPositive() {
		return fmt.Errorf("movement amount must be positive, got %s", m.Amount)
	}
	if !ValidCurrency(m.Currency) {
		return fmt.Errorf("movement currency %q is not supported", m.Currency)
	}
	switch m.Direction {
	case DirectionOutflow, DirectionInflow, DirectionNeutral:
	default:
		return fmt.Errorf("unknown direction %q", m.Direction)
	}
	switch m.Type {
	case TypeExpense, TypeCash, TypeDebit, TypeCredit, TypeDebitRepayment:
	default:
		return fmt.Errorf("unknown movement type %q", m.Type)
	}
	return nil
}

// Clone returns a deep copy of the movement. decimal.Decimal is immutable, so
// a field copy is sufficient.
func (m *Movement) Clone() *Movement {
	c := *m
	return &c
}
