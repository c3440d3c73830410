// Package tabular is the persistence boundary of the ledger. It exposes the
// underlying store as scan/append/set-cell operations over movements; there
// are no secondary indexes, and column layout is an implementation concern.
package tabular

import (
	"context"

	"github.com/dvalenz/finledger/internal/domain"
)

// Column names a single updatable field of a movement row.
type Column string

const (
	ColAmount             Column = "amount"
	ColUserDescription    Column = "user_description"
	ColAIComment          Column = "ai_comment"
	ColCategory           Column = "category"
	ColStatus             Column = "status"
	ColAccountingSystemID Column = "accounting_system_id"
	ColSettledMovementID  Column = "settled_movement_id"
	ColCLPValue           Column = "clp_value"
	ColUSDValue           Column = "usd_value"
	ColGBPValue           Column = "gbp_value"
	ColOriginalAmount     Column = "original_amount"
)

// Table is the row-level contract the ledger store is built on. The store is
// a shared external resource touched by overlapping scheduled runs, so every
// read reflects current state and implementations never cache rows for the
// caller.
type Table interface {
	// Rows returns a snapshot of all movements currently in the table.
	Rows(ctx context.Context) ([]*domain.Movement, error)

	// Append adds one movement row. It does not check id uniqueness; that is
	// the ledger store's job.
	Append(ctx context.Context, m *domain.Movement) error

	// Set writes the given cells on the row with the given movement id. It is
	// a no-op when the id is absent.
	Set(ctx context.Context, id int64, updates map[Column]any) error
}
