// Package ledger holds the reconciliation core: the authoritative movement
// store, the splitting algorithms, and the settlement matcher.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/domain"
	"github.com/dvalenz/finledger/internal/tabular"
)

// ErrDuplicateID is returned by Insert when the movement id already exists.
// Insert is the single enforcement point for id uniqueness.
var ErrDuplicateID = errors.New("duplicate movement id")

// Store is the authoritative collection of movements. It owns identity
// assignment, idempotency checks, and all field-level mutation. Every
// operation re-scans current table state: the table is shared with
// overlapping scheduled runs, so nothing here caches ids or rows.
type Store struct {
	table tabular.Table
	log   zerolog.Logger
}

// NewStore creates a store over the given table.
func NewStore(table tabular.Table, log zerolog.Logger) *Store {
	return &Store{table: table, log: log}
}

// NextID returns the smallest unused movement id: max(existing) + 1, or 1 for
// an empty ledger. Recomputed from current state on every call so concurrent
// external edits are respected.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	var max int64
	for _, m := range rows {
		if m.ID > max {
			max = m.ID
		}
	}
	return max + 1, nil
}

// Insert appends one movement, failing with ErrDuplicateID when its id is
// already present.
func (s *Store) Insert(ctx context.Context, m *domain.Movement) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("insert movement %d: %w", m.ID, err)
	}
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return fmt.Errorf("insert movement %d: %w", m.ID, err)
	}
	for _, existing := range rows {
		if existing.ID == m.ID {
			return fmt.Errorf("insert movement %d: %w", m.ID, ErrDuplicateID)
		}
	}
	if err := s.table.Append(ctx, m); err != nil {
		return fmt.Errorf("insert movement %d: %w", m.ID, err)
	}
	return nil
}

// InsertBatch sorts the batch by timestamp ascending (zero timestamps first)
// and inserts movements one by one, assigning ids to movements that carry
// none. It returns the number inserted; on error the inserted prefix is
// chronologically consistent and stays committed.
func (s *Store) InsertBatch(ctx context.Context, batch []*domain.Movement) (int, error) {
	sorted := make([]*domain.Movement, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i, m := range sorted {
		if m.ID == 0 {
			id, err := s.NextID(ctx)
			if err != nil {
				return i, fmt.Errorf("insert batch: %w", err)
			}
			m.ID = id
		}
		if err := s.Insert(ctx, m); err != nil {
			return i, fmt.Errorf("insert batch: %w", err)
		}
	}
	return len(sorted), nil
}

// ExistingKeys returns the source_id values already present, filtered by
// source when non-empty. The ingestion pipeline uses this for idempotency.
func (s *Store) ExistingKeys(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("existing keys: %w", err)
	}
	keys := make(map[string]struct{})
	for _, m := range rows {
		if m.SourceID == "" {
			continue
		}
		if source != "" && m.Source != source {
			continue
		}
		keys[m.SourceID] = struct{}{}
	}
	return keys, nil
}

// ExistingAccountingSystemIDs returns the set of non-empty
// accounting_system_id values, used for cross-source idempotency against the
// bill-splitting service.
func (s *Store) ExistingAccountingSystemIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("existing accounting ids: %w", err)
	}
	ids := make(map[string]struct{})
	for _, m := range rows {
		if m.AccountingSystemID != "" {
			ids[m.AccountingSystemID] = struct{}{}
		}
	}
	return ids, nil
}

// FindByID returns the movement with the given id, or nil when absent.
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Movement, error) {
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("find movement %d: %w", id, err)
	}
	for _, m := range rows {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

// Field-level updates. A missing id is logged and ignored, never an error:
// retried batch jobs routinely reference ids from a prior, possibly partial,
// run and must not abort on them.

// SetCategory assigns a category and, when non-empty, a cleaned-up
// description to the movement.
func (s *Store) SetCategory(ctx context.Context, id int64, category, cleanDescription string) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		s.logMissing(id, "set category")
		return nil
	}
	updates := map[tabular.Column]any{tabular.ColCategory: category}
	if cleanDescription != "" {
		updates[tabular.ColUserDescription] = cleanDescription
	}
	return s.table.Set(ctx, id, updates)
}

// SetStatus updates the settlement status of the movement.
func (s *Store) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		s.logMissing(id, "set status")
		return nil
	}
	return s.table.Set(ctx, id, map[tabular.Column]any{tabular.ColStatus: status})
}

// SetSettledMovementID records the one-way reference from a repayment to the
// debit it settles. The reference is set at most once and may only point at a
// debit or credit movement; violations are logged and ignored.
func (s *Store) SetSettledMovementID(ctx context.Context, id, settledID int64) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		s.logMissing(id, "set settled movement")
		return nil
	}
	if m.SettledMovementID != 0 {
		s.log.Warn().Int64("id", id).Int64("existing", m.SettledMovementID).
			Msg("settlement reference already set, ignoring")
		return nil
	}
	target, err := s.FindByID(ctx, settledID)
	if err != nil {
		return err
	}
	if target == nil {
		s.logMissing(settledID, "settlement target")
		return nil
	}
	if target.Type != domain.TypeDebit && target.Type != domain.TypeCredit {
		s.log.Warn().Int64("id", id).Int64("target", settledID).Str("target_type", string(target.Type)).
			Msg("settlement reference may only point at a debit or credit movement")
		return nil
	}
	return s.table.Set(ctx, id, map[tabular.Column]any{tabular.ColSettledMovementID: settledID})
}

// SetAccountingSystemIDAndStatus records the bill-splitting service's expense
// id together with the resulting status.
func (s *Store) SetAccountingSystemIDAndStatus(ctx context.Context, id int64, accountingID string, status domain.Status) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		s.logMissing(id, "set accounting system id")
		return nil
	}
	return s.table.Set(ctx, id, map[tabular.Column]any{
		tabular.ColAccountingSystemID: accountingID,
		tabular.ColStatus:             status,
	})
}

// SetCurrencyValues rewrites the three reporting-currency values.
func (s *Store) SetCurrencyValues(ctx context.Context, id int64, vals currency.Values) error {
	m, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		s.logMissing(id, "set currency values")
		return nil
	}
	return s.table.Set(ctx, id, map[tabular.Column]any{
		tabular.ColCLPValue: vals.CLP,
		tabular.ColUSDValue: vals.USD,
		tabular.ColGBPValue: vals.GBP,
	})
}

func (s *Store) logMissing(id int64, op string) {
	s.log.Warn().Int64("id", id).Str("op", op).Msg("movement not found, skipping update")
}

// Row filters feeding the batch stages.

// NeedingCategoryAnalysis returns movements with a user description but no
// category yet.
func (s *Store) NeedingCategoryAnalysis(ctx context.Context) ([]*domain.Movement, error) {
	return s.filter(ctx, func(m *domain.Movement) bool {
		return m.UserDescription != "" && m.Category == ""
	})
}

// PendingDirectSettlement returns debit movements awaiting a direct
// repayment.
func (s *Store) PendingDirectSettlement(ctx context.Context) ([]*domain.Movement, error) {
	return s.filter(ctx, func(m *domain.Movement) bool {
		return m.Type == domain.TypeDebit && m.Status == domain.StatusPendingDirect
	})
}

// PendingSplitwiseSettlement returns movements waiting to be pushed to the
// bill-splitting service.
func (s *Store) PendingSplitwiseSettlement(ctx context.Context) ([]*domain.Movement, error) {
	return s.filter(ctx, func(m *domain.Movement) bool {
		return m.Status == domain.StatusPendingSplitwise
	})
}

// UnmatchedRepayments returns repayment movements that have not been matched
// against a debit yet.
func (s *Store) UnmatchedRepayments(ctx context.Context) ([]*domain.Movement, error) {
	return s.filter(ctx, func(m *domain.Movement) bool {
		return m.Type == domain.TypeDebitRepayment && m.SettledMovementID == 0
	})
}

// FailedCurrencyConversion returns movements with at least one
// failed-conversion sentinel.
func (s *Store) FailedCurrencyConversion(ctx context.Context) ([]*domain.Movement, error) {
	return s.filter(ctx, func(m *domain.Movement) bool {
		return currency.IsFailed(m.CLPValue) || currency.IsFailed(m.USDValue) || currency.IsFailed(m.GBPValue)
	})
}

func (s *Store) filter(ctx context.Context, keep func(*domain.Movement) bool) ([]*domain.Movement, error) {
	rows, err := s.table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("filter movements: %w", err)
	}
	var out []*domain.Movement
	for _, m := range rows {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}
