package ledger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/domain"
)

// Settlement confidence bands. A repayment covering at least 95% of the debit
// settles it; between 50% and 95% the match is recorded but the debit stays
// pending; below 50% only a low-confidence observation is logged. Fixed
// policy, not learned.
var (
	settleThreshold  = decimal.RequireFromString("0.95")
	partialThreshold = decimal.RequireFromString("0.50")
)

// MatchOracle selects at most one pending debit for a repayment, by
// similarity of amount, description and time proximity. Its output is
// untrusted; the settler validates the returned id against the candidate set.
type MatchOracle interface {
	MatchRepayment(ctx context.Context, repayment *domain.Movement, candidates []*domain.Movement) (int64, bool, error)
}

// Settler matches repayment movements against outstanding debits and applies
// the confidence-threshold state transition.
type Settler struct {
	store  *Store
	oracle MatchOracle
	log    zerolog.Logger
}

// NewSettler creates a settler over the given store and match oracle.
func NewSettler(store *Store, oracle MatchOracle, log zerolog.Logger) *Settler {
	return &Settler{store: store, oracle: oracle, log: log}
}

// Settle matches one repayment movement against the debits pending direct
// settlement. When the oracle picks a candidate, the one-way reference is
// always recorded on the repayment regardless of confidence; the debit itself
// transitions to settled only above the full-settlement threshold.
func (s *Settler) Settle(ctx context.Context, repayment *domain.Movement) error {
	candidates, err := s.store.PendingDirectSettlement(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.log.Debug().Int64("repayment", repayment.ID).Msg("no debits pending settlement")
		return nil
	}

	matchedID, ok, err := s.oracle.MatchRepayment(ctx, repayment, candidates)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Info().Int64("repayment", repayment.ID).Msg("no settlement match")
		return nil
	}

	var debit *domain.Movement
	for _, c := range candidates {
		if c.ID == matchedID {
			debit = c
			break
		}
	}
	if debit == nil {
		s.log.Warn().Int64("repayment", repayment.ID).Int64("matched", matchedID).
			Msg("matcher returned an id outside the candidate set, discarding")
		return nil
	}

	if err := s.store.SetSettledMovementID(ctx, repayment.ID, debit.ID); err != nil {
		return err
	}

	ratio := repayment.Amount.Div(debit.Amount)
	switch {
	case ratio.GreaterThanOrEqual(settleThreshold):
		if err := s.store.SetStatus(ctx, debit.ID, domain.StatusSettled); err != nil {
			return err
		}
		s.log.Info().Int64("repayment", repayment.ID).Int64("debit", debit.ID).
			Stringer("ratio", ratio).Msg("debit settled")
	case ratio.GreaterThanOrEqual(partialThreshold):
		s.log.Info().Int64("repayment", repayment.ID).Int64("debit", debit.ID).
			Stringer("ratio", ratio).Msg("partial repayment, debit stays pending")
	default:
		s.log.Info().Int64("repayment", repayment.ID).Int64("debit", debit.ID).
			Stringer("ratio", ratio).Msg("low-confidence match, debit stays pending")
	}
	return nil
}
