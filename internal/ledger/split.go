package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/domain"
	"github.com/dvalenz/finledger/internal/tabular"
)

// ErrInvalidSplitAmount is returned when a split amount is not strictly
// between zero and the original amount. The original row is left untouched.
var ErrInvalidSplitAmount = errors.New("split amount must be greater than zero and less than the original amount")

// Splitter decomposes one movement into two, conserving both the amount and
// every reporting-currency value. Currency values of the halves come from the
// proportional splitter, never from re-invoking conversion: rates may have
// moved since ingestion and the halves must still sum to the original.
type Splitter struct {
	store *Store
	log   zerolog.Logger
}

// NewSplitter creates a splitter over the given store.
func NewSplitter(store *Store, log zerolog.Logger) *Splitter {
	return &Splitter{store: store, log: log}
}

// SplitShared separates a shared expense into the personal portion and the
// amount owed by others. The original row is rewritten in place to the
// personal portion (amount, category and description from the classifier);
// the remainder becomes a new neutral debit movement awaiting direct
// settlement. Both halves cross-reference each other and record the pre-split
// amount.
//
// A missing id is logged and returns a nil movement: the split did not
// happen, the caller must not treat it as success.
func (sp *Splitter) SplitShared(ctx context.Context, id int64, personalAmount decimal.Decimal, category, cleanDescription string) (*domain.Movement, error) {
	orig, err := sp.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		sp.log.Warn().Int64("id", id).Msg("shared split target not found")
		return nil, nil
	}
	if err := validSplitAmount(personalAmount, orig.Amount); err != nil {
		return nil, fmt.Errorf("shared split of movement %d: %w", id, err)
	}

	remaining := orig.Amount.Sub(personalAmount)
	origValues := currency.Values{CLP: orig.CLPValue, USD: orig.USDValue, GBP: orig.GBPValue}
	personalValues := currency.SplitProportionally(orig.Amount, personalAmount, origValues)
	debitValues := origValues.Sub(personalValues)

	newID, err := sp.store.NextID(ctx)
	if err != nil {
		return nil, err
	}

	debit := &domain.Movement{
		ID:                newID,
		Timestamp:         orig.Timestamp,
		Direction:         domain.DirectionNeutral,
		Type:              domain.TypeDebit,
		Amount:            remaining,
		Currency:          orig.Currency,
		SourceDescription: orig.SourceDescription,
		UserDescription:   cleanDescription,
		AIComment:         fmt.Sprintf("Owed portion split from movement %d", id),
		Status:            domain.StatusPendingDirect,
		Source:            orig.Source,
		CLPValue:          debitValues.CLP,
		USDValue:          debitValues.USD,
		GBPValue:          debitValues.GBP,
		OriginalAmount:    orig.Amount,
	}
	if err := sp.store.Insert(ctx, debit); err != nil {
		return nil, err
	}

	err = sp.rewriteOriginal(ctx, id, originalRewrite{
		amount:          personalAmount,
		category:        category,
		userDescription: cleanDescription,
		aiComment:       fmt.Sprintf("Personal portion, owed remainder in movement %d", newID),
		values:          personalValues,
		originalAmount:  orig.Amount,
	})
	if err != nil {
		return nil, err
	}
	return debit, nil
}

// SplitExpense divides one payment across two expense categories. The
// original row keeps the remainder and loses its category; the new movement
// takes splitAmount. Both halves are left uncategorized for a later
// classification pass.
func (sp *Splitter) SplitExpense(ctx context.Context, id int64, splitAmount decimal.Decimal) (*domain.Movement, error) {
	orig, err := sp.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		sp.log.Warn().Int64("id", id).Msg("expense split target not found")
		return nil, nil
	}
	if err := validSplitAmount(splitAmount, orig.Amount); err != nil {
		return nil, fmt.Errorf("expense split of movement %d: %w", id, err)
	}

	remaining := orig.Amount.Sub(splitAmount)
	origValues := currency.Values{CLP: orig.CLPValue, USD: orig.USDValue, GBP: orig.GBPValue}
	partValues := currency.SplitProportionally(orig.Amount, splitAmount, origValues)
	remainingValues := origValues.Sub(partValues)

	newID, err := sp.store.NextID(ctx)
	if err != nil {
		return nil, err
	}

	part := &domain.Movement{
		ID:                newID,
		Timestamp:         orig.Timestamp,
		Direction:         orig.Direction,
		Type:              orig.Type,
		Amount:            splitAmount,
		Currency:          orig.Currency,
		SourceDescription: orig.SourceDescription,
		UserDescription:   orig.UserDescription,
		AIComment:         fmt.Sprintf("Split from movement %d", id),
		Source:            orig.Source,
		CLPValue:          partValues.CLP,
		USDValue:          partValues.USD,
		GBPValue:          partValues.GBP,
		OriginalAmount:    orig.Amount,
	}
	if err := sp.store.Insert(ctx, part); err != nil {
		return nil, err
	}

	err = sp.rewriteOriginal(ctx, id, originalRewrite{
		amount:         remaining,
		category:       "",
		aiComment:      fmt.Sprintf("Remainder after splitting movement %d off", newID),
		values:         remainingValues,
		originalAmount: orig.Amount,
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}

func validSplitAmount(split, original decimal.Decimal) error {
	if !split.IsPositive() || split.GreaterThanOrEqual(original) {
		return fmt.Errorf("%w: split %s of original %s", ErrInvalidSplitAmount, split, original)
	}
	return nil
}

type originalRewrite struct {
	amount          decimal.Decimal
	category        string
	userDescription string
	aiComment       string
	values          currency.Values
	originalAmount  decimal.Decimal
}

func (sp *Splitter) rewriteOriginal(ctx context.Context, id int64, rw originalRewrite) error {
	updates := map[tabular.Column]any{
		tabular.ColAmount:         rw.amount,
		tabular.ColCategory:       rw.category,
		tabular.ColAIComment:      rw.aiComment,
		tabular.ColCLPValue:       rw.values.CLP,
		tabular.ColUSDValue:       rw.values.USD,
		tabular.ColGBPValue:       rw.values.GBP,
		tabular.ColOriginalAmount: rw.originalAmount,
	}
	if rw.userDescription != "" {
		updates[tabular.ColUserDescription] = rw.userDescription
	}
	if err := sp.store.table.Set(ctx, id, updates); err != nil {
		return fmt.Errorf("rewrite split original %d: %w", id, err)
	}
	return nil
}
