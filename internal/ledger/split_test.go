package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/domain"
)

func insertSplittable(t *testing.T, store *Store, id int64, amount string) *domain.Movement {
	t.Helper()
	m := expense(id, amount)
	m.UserDescription = "dinner at la fuente"
	m.Category = "Restaurants"
	m.CLPValue = decimal.RequireFromString(amount)
	m.USDValue = decimal.RequireFromString(amount).Mul(decimal.RequireFromString("0.001"))
	m.GBPValue = decimal.RequireFromString(amount).Mul(decimal.RequireFromString("0.0008"))
	if err := store.Insert(context.Background(), m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return m
}

func TestSplitShared(t *testing.T) {
	store, _ := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	orig := insertSplittable(t, store, 1, "100")

	debit, err := splitter.SplitShared(ctx, 1, decimal.NewFromInt(30), "Restaurants", "Dinner, personal share")
	if err != nil {
		t.Fatalf("SplitShared: %v", err)
	}
	if debit == nil {
		t.Fatal("SplitShared returned nil movement")
	}

	if debit.Amount.String() != "70" {
		t.Errorf("debit amount = %s, want 70", debit.Amount)
	}
	if debit.Direction != domain.DirectionNeutral {
		t.Errorf("debit direction = %s, want neutral", debit.Direction)
	}
	if debit.Type != domain.TypeDebit {
		t.Errorf("debit type = %s, want debit", debit.Type)
	}
	if debit.Status != domain.StatusPendingDirect {
		t.Errorf("debit status = %s, want pending_direct_settlement", debit.Status)
	}
	if !debit.OriginalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("debit original_amount = %s, want 100", debit.OriginalAmount)
	}
	if debit.AIComment == "" {
		t.Error("debit ai_comment cross-reference is empty")
	}

	rewritten, _ := store.FindByID(ctx, 1)
	if rewritten.Amount.String() != "30" {
		t.Errorf("original amount = %s, want personal portion 30", rewritten.Amount)
	}
	if rewritten.Category != "Restaurants" {
		t.Errorf("original category = %q, want classifier category", rewritten.Category)
	}
	if rewritten.UserDescription != "Dinner, personal share" {
		t.Errorf("original description = %q, want clean description", rewritten.UserDescription)
	}
	if !rewritten.OriginalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("original original_amount = %s, want 100", rewritten.OriginalAmount)
	}
	if rewritten.AIComment == "" {
		t.Error("original ai_comment cross-reference is empty")
	}

	// Conservation of amount and of every reporting-currency value.
	if !rewritten.Amount.Add(debit.Amount).Equal(orig.Amount) {
		t.Errorf("amounts not conserved: %s + %s != %s", rewritten.Amount, debit.Amount, orig.Amount)
	}
	if !rewritten.CLPValue.Add(debit.CLPValue).Equal(orig.CLPValue) {
		t.Errorf("CLP not conserved: %s + %s != %s", rewritten.CLPValue, debit.CLPValue, orig.CLPValue)
	}
	if !rewritten.USDValue.Add(debit.USDValue).Equal(orig.USDValue) {
		t.Errorf("USD not conserved: %s + %s != %s", rewritten.USDValue, debit.USDValue, orig.USDValue)
	}
	if !rewritten.GBPValue.Add(debit.GBPValue).Equal(orig.GBPValue) {
		t.Errorf("GBP not conserved: %s + %s != %s", rewritten.GBPValue, debit.GBPValue, orig.GBPValue)
	}
}

func TestSplitExpense(t *testing.T) {
	store, _ := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	insertSplittable(t, store, 1, "100")

	part, err := splitter.SplitExpense(ctx, 1, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("SplitExpense: %v", err)
	}
	if part == nil {
		t.Fatal("SplitExpense returned nil movement")
	}

	if part.Amount.String() != "40" {
		t.Errorf("part amount = %s, want 40", part.Amount)
	}
	if part.Category != "" {
		t.Errorf("part category = %q, want uncategorized", part.Category)
	}
	if part.UserDescription == "" {
		t.Error("part lost the user description, it must stay eligible for classification")
	}

	rewritten, _ := store.FindByID(ctx, 1)
	if rewritten.Amount.String() != "60" {
		t.Errorf("original amount = %s, want remainder 60", rewritten.Amount)
	}
	if rewritten.Category != "" {
		t.Errorf("original category = %q, want cleared for re-classification", rewritten.Category)
	}
	if !rewritten.OriginalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("original_amount = %s, want 100", rewritten.OriginalAmount)
	}
}

func TestSplitExpense_InvalidAmount(t *testing.T) {
	store, table := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	insertSplittable(t, store, 1, "50")

	tests := []struct {
		name  string
		split decimal.Decimal
	}{
		{"exceeds original", decimal.NewFromInt(60)},
		{"equals original", decimal.NewFromInt(50)},
		{"zero", decimal.Zero},
		{"negative", decimal.NewFromInt(-10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part, err := splitter.SplitExpense(ctx, 1, tt.split)
			if !errors.Is(err, ErrInvalidSplitAmount) {
				t.Errorf("error = %v, want ErrInvalidSplitAmount", err)
			}
			if part != nil {
				t.Errorf("got a new movement %d, want none", part.ID)
			}

			rows, _ := table.Rows(ctx)
			if len(rows) != 1 {
				t.Fatalf("ledger has %d rows, want the untouched original only", len(rows))
			}
			if rows[0].Amount.String() != "50" || rows[0].Category != "Restaurants" {
				t.Errorf("original mutated: amount=%s category=%q", rows[0].Amount, rows[0].Category)
			}
		})
	}
}

func TestSplit_MissingMovement(t *testing.T) {
	store, table := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	part, err := splitter.SplitExpense(ctx, 99, decimal.NewFromInt(10))
	if err != nil {
		t.Errorf("missing id should not be an error, got %v", err)
	}
	if part != nil {
		t.Error("missing id produced a movement")
	}

	debit, err := splitter.SplitShared(ctx, 99, decimal.NewFromInt(10), "Other", "x")
	if err != nil {
		t.Errorf("missing id should not be an error, got %v", err)
	}
	if debit != nil {
		t.Error("missing id produced a movement")
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 0 {
		t.Errorf("splits on missing ids created %d rows", len(rows))
	}
}

func TestIDMonotonicityAcrossSplits(t *testing.T) {
	store, _ := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	insertSplittable(t, store, 1, "100")

	part, err := splitter.SplitExpense(ctx, 1, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("SplitExpense: %v", err)
	}
	if part.ID != 2 {
		t.Errorf("split movement id = %d, want 2", part.ID)
	}

	next, err := store.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if next != 3 {
		t.Errorf("NextID after split = %d, want 3 (ids never reused)", next)
	}
}

func TestSplitShared_SentinelValuesPropagate(t *testing.T) {
	store, _ := newTestStore()
	splitter := NewSplitter(store, zerolog.Nop())
	ctx := context.Background()

	m := expense(1, "100")
	m.UserDescription = "shared taxi"
	m.CLPValue = decimal.NewFromInt(100)
	m.USDValue = currency.Failed
	m.GBPValue = currency.Failed
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	debit, err := splitter.SplitShared(ctx, 1, decimal.NewFromInt(40), "Transport", "Taxi, my share")
	if err != nil {
		t.Fatalf("SplitShared: %v", err)
	}

	if !currency.IsFailed(debit.USDValue) || !currency.IsFailed(debit.GBPValue) {
		t.Error("failed conversions must stay sentinels on the new half")
	}
	rewritten, _ := store.FindByID(ctx, 1)
	if !currency.IsFailed(rewritten.USDValue) {
		t.Error("failed conversion must stay a sentinel on the rewritten original")
	}
}
