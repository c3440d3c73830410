package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/classify"
	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/domain"
	"github.com/dvalenz/finledger/internal/ledger"
	"github.com/dvalenz/finledger/internal/tabular"
)

func newStageEnv() (*ledger.Store, *tabular.Memory, *currency.Converter) {
	table := tabular.NewMemory()
	store := ledger.NewStore(table, zerolog.Nop())
	rates := currency.StaticRates{
		"CLP/USD": decimal.RequireFromString("0.001"),
		"CLP/GBP": decimal.RequireFromString("0.0008"),
		"USD/CLP": decimal.RequireFromString("950"),
		"USD/GBP": decimal.RequireFromString("0.8"),
		"GBP/CLP": decimal.RequireFromString("1200"),
		"GBP/USD": decimal.RequireFromString("1.25"),
	}
	return store, table, currency.NewConverter(rates, zerolog.Nop())
}

type stubBank struct {
	records []BankRecord
}

func (b *stubBank) Transactions(context.Context) ([]BankRecord, error) {
	return b.records, nil
}

type stubMail struct {
	msgs []MailMessage
}

func (m *stubMail) Messages(context.Context) ([]MailMessage, error) {
	return m.msgs, nil
}

type stubSplitwise struct {
	expenses []SplitwiseExpense
	nextID   int64
	created  []*domain.Movement
}

func (s *stubSplitwise) Expenses(context.Context) ([]SplitwiseExpense, error) {
	return s.expenses, nil
}

func (s *stubSplitwise) CreateExpense(_ context.Context, m *domain.Movement) (int64, error) {
	s.created = append(s.created, m)
	s.nextID++
	return s.nextID, nil
}

// stubParser maps email bodies to canned results; unknown bodies fail.
type stubParser struct {
	results map[string]*classify.EmailResult
}

func (p *stubParser) ParseEmail(_ context.Context, body string) (*classify.EmailResult, error) {
	res, ok := p.results[body]
	if !ok {
		return nil, errors.New("unreadable email")
	}
	return res, nil
}

type stubArchiver struct {
	keys []string
}

func (a *stubArchiver) Store(_ context.Context, key string, _ []byte) (string, error) {
	a.keys = append(a.keys, key)
	return "mem://" + key, nil
}

type stubClassifier struct {
	results map[string]*classify.Result
}

func (c *stubClassifier) Classify(_ context.Context, req classify.Request) (*classify.Result, error) {
	res, ok := c.results[req.Description]
	if !ok {
		return nil, errors.New("model unavailable")
	}
	return res, nil
}

func TestBankIngest_Idempotency(t *testing.T) {
	store, table, conv := newStageEnv()
	ctx := context.Background()

	provider := &stubBank{records: []BankRecord{
		{TransactionID: "tx-1", Timestamp: time.Now(), Amount: decimal.NewFromInt(-12000), Currency: "clp", Description: "COMPRA LIDER"},
		{TransactionID: "tx-2", Timestamp: time.Now(), Amount: decimal.NewFromInt(500000), Currency: "CLP", Description: "SUELDO"},
	}}
	stage := &BankIngestStage{Provider: provider, Store: store, Converter: conv, Log: zerolog.Nop()}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Succeeded != 2 || report.Skipped != 0 {
		t.Errorf("first run report = %+v, want 2 succeeded", report)
	}

	report, err = stage.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Succeeded != 0 || report.Skipped != 2 {
		t.Errorf("second run report = %+v, want 2 skipped", report)
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 2 {
		t.Fatalf("ledger has %d rows, want 2", len(rows))
	}

	// Signed amounts are normalized: negative becomes an outflow expense.
	var outflow *domain.Movement
	for _, m := range rows {
		if m.SourceID == "tx-1" {
			outflow = m
		}
	}
	if outflow == nil {
		t.Fatal("tx-1 missing")
	}
	if outflow.Direction != domain.DirectionOutflow || outflow.Type != domain.TypeExpense {
		t.Errorf("tx-1 normalized to %s/%s, want outflow expense", outflow.Direction, outflow.Type)
	}
	if outflow.Amount.String() != "12000" {
		t.Errorf("tx-1 amount = %s, want absolute value", outflow.Amount)
	}
	if outflow.Currency != "CLP" {
		t.Errorf("tx-1 currency = %q, want upper-cased", outflow.Currency)
	}
	if !outflow.CLPValue.Equal(outflow.Amount) {
		t.Errorf("CLP value = %s, want identity %s", outflow.CLPValue, outflow.Amount)
	}
}

func TestMailIngest(t *testing.T) {
	store, table, conv := newStageEnv()
	ctx := context.Background()

	parsed := &classify.EmailResult{
		Amount:            decimal.NewFromInt(8990),
		Currency:          "CLP",
		SourceDescription: "COMPRA FARMACIA",
		Timestamp:         time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		TransactionType:   domain.TypeExpense,
	}
	provider := &stubMail{msgs: []MailMessage{
		{MessageID: "msg-1", Body: "good email"},
		{MessageID: "msg-2", Body: "promotional noise"},
	}}
	archiver := &stubArchiver{}
	stage := &MailIngestStage{
		Provider:  provider,
		Archiver:  archiver,
		Parser:    &stubParser{results: map[string]*classify.EmailResult{"good email": parsed}},
		Store:     store,
		Converter: conv,
		Log:       zerolog.Nop(),
	}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 succeeded 1 failed", report)
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(rows))
	}
	m := rows[0]
	if m.Source != domain.SourceBankMail || m.SourceID != "msg-1" {
		t.Errorf("movement source = %s/%s", m.Source, m.SourceID)
	}
	if m.SourceDescription != "COMPRA FARMACIA" {
		t.Errorf("source description = %q", m.SourceDescription)
	}

	// Both bodies are archived, including the one that failed to parse.
	if len(archiver.keys) != 2 {
		t.Errorf("archived %d payloads, want 2", len(archiver.keys))
	}

	// A second pass skips the already-ingested message and retries nothing
	// for the discarded one beyond another parse attempt.
	report, err = stage.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("second run skipped = %d, want 1", report.Skipped)
	}
	rows, _ = table.Rows(ctx)
	if len(rows) != 1 {
		t.Errorf("second run grew the ledger to %d rows", len(rows))
	}
}

func TestSplitwiseIngest_DedupAcrossSources(t *testing.T) {
	store, table, conv := newStageEnv()
	ctx := context.Background()

	// A movement pushed to the bill-splitting service in an earlier run
	// already carries expense id 55; re-importing must not duplicate it.
	pushed := &domain.Movement{
		ID:                 1,
		Timestamp:          time.Now(),
		Direction:          domain.DirectionNeutral,
		Type:               domain.TypeDebit,
		Amount:             decimal.NewFromInt(30),
		Currency:           domain.USD,
		AccountingSystemID: "55",
		Status:             domain.StatusInSplitwise,
	}
	if err := store.Insert(ctx, pushed); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	provider := &stubSplitwise{expenses: []SplitwiseExpense{
		{ID: 55, Date: time.Now(), Description: "groceries split", Currency: "USD", OwedShare: decimal.NewFromInt(30)},
		{ID: 56, Date: time.Now(), Description: "rent split", Currency: "USD", OwedShare: decimal.NewFromInt(400)},
	}}
	stage := &SplitwiseIngestStage{Provider: provider, Store: store, Converter: conv, Log: zerolog.Nop()}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 succeeded 1 skipped", report)
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 2 {
		t.Fatalf("ledger has %d rows, want 2", len(rows))
	}
	var imported *domain.Movement
	for _, m := range rows {
		if m.AccountingSystemID == "56" {
			imported = m
		}
	}
	if imported == nil {
		t.Fatal("expense 56 not imported")
	}
	if imported.Status != domain.StatusInSplitwise {
		t.Errorf("imported status = %q, want in_splitwise", imported.Status)
	}
	if imported.Source != domain.SourceSplitwise || imported.SourceID != "56" {
		t.Errorf("imported source = %s/%s", imported.Source, imported.SourceID)
	}
}

func insertUnclassified(t *testing.T, store *ledger.Store, id int64, amount, description string) {
	t.Helper()
	m := &domain.Movement{
		ID:              id,
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Direction:       domain.DirectionOutflow,
		Type:            domain.TypeExpense,
		Amount:          decimal.RequireFromString(amount),
		Currency:        domain.CLP,
		UserDescription: description,
		CLPValue:        decimal.RequireFromString(amount),
		USDValue:        decimal.RequireFromString(amount).Mul(decimal.RequireFromString("0.001")),
		GBPValue:        decimal.RequireFromString(amount).Mul(decimal.RequireFromString("0.0008")),
	}
	if err := store.Insert(context.Background(), m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestClassifyStage_Dispatch(t *testing.T) {
	store, table, _ := newStageEnv()
	ctx := context.Background()

	insertUnclassified(t, store, 1, "100", "weekly groceries")
	insertUnclassified(t, store, 2, "80", "dinner I fronted for maria")
	insertUnclassified(t, store, 3, "50", "half personal half work lunch")
	insertUnclassified(t, store, 4, "20", "mystery charge")

	classifier := &stubClassifier{results: map[string]*classify.Result{
		"weekly groceries": {Category: "Groceries", CleanDescription: "Weekly groceries"},
		"dinner I fronted for maria": {
			NeedsSplit:       true,
			SplitType:        classify.SplitDebit,
			SplitAmount:      decimal.NewFromInt(40),
			SplitCategory:    "Restaurants",
			CleanDescription: "Dinner, my share",
		},
		"half personal half work lunch": {
			NeedsSplit:  true,
			SplitType:   classify.SplitExpense,
			SplitAmount: decimal.NewFromInt(25),
		},
	}}
	stage := &ClassifyStage{
		Store:      store,
		Classifier: classifier,
		Splitter:   ledger.NewSplitter(store, zerolog.Nop()),
		Log:        zerolog.Nop(),
	}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 3 || report.Failed != 1 {
		t.Errorf("report = %+v, want 3 succeeded 1 failed", report)
	}

	rows, _ := table.Rows(ctx)
	// 4 originals plus one debit half plus one expense half.
	if len(rows) != 6 {
		t.Fatalf("ledger has %d rows, want 6", len(rows))
	}

	byID := make(map[int64]*domain.Movement, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
	}

	if byID[1].Category != "Groceries" {
		t.Errorf("movement 1 category = %q", byID[1].Category)
	}
	if byID[2].Amount.String() != "40" || byID[2].Category != "Restaurants" {
		t.Errorf("movement 2 rewritten to %s/%q, want personal 40 Restaurants", byID[2].Amount, byID[2].Category)
	}
	if byID[3].Amount.String() != "25" {
		t.Errorf("movement 3 remainder = %s, want 25", byID[3].Amount)
	}
	// The failed classification leaves movement 4 untouched for the next run.
	if byID[4].Category != "" {
		t.Errorf("movement 4 category = %q, want unclassified", byID[4].Category)
	}

	var debit *domain.Movement
	for _, m := range rows {
		if m.Type == domain.TypeDebit {
			debit = m
		}
	}
	if debit == nil {
		t.Fatal("debit half missing")
	}
	if debit.Amount.String() != "40" || debit.Status != domain.StatusPendingDirect {
		t.Errorf("debit half = %s/%s, want 40 pending_direct_settlement", debit.Amount, debit.Status)
	}
}

func TestPushSplitwiseStage(t *testing.T) {
	store, _, _ := newStageEnv()
	ctx := context.Background()

	m := &domain.Movement{
		ID:        1,
		Timestamp: time.Now(),
		Direction: domain.DirectionNeutral,
		Type:      domain.TypeDebit,
		Amount:    decimal.NewFromInt(45),
		Currency:  domain.USD,
		Status:    domain.StatusPendingSplitwise,
	}
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	provider := &stubSplitwise{nextID: 100}
	stage := &PushSplitwiseStage{Provider: provider, Store: store, Log: zerolog.Nop()}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 {
		t.Errorf("report = %+v, want 1 succeeded", report)
	}
	if len(provider.created) != 1 {
		t.Fatalf("created %d expenses, want 1", len(provider.created))
	}

	updated, _ := store.FindByID(ctx, 1)
	if updated.AccountingSystemID != "101" {
		t.Errorf("accounting_system_id = %q, want 101", updated.AccountingSystemID)
	}
	if updated.Status != domain.StatusInSplitwise {
		t.Errorf("status = %q, want in_splitwise", updated.Status)
	}

	// Nothing pending on the second run.
	report, _ = stage.Run(ctx)
	if report.Succeeded != 0 || len(provider.created) != 1 {
		t.Errorf("second run pushed again: %+v", report)
	}
}

// settleOracle matches any repayment to the configured debit id.
type settleOracle struct{ id int64 }

func (o *settleOracle) MatchRepayment(context.Context, *domain.Movement, []*domain.Movement) (int64, bool, error) {
	return o.id, true, nil
}

func TestSettleStage(t *testing.T) {
	store, _, _ := newStageEnv()
	ctx := context.Background()

	debit := &domain.Movement{
		ID:        1,
		Timestamp: time.Now(),
		Direction: domain.DirectionNeutral,
		Type:      domain.TypeDebit,
		Amount:    decimal.NewFromInt(100),
		Currency:  domain.CLP,
		Status:    domain.StatusPendingDirect,
	}
	repayment := &domain.Movement{
		ID:        2,
		Timestamp: time.Now(),
		Direction: domain.DirectionInflow,
		Type:      domain.TypeDebitRepayment,
		Amount:    decimal.NewFromInt(100),
		Currency:  domain.CLP,
	}
	for _, m := range []*domain.Movement{debit, repayment} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	settler := ledger.NewSettler(store, &settleOracle{id: 1}, zerolog.Nop())
	stage := &SettleStage{Store: store, Settler: settler, Log: zerolog.Nop()}

	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 {
		t.Errorf("report = %+v, want 1 succeeded", report)
	}

	settled, _ := store.FindByID(ctx, 1)
	if settled.Status != domain.StatusSettled {
		t.Errorf("debit status = %q, want settled", settled.Status)
	}
	matched, _ := store.FindByID(ctx, 2)
	if matched.SettledMovementID != 1 {
		t.Errorf("repayment reference = %d, want 1", matched.SettledMovementID)
	}

	// The matched repayment drops out of the unmatched set.
	report, _ = stage.Run(ctx)
	if report.Succeeded != 0 {
		t.Errorf("second run re-settled: %+v", report)
	}
}

func TestRepairStage(t *testing.T) {
	store, table, conv := newStageEnv()
	ctx := context.Background()

	repairable := &domain.Movement{
		ID:        1,
		Timestamp: time.Now(),
		Direction: domain.DirectionOutflow,
		Type:      domain.TypeExpense,
		Amount:    decimal.NewFromInt(100),
		Currency:  domain.USD,
		CLPValue:  currency.Failed,
		USDValue:  decimal.NewFromInt(100),
		GBPValue:  currency.Failed,
	}
	if err := store.Insert(ctx, repairable); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A legacy row with an unsupported currency, written before validation
	// tightened. It bypasses Insert on purpose.
	broken := &domain.Movement{
		ID:        2,
		Timestamp: time.Now(),
		Direction: domain.DirectionOutflow,
		Type:      domain.TypeExpense,
		Amount:    decimal.NewFromInt(50),
		Currency:  "EUR",
		CLPValue:  currency.Failed,
		USDValue:  currency.Failed,
		GBPValue:  currency.Failed,
	}
	if err := table.Append(ctx, broken); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stage := &RepairStage{Store: store, Converter: conv, Log: zerolog.Nop()}
	report, err := stage.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 succeeded 1 failed", report)
	}

	repaired, _ := store.FindByID(ctx, 1)
	if currency.IsFailed(repaired.CLPValue) || currency.IsFailed(repaired.GBPValue) {
		t.Errorf("values still failed after repair: CLP=%s GBP=%s", repaired.CLPValue, repaired.GBPValue)
	}
	if !repaired.CLPValue.Equal(decimal.NewFromInt(100).Mul(decimal.RequireFromString("950"))) {
		t.Errorf("CLP value = %s, want 95000", repaired.CLPValue)
	}

	untouched, _ := store.FindByID(ctx, 2)
	if !currency.IsFailed(untouched.CLPValue) {
		t.Errorf("unrepairable row was modified: CLP=%s", untouched.CLPValue)
	}
}

// failingStage always aborts.
type failingStage struct{}

func (failingStage) Name() string { return "boom" }
func (failingStage) Run(context.Context) (Report, error) {
	return Report{}, errors.New("provider down")
}

type countingStage struct{ runs int }

func (s *countingStage) Name() string { return "counting" }
func (s *countingStage) Run(context.Context) (Report, error) {
	s.runs++
	return Report{Succeeded: 1}, nil
}

func TestRunner_ContinuesPastStageError(t *testing.T) {
	counter := &countingStage{}
	runner := NewRunner(zerolog.Nop(), failingStage{}, counter)

	reports := runner.Run(context.Background())

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].Stage != "boom" || reports[1].Stage != "counting" {
		t.Errorf("stage names = %q, %q", reports[0].Stage, reports[1].Stage)
	}
	if counter.runs != 1 {
		t.Errorf("later stage ran %d times, want 1", counter.runs)
	}
}
