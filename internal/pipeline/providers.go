package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/classify"
	"github.com/dvalenz/finledger/internal/domain"
)

// Source provider boundaries. The HTTP clients behind them live outside this
// repo; the pipeline only consumes their normalized record shapes.

// MailMessage is one raw bank notification email.
type MailMessage struct {
	MessageID  string
	ReceivedAt time.Time
	Body       string
}

// MailProvider yields bank notification emails.
type MailProvider interface {
	Messages(ctx context.Context) ([]MailMessage, error)
}

// BankRecord is one transaction from the banking API. Amount is signed:
// negative for money out, positive for money in.
type BankRecord struct {
	TransactionID string
	Timestamp     time.Time
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

// BankProvider yields banking API transactions.
type BankProvider interface {
	Transactions(ctx context.Context) ([]BankRecord, error)
}

// SplitwiseExpense is one expense from the bill-splitting service. OwedShare
// is the user's share of the expense.
type SplitwiseExpense struct {
	ID          int64
	Date        time.Time
	Description string
	Currency    string
	OwedShare   decimal.Decimal
}

// SplitwiseProvider yields bill-splitting expenses and accepts new ones for
// debts the ledger wants settled there.
type SplitwiseProvider interface {
	Expenses(ctx context.Context) ([]SplitwiseExpense, error)
	CreateExpense(ctx context.Context, m *domain.Movement) (int64, error)
}

// Archiver stores raw payloads for audit. A nil archiver disables archiving.
type Archiver interface {
	Store(ctx context.Context, key string, payload []byte) (string, error)
}

// EmailParser extracts transaction fields from a raw email body.
type EmailParser interface {
	ParseEmail(ctx context.Context, body string) (*classify.EmailResult, error)
}

// MovementClassifier categorizes one movement and decides whether it needs
// splitting.
type MovementClassifier interface {
	Classify(ctx context.Context, req classify.Request) (*classify.Result, error)
}
