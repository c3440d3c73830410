// Package source provides file-backed implementations of the pipeline's
// provider boundaries. They read exported JSON and exist for local runs and
// backfills; the live HTTP collaborators are wired outside this repo.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/domain"
	"github.com/dvalenz/finledger/internal/pipeline"
)

// ErrReadOnly is returned by operations that would write to a live service.
var ErrReadOnly = errors.New("file-backed source is read-only")

// FileMail reads bank notification emails from a JSON export.
type FileMail struct {
	Path string
}

// Messages implements pipeline.MailProvider.
func (p *FileMail) Messages(_ context.Context) ([]pipeline.MailMessage, error) {
	var export []struct {
		MessageID  string    `json:"message_id"`
		ReceivedAt time.Time `json:"received_at"`
		Body       string    `json:"body"`
	}
	if err := readJSON(p.Path, &export); err != nil {
		return nil, fmt.Errorf("mail export: %w", err)
	}
	out := make([]pipeline.MailMessage, len(export))
	for i, e := range export {
		out[i] = pipeline.MailMessage{MessageID: e.MessageID, ReceivedAt: e.ReceivedAt, Body: e.Body}
	}
	return out, nil
}

// FileBank reads banking API transactions from a JSON export.
type FileBank struct {
	Path string
}

// Transactions implements pipeline.BankProvider.
func (p *FileBank) Transactions(_ context.Context) ([]pipeline.BankRecord, error) {
	var export []struct {
		TransactionID string          `json:"transaction_id"`
		Timestamp     time.Time       `json:"timestamp"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
		Description   string          `json:"description"`
	}
	if err := readJSON(p.Path, &export); err != nil {
		return nil, fmt.Errorf("bank export: %w", err)
	}
	out := make([]pipeline.BankRecord, len(export))
	for i, e := range export {
		out[i] = pipeline.BankRecord{
			TransactionID: e.TransactionID,
			Timestamp:     e.Timestamp,
			Amount:        e.Amount,
			Currency:      e.Currency,
			Description:   e.Description,
		}
	}
	return out, nil
}

// FileSplitwise reads bill-splitting expenses from a JSON export.
type FileSplitwise struct {
	Path string
}

// Expenses implements pipeline.SplitwiseProvider.
func (p *FileSplitwise) Expenses(_ context.Context) ([]pipeline.SplitwiseExpense, error) {
	var export []struct {
		ID          int64           `json:"id"`
		Date        time.Time       `json:"date"`
		Description string          `json:"description"`
		Currency    string          `json:"currency"`
		OwedShare   decimal.Decimal `json:"owed_share"`
	}
	if err := readJSON(p.Path, &export); err != nil {
		return nil, fmt.Errorf("splitwise export: %w", err)
	}
	out := make([]pipeline.SplitwiseExpense, len(export))
	for i, e := range export {
		out[i] = pipeline.SplitwiseExpense{
			ID:          e.ID,
			Date:        e.Date,
			Description: e.Description,
			Currency:    e.Currency,
			OwedShare:   e.OwedShare,
		}
	}
	return out, nil
}

// CreateExpense implements pipeline.SplitwiseProvider.
func (p *FileSplitwise) CreateExpense(_ context.Context, _ *domain.Movement) (int64, error) {
	return 0, ErrReadOnly
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
