package pipeline

import (
	"strconv"
	"strings"

	"github.com/dvalenz/finledger/internal/classify"
	"github.com/dvalenz/finledger/internal/domain"
)

// Total conversion functions from each provider shape into the canonical
// Movement. Every field the ledger cares about is assigned here; no stage
// passes partially-filled movements around.

// MovementFromEmail builds a movement from a parsed bank email.
func MovementFromEmail(msg MailMessage, parsed *classify.EmailResult) *domain.Movement {
	return &domain.Movement{
		Timestamp:         parsed.Timestamp,
		Direction:         directionForType(parsed.TransactionType),
		Type:              parsed.TransactionType,
		Amount:            parsed.Amount,
		Currency:          parsed.Currency,
		SourceDescription: parsed.SourceDescription,
		Source:            domain.SourceBankMail,
		SourceID:          msg.MessageID,
	}
}

// MovementFromBankRecord builds a movement from a banking API transaction.
func MovementFromBankRecord(r BankRecord) *domain.Movement {
	direction := domain.DirectionInflow
	typ := domain.TypeCredit
	amount := r.Amount
	if r.Amount.IsNegative() {
		direction = domain.DirectionOutflow
		typ = domain.TypeExpense
		amount = r.Amount.Neg()
	}
	return &domain.Movement{
		Timestamp:         r.Timestamp,
		Direction:         direction,
		Type:              typ,
		Amount:            amount,
		Currency:          strings.ToUpper(r.Currency),
		SourceDescription: r.Description,
		Source:            domain.SourceBankAPI,
		SourceID:          r.TransactionID,
	}
}

// MovementFromSplitwiseExpense builds a movement for the user's share of a
// bill-splitting expense. The expense id doubles as the cross-source
// idempotency key.
func MovementFromSplitwiseExpense(e SplitwiseExpense) *domain.Movement {
	return &domain.Movement{
		Timestamp:          e.Date,
		Direction:          domain.DirectionOutflow,
		Type:               domain.TypeExpense,
		Amount:             e.OwedShare,
		Currency:           strings.ToUpper(e.Currency),
		SourceDescription:  e.Description,
		Source:             domain.SourceSplitwise,
		SourceID:           strconv.FormatInt(e.ID, 10),
		AccountingSystemID: strconv.FormatInt(e.ID, 10),
		Status:             domain.StatusInSplitwise,
	}
}

func directionForType(t domain.Type) domain.Direction {
	switch t {
	case domain.TypeCredit, domain.TypeDebitRepayment:
		return domain.DirectionInflow
	case domain.TypeDebit:
		return domain.DirectionNeutral
	default:
		return domain.DirectionOutflow
	}
}
