package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/domain"
)

// SplitType tags the kind of split the classifier requested.
type SplitType string

const (
	SplitNone    SplitType = ""
	SplitDebit   SplitType = "DEBIT"
	SplitExpense SplitType = "EXPENSE"
)

// Result is the validated classification outcome for one movement.
type Result struct {
	Category         string
	NeedsSplit       bool
	SplitType        SplitType
	SplitAmount      decimal.Decimal
	SplitDescription string
	SplitCategory    string
	CleanDescription string
}

// parseResult validates the raw model output exhaustively. Any violation
// fails the whole result; nothing partial leaks through.
func parseResult(raw map[string]any) (*Result, error) {
	res := &Result{}

	category, err := getOptionalString(raw, "category")
	if err != nil {
		return nil, err
	}
	if category != "" {
		canonical := domain.CanonicalCategory(category)
		if canonical == "" {
			return nil, fmt.Errorf("category %q is not in the vocabulary", category)
		}
		res.Category = canonical
	}

	res.CleanDescription, err = getOptionalString(raw, "clean_description")
	if err != nil {
		return nil, err
	}

	res.NeedsSplit, err = getOptionalBool(raw, "needs_split")
	if err != nil {
		return nil, err
	}
	if !res.NeedsSplit {
		return res, nil
	}

	amount, err := getNumber(raw, "split_amount")
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("split_amount must be positive, got %s", amount)
	}
	res.SplitAmount = amount

	splitType, err := getOptionalString(raw, "split_type")
	if err != nil {
		return nil, err
	}
	switch SplitType(strings.ToUpper(splitType)) {
	case SplitDebit:
		res.SplitType = SplitDebit
	case SplitExpense:
		res.SplitType = SplitExpense
	default:
		return nil, fmt.Errorf("split_type %q is not DEBIT or EXPENSE", splitType)
	}

	res.SplitDescription, err = getOptionalString(raw, "split_description")
	if err != nil {
		return nil, err
	}

	splitCategory, err := getOptionalString(raw, "split_category")
	if err != nil {
		return nil, err
	}
	if res.SplitType == SplitDebit {
		canonical := domain.CanonicalCategory(splitCategory)
		if canonical == "" {
			return nil, fmt.Errorf("debit split requires a valid split_category, got %q", splitCategory)
		}
		res.SplitCategory = canonical
	}

	return res, nil
}

// EmailResult is the validated outcome of parsing a raw bank email body.
type EmailResult struct {
	Amount            decimal.Decimal
	Currency          string
	SourceDescription string
	Timestamp         time.Time
	TransactionType   domain.Type
}

var emailTimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseEmailResult(raw map[string]any) (*EmailResult, error) {
	amount, err := getNumber(raw, "amount")
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}

	cur, err := getString(raw, "currency")
	if err != nil {
		return nil, err
	}
	cur = strings.ToUpper(cur)
	if !domain.ValidCurrency(cur) {
		return nil, fmt.Errorf("currency %q is not supported", cur)
	}

	desc, err := getString(raw, "source_description")
	if err != nil {
		return nil, err
	}

	tsRaw, err := getString(raw, "timestamp")
	if err != nil {
		return nil, err
	}
	var ts time.Time
	var tsErr error
	for _, layout := range emailTimestampLayouts {
		ts, tsErr = time.Parse(layout, tsRaw)
		if tsErr == nil {
			break
		}
	}
	if tsErr != nil {
		return nil, fmt.Errorf("unparsable timestamp %q", tsRaw)
	}

	typRaw, err := getString(raw, "transaction_type")
	if err != nil {
		return nil, err
	}
	typ := domain.Type(strings.ToLower(typRaw))
	switch typ {
	case domain.TypeExpense, domain.TypeCash, domain.TypeDebit, domain.TypeCredit, domain.TypeDebitRepayment:
	default:
		return nil, fmt.Errorf("transaction_type %q is unknown", typRaw)
	}

	return &EmailResult{
		Amount:            amount,
		Currency:          cur,
		SourceDescription: desc,
		Timestamp:         ts,
		TransactionType:   typ,
	}, nil
}

// parseMatchResult reads {"movement_id": N} or {"movement_id": null}.
func parseMatchResult(raw map[string]any) (int64, bool, error) {
	v, ok := raw["movement_id"]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false, fmt.Errorf("movement_id has type %T, want number or null", v)
	}
	id := int64(f)
	if float64(id) != f || id <= 0 {
		return 0, false, fmt.Errorf("movement_id %v is not a positive integer", f)
	}
	return id, true, nil
}

func getString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

func getOptionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
	return strings.TrimSpace(s), nil
}

func getOptionalBool(m map[string]any, key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q has type %T, want bool", key, v)
	}
	return b, nil
}

func getNumber(m map[string]any, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q is not numeric: %q", key, val)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
