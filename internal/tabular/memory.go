package tabular

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dvalenz/finledger/internal/domain"
)

// Memory is an in-memory Table used by tests and offline runs. It hands out
// clones so callers always re-read state through Rows instead of mutating
// shared rows.
type Memory struct {
	mu   sync.Mutex
	rows []*domain.Movement
}

// NewMemory creates an empty in-memory table.
func NewMemory() *Memory {
	return &Memory{}
}

// Rows implements Table.
func (t *Memory) Rows(_ context.Context) ([]*domain.Movement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Movement, len(t.rows))
	for i, m := range t.rows {
		out[i] = m.Clone()
	}
	return out, nil
}

// Append implements Table.
func (t *Memory) Append(_ context.Context, m *domain.Movement) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, m.Clone())
	return nil
}

// Set implements Table.
func (t *Memory) Set(_ context.Context, id int64, updates map[Column]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.rows {
		if m.ID != id {
			continue
		}
		for col, v := range updates {
			if err := applyCell(m, col, v); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func applyCell(m *domain.Movement, col Column, v any) error {
	switch col {
	case ColAmount:
		return setDecimal(&m.Amount, col, v)
	case ColUserDescription:
		return setString(&m.UserDescription, col, v)
	case ColAIComment:
		return setString(&m.AIComment, col, v)
	case ColCategory:
		return setString(&m.Category, col, v)
	case ColStatus:
		s, ok := v.(domain.Status)
		if !ok {
			return fmt.Errorf("column %s: unexpected value type %T", col, v)
		}
		m.Status = s
	case ColAccountingSystemID:
		return setString(&m.AccountingSystemID, col, v)
	case ColSettledMovementID:
		id, ok := v.(int64)
		if !ok {
			return fmt.Errorf("column %s: unexpected value type %T", col, v)
		}
		m.SettledMovementID = id
	case ColCLPValue:
		return setDecimal(&m.CLPValue, col, v)
	case ColUSDValue:
		return setDecimal(&m.USDValue, col, v)
	case ColGBPValue:
		return setDecimal(&m.GBPValue, col, v)
	case ColOriginalAmount:
		return setDecimal(&m.OriginalAmount, col, v)
	default:
		return fmt.Errorf("unknown column %s", col)
	}
	return nil
}

func setString(dst *string, col Column, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("column %s: unexpected value type %T", col, v)
	}
	*dst = s
	return nil
}

func setDecimal(dst *decimal.Decimal, col Column, v any) error {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return fmt.Errorf("column %s: unexpected value type %T", col, v)
	}
	*dst = d
	return nil
}
