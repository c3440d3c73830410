package tabular

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvalenz/finledger/internal/domain"
)

// movementRow is the BigQuery shape of one movement. Column names are fixed
// here and nowhere else.
type movementRow struct {
	ID        int64     `bigquery:"id"`
	Timestamp time.Time `bigquery:"ts"`

	Direction string `bigquery:"direction"`
	Type      string `bigquery:"movement_type"`

	Amount   *big.Rat `bigquery:"amount"`
	Currency string   `bigquery:"currency"`

	SourceDescription string `bigquery:"source_description"`
	UserDescription   string `bigquery:"user_description"`
	Comment           string `bigquery:"comment"`
	AIComment         string `bigquery:"ai_comment"`

	Category bigquery.NullString `bigquery:"category"`
	Status   bigquery.NullString `bigquery:"status"`

	Source             string              `bigquery:"source"`
	SourceID           string              `bigquery:"source_id"`
	AccountingSystemID bigquery.NullString `bigquery:"accounting_system_id"`

	SettledMovementID bigquery.NullInt64 `bigquery:"settled_movement_id"`

	CLPValue *big.Rat `bigquery:"clp_value"`
	USDValue *big.Rat `bigquery:"usd_value"`
	GBPValue *big.Rat `bigquery:"gbp_value"`

	OriginalAmount *big.Rat `bigquery:"original_amount"`
}

// BigQuery is the production Table implementation over one movements table.
type BigQuery struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQuery creates a Table backed by projectID.dataset.table.
func NewBigQuery(ctx context.Context, projectID, dataset, table string) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("tabular: bigquery client: %w", err)
	}
	return &BigQuery{client: client, dataset: dataset, table: table}, nil
}

// Close releases the underlying client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

// Rows implements Table.
func (b *BigQuery) Rows(ctx context.Context) ([]*domain.Movement, error) {
	q := b.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		ORDER BY id
	`, b.dataset, b.table))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("tabular: read rows: %w", err)
	}

	var out []*domain.Movement
	for {
		var r movementRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: iterate rows: %w", err)
		}
		out = append(out, r.toMovement())
	}
	return out, nil
}

// Append implements Table.
func (b *BigQuery) Append(ctx context.Context, m *domain.Movement) error {
	inserter := b.client.Dataset(b.dataset).Table(b.table).Inserter()
	if err := inserter.Put(ctx, rowFromMovement(m)); err != nil {
		return fmt.Errorf("tabular: append movement %d: %w", m.ID, err)
	}
	return nil
}

// Set implements Table. Cells are written with a single parameterized UPDATE;
// an absent id matches zero rows and is a no-op.
func (b *BigQuery) Set(ctx context.Context, id int64, updates map[Column]any) error {
	if len(updates) == 0 {
		return nil
	}

	assignments := make([]string, 0, len(updates))
	params := make([]bigquery.QueryParameter, 0, len(updates)+1)
	for col, v := range updates {
		name := string(col)
		assignments = append(assignments, fmt.Sprintf("%s = @%s", name, name))
		params = append(params, bigquery.QueryParameter{Name: name, Value: paramValue(v)})
	}
	params = append(params, bigquery.QueryParameter{Name: "id", Value: id})

	q := b.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET %s
		WHERE id = @id
	`, b.dataset, b.table, strings.Join(assignments, ", ")))
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("tabular: update movement %d: %w", id, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("tabular: update movement %d: wait: %w", id, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("tabular: update movement %d: job: %w", id, err)
	}
	return nil
}

func paramValue(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.Rat()
	case domain.Status:
		return string(val)
	default:
		return v
	}
}

func rowFromMovement(m *domain.Movement) *movementRow {
	return &movementRow{
		ID:                 m.ID,
		Timestamp:          m.Timestamp,
		Direction:          string(m.Direction),
		Type:               string(m.Type),
		Amount:             m.Amount.Rat(),
		Currency:           m.Currency,
		SourceDescription:  m.SourceDescription,
		UserDescription:    m.UserDescription,
		Comment:            m.Comment,
		AIComment:          m.AIComment,
		Category:           nullString(m.Category),
		Status:             nullString(string(m.Status)),
		Source:             m.Source,
		SourceID:           m.SourceID,
		AccountingSystemID: nullString(m.AccountingSystemID),
		SettledMovementID:  bigquery.NullInt64{Int64: m.SettledMovementID, Valid: m.SettledMovementID != 0},
		CLPValue:           m.CLPValue.Rat(),
		USDValue:           m.USDValue.Rat(),
		GBPValue:           m.GBPValue.Rat(),
		OriginalAmount:     ratOrNil(m.OriginalAmount),
	}
}

func (r *movementRow) toMovement() *domain.Movement {
	return &domain.Movement{
		ID:                 r.ID,
		Timestamp:          r.Timestamp,
		Direction:          domain.Direction(r.Direction),
		Type:               domain.Type(r.Type),
		Amount:             decimalFromRat(r.Amount),
		Currency:           r.Currency,
		SourceDescription:  r.SourceDescription,
		UserDescription:    r.UserDescription,
		Comment:            r.Comment,
		AIComment:          r.AIComment,
		Category:           r.Category.StringVal,
		Status:             domain.Status(r.Status.StringVal),
		Source:             r.Source,
		SourceID:           r.SourceID,
		AccountingSystemID: r.AccountingSystemID.StringVal,
		SettledMovementID:  r.SettledMovementID.Int64,
		CLPValue:           decimalFromRat(r.CLPValue),
		USDValue:           decimalFromRat(r.USDValue),
		GBPValue:           decimalFromRat(r.GBPValue),
		OriginalAmount:     decimalFromRat(r.OriginalAmount),
	}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func ratOrNil(d decimal.Decimal) *big.Rat {
	if d.IsZero() {
		return nil
	}
	return d.Rat()
}

func decimalFromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Decimal{}
	}
	// 9 fractional digits matches BigQuery NUMERIC precision.
	return decimal.NewFromBigRat(r, 9)
}
