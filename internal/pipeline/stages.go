package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvalenz/finledger/internal/classify"
	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/domain"
	"github.com/dvalenz/finledger/internal/ledger"
)

// Report summarizes one stage run.
type Report struct {
	Stage     string
	Succeeded int
	Failed    int
	Skipped   int
}

// Stage is one sequential step of a run. A stage error aborts that stage
// only; the runner carries on with the rest.
type Stage interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// MailIngestStage turns bank notification emails into ledger movements:
// archive the raw body, parse it with the classifier, normalize, and insert
// idempotently.
type MailIngestStage struct {
	Provider  MailProvider
	Archiver  Archiver
	Parser    EmailParser
	Store     *ledger.Store
	Converter *currency.Converter
	Log       zerolog.Logger
}

func (s *MailIngestStage) Name() string { return "ingest-mail" }

func (s *MailIngestStage) Run(ctx context.Context) (Report, error) {
	var report Report

	msgs, err := s.Provider.Messages(ctx)
	if err != nil {
		return report, fmt.Errorf("ingest-mail: fetch messages: %w", err)
	}
	existing, err := s.Store.ExistingKeys(ctx, domain.SourceBankMail)
	if err != nil {
		return report, err
	}

	var batch []*domain.Movement
	for _, msg := range msgs {
		if _, ok := existing[msg.MessageID]; ok {
			report.Skipped++
			continue
		}

		if s.Archiver != nil {
			key := fmt.Sprintf("mail/%s.txt", msg.MessageID)
			if _, err := s.Archiver.Store(ctx, key, []byte(msg.Body)); err != nil {
				// Archiving is audit support, not a prerequisite for ingestion.
				s.Log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("failed to archive email body")
			}
		}

		parsed, err := s.Parser.ParseEmail(ctx, msg.Body)
		if err != nil {
			s.Log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("email parse discarded")
			report.Failed++
			continue
		}

		m := MovementFromEmail(msg, parsed)
		setValues(m, s.Converter.Convert(ctx, m.Amount, m.Currency))
		batch = append(batch, m)
	}

	n, err := s.Store.InsertBatch(ctx, batch)
	report.Succeeded = n
	report.Failed += len(batch) - n
	return report, err
}

// BankIngestStage inserts banking API transactions idempotently.
type BankIngestStage struct {
	Provider  BankProvider
	Store     *ledger.Store
	Converter *currency.Converter
	Log       zerolog.Logger
}

func (s *BankIngestStage) Name() string { return "ingest-bank" }

func (s *BankIngestStage) Run(ctx context.Context) (Report, error) {
	var report Report

	records, err := s.Provider.Transactions(ctx)
	if err != nil {
		return report, fmt.Errorf("ingest-bank: fetch transactions: %w", err)
	}
	existing, err := s.Store.ExistingKeys(ctx, domain.SourceBankAPI)
	if err != nil {
		return report, err
	}

	var batch []*domain.Movement
	for _, r := range records {
		if _, ok := existing[r.TransactionID]; ok {
			report.Skipped++
			continue
		}
		m := MovementFromBankRecord(r)
		setValues(m, s.Converter.Convert(ctx, m.Amount, m.Currency))
		batch = append(batch, m)
	}

	n, err := s.Store.InsertBatch(ctx, batch)
	report.Succeeded = n
	report.Failed += len(batch) - n
	return report, err
}

// SplitwiseIngestStage inserts the user's share of bill-splitting expenses,
// deduplicated against accounting_system_id across all sources.
type SplitwiseIngestStage struct {
	Provider  SplitwiseProvider
	Store     *ledger.Store
	Converter *currency.Converter
	Log       zerolog.Logger
}

func (s *SplitwiseIngestStage) Name() string { return "ingest-splitwise" }

func (s *SplitwiseIngestStage) Run(ctx context.Context) (Report, error) {
	var report Report

	expenses, err := s.Provider.Expenses(ctx)
	if err != nil {
		return report, fmt.Errorf("ingest-splitwise: fetch expenses: %w", err)
	}
	existing, err := s.Store.ExistingAccountingSystemIDs(ctx)
	if err != nil {
		return report, err
	}

	var batch []*domain.Movement
	for _, e := range expenses {
		if _, ok := existing[strconv.FormatInt(e.ID, 10)]; ok {
			report.Skipped++
			continue
		}
		m := MovementFromSplitwiseExpense(e)
		setValues(m, s.Converter.Convert(ctx, m.Amount, m.Currency))
		batch = append(batch, m)
	}

	n, err := s.Store.InsertBatch(ctx, batch)
	report.Succeeded = n
	report.Failed += len(batch) - n
	return report, err
}

// ClassifyStage runs the classifier over movements that have a user
// description but no category, applying categories and splits. A fixed delay
// between model calls respects rate limits; it is throughput policy, not a
// correctness requirement.
type ClassifyStage struct {
	Store      *ledger.Store
	Classifier MovementClassifier
	Splitter   *ledger.Splitter
	Delay      time.Duration
	Log        zerolog.Logger
}

func (s *ClassifyStage) Name() string { return "classify" }

func (s *ClassifyStage) Run(ctx context.Context) (Report, error) {
	var report Report

	rows, err := s.Store.NeedingCategoryAnalysis(ctx)
	if err != nil {
		return report, err
	}

	for i, m := range rows {
		if i > 0 && s.Delay > 0 {
			time.Sleep(s.Delay)
		}

		res, err := s.Classifier.Classify(ctx, classify.Request{
			Description:       m.UserDescription,
			Amount:            m.Amount.String(),
			Currency:          m.Currency,
			SourceDescription: m.SourceDescription,
			Type:              m.Type,
			Direction:         m.Direction,
		})
		if err != nil {
			s.Log.Warn().Err(err).Int64("id", m.ID).Msg("classification discarded, will retry next run")
			report.Failed++
			continue
		}

		switch {
		case res.NeedsSplit && res.SplitType == classify.SplitDebit:
			_, err = s.Splitter.SplitShared(ctx, m.ID, res.SplitAmount, res.SplitCategory, res.CleanDescription)
		case res.NeedsSplit && res.SplitType == classify.SplitExpense:
			_, err = s.Splitter.SplitExpense(ctx, m.ID, res.SplitAmount)
		case res.Category != "":
			err = s.Store.SetCategory(ctx, m.ID, res.Category, res.CleanDescription)
		default:
			s.Log.Warn().Int64("id", m.ID).Msg("classifier returned neither category nor split")
			report.Failed++
			continue
		}
		if err != nil {
			s.Log.Warn().Err(err).Int64("id", m.ID).Msg("classification result not applied")
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// PushSplitwiseStage creates bill-splitting expenses for movements waiting on
// splitwise settlement and records the resulting expense id.
type PushSplitwiseStage struct {
	Provider SplitwiseProvider
	Store    *ledger.Store
	Log      zerolog.Logger
}

func (s *PushSplitwiseStage) Name() string { return "push-splitwise" }

func (s *PushSplitwiseStage) Run(ctx context.Context) (Report, error) {
	var report Report

	rows, err := s.Store.PendingSplitwiseSettlement(ctx)
	if err != nil {
		return report, err
	}

	for _, m := range rows {
		id, err := s.Provider.CreateExpense(ctx, m)
		if err != nil {
			s.Log.Warn().Err(err).Int64("id", m.ID).Msg("failed to push expense")
			report.Failed++
			continue
		}
		err = s.Store.SetAccountingSystemIDAndStatus(ctx, m.ID, strconv.FormatInt(id, 10), domain.StatusInSplitwise)
		if err != nil {
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// SettleStage matches unmatched repayments against pending debits.
type SettleStage struct {
	Store   *ledger.Store
	Settler *ledger.Settler
	Log     zerolog.Logger
}

func (s *SettleStage) Name() string { return "settle" }

func (s *SettleStage) Run(ctx context.Context) (Report, error) {
	var report Report

	repayments, err := s.Store.UnmatchedRepayments(ctx)
	if err != nil {
		return report, err
	}

	for _, r := range repayments {
		if err := s.Settler.Settle(ctx, r); err != nil {
			s.Log.Warn().Err(err).Int64("repayment", r.ID).Msg("settlement attempt failed, will retry next run")
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// RepairStage re-attempts currency conversion for movements carrying
// failed-conversion sentinels.
type RepairStage struct {
	Store     *ledger.Store
	Converter *currency.Converter
	Log       zerolog.Logger
}

func (s *RepairStage) Name() string { return "repair-currency" }

func (s *RepairStage) Run(ctx context.Context) (Report, error) {
	var report Report

	rows, err := s.Store.FailedCurrencyConversion(ctx)
	if err != nil {
		return report, err
	}

	for _, m := range rows {
		vals := s.Converter.Repair(ctx, m.Amount, m.Currency)
		if vals == nil {
			s.Log.Warn().Int64("id", m.ID).Msg("movement has invalid amount or currency, leaving row untouched")
			report.Failed++
			continue
		}
		if vals.AnyFailed() {
			s.Log.Warn().Int64("id", m.ID).Msg("conversion still failing")
			report.Failed++
			continue
		}
		if err := s.Store.SetCurrencyValues(ctx, m.ID, *vals); err != nil {
			report.Failed++
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

func setValues(m *domain.Movement, vals currency.Values) {
	m.CLPValue = vals.CLP
	m.USDValue = vals.USD
	m.GBPValue = vals.GBP
}
