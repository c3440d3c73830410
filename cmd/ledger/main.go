package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvalenz/finledger/internal/archive"
	"github.com/dvalenz/finledger/internal/classify"
	"github.com/dvalenz/finledger/internal/config"
	"github.com/dvalenz/finledger/internal/currency"
	"github.com/dvalenz/finledger/internal/ledger"
	"github.com/dvalenz/finledger/internal/logger"
	"github.com/dvalenz/finledger/internal/pipeline"
	"github.com/dvalenz/finledger/internal/source"
	"github.com/dvalenz/finledger/internal/tabular"
)

func main() {
	log := logger.New()

	envPath := flag.String("env", "", "path to .env file (default: ./.env if present)")
	stagesFlag := flag.String("stages", "", "comma-separated stage names to run (default: all)")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	// Store initialization is the one hard prerequisite: without it no stage
	// can run.
	table, err := tabular.NewBigQuery(ctx, cfg.ProjectID, cfg.Dataset, cfg.Table)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open tabular store")
	}
	defer table.Close()

	store := ledger.NewStore(table, log)
	splitter := ledger.NewSplitter(store, log)

	classifier, err := classify.NewClient(ctx, cfg.GeminiModel, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create classifier client")
	}

	converter := currency.NewConverter(currency.NewHTTPRates(cfg.RatesURL), log)
	settler := ledger.NewSettler(store, classifier, log)

	var archiver pipeline.Archiver
	if cfg.ArchiveBucket != "" {
		gcs, err := archive.NewGCS(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open archive bucket")
		}
		defer gcs.Close()
		archiver = gcs
	}

	var stages []pipeline.Stage
	if cfg.MailExportPath != "" {
		stages = append(stages, &pipeline.MailIngestStage{
			Provider:  &source.FileMail{Path: cfg.MailExportPath},
			Archiver:  archiver,
			Parser:    classifier,
			Store:     store,
			Converter: converter,
			Log:       log,
		})
	}
	if cfg.BankExportPath != "" {
		stages = append(stages, &pipeline.BankIngestStage{
			Provider:  &source.FileBank{Path: cfg.BankExportPath},
			Store:     store,
			Converter: converter,
			Log:       log,
		})
	}
	if cfg.SplitwiseExportPath != "" {
		splitwise := &source.FileSplitwise{Path: cfg.SplitwiseExportPath}
		stages = append(stages,
			&pipeline.SplitwiseIngestStage{Provider: splitwise, Store: store, Converter: converter, Log: log},
			&pipeline.PushSplitwiseStage{Provider: splitwise, Store: store, Log: log},
		)
	}
	stages = append(stages,
		&pipeline.ClassifyStage{Store: store, Classifier: classifier, Splitter: splitter, Delay: cfg.ClassifyDelay, Log: log},
		&pipeline.SettleStage{Store: store, Settler: settler, Log: log},
		&pipeline.RepairStage{Store: store, Converter: converter, Log: log},
	)

	if *stagesFlag != "" {
		stages = selectStages(stages, strings.Split(*stagesFlag, ","))
		if len(stages) == 0 {
			log.Fatal().Str("stages", *stagesFlag).Msg("no matching stages")
		}
	}

	reports := pipeline.NewRunner(log, stages...).Run(ctx)

	for _, r := range reports {
		fmt.Fprintf(os.Stdout, "%-18s succeeded=%d failed=%d skipped=%d\n",
			r.Stage, r.Succeeded, r.Failed, r.Skipped)
	}
}

func selectStages(all []pipeline.Stage, names []string) []pipeline.Stage {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []pipeline.Stage
	for _, s := range all {
		if want[s.Name()] {
			out = append(out, s)
		}
	}
	return out
}
