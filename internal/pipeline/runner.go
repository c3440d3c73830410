package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner executes stages strictly sequentially. A stage error is logged and
// the run carries on; completed mutations stay committed (there is no
// transactional rollback across the shared store).
type Runner struct {
	stages []Stage
	log    zerolog.Logger
}

// NewRunner creates a runner over the given stages, in order.
func NewRunner(log zerolog.Logger, stages ...Stage) *Runner {
	return &Runner{stages: stages, log: log}
}

// Run executes every stage and returns their reports.
func (r *Runner) Run(ctx context.Context) []Report {
	runID := uuid.NewString()
	log := r.log.With().Str("run_id", runID).Logger()

	reports := make([]Report, 0, len(r.stages))
	for _, stage := range r.stages {
		report, err := stage.Run(ctx)
		report.Stage = stage.Name()
		if err != nil {
			log.Error().Err(err).Str("stage", stage.Name()).Msg("stage aborted")
		}
		log.Info().
			Str("stage", report.Stage).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("stage finished")
		reports = append(reports, report)
	}
	return reports
}
