package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/telemetry"
)

// terminalWriteTimeout bounds the Completed/Failed write, which runs even when
// the run's own context is done.
const terminalWriteTimeout = 30 * time.Second

// JobWriter records terminal job states.
type JobWriter interface {
	CompleteJob(ctx context.Context, id, outputRef string, meta models.JobMetadata) error
	FailJob(ctx context.Context, id, reason string, meta models.JobMetadata) error
}

// Outcome describes how a run ended.
type Outcome struct {
	Status    string
	OutputRef string
	Metadata  models.JobMetadata
	Err       error // stage error for failed runs
}

// Orchestrator runs the stages for a job in processing state and writes
// Completed or Failed. It is the single place pipeline errors are handled.
type Orchestrator struct {
	stages *Stages
	jobs   JobWriter
	log    zerolog.Logger
	now    func() time.Time
}

func NewOrchestrator(stages *Stages, jobs JobWriter, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{stages: stages, jobs: jobs, log: log, now: time.Now}
}

// Execute runs every stage in order. A stage error ends the run: the job is
// marked Failed with the error text and no output reference. The returned
// error is non-nil only when the terminal state could not be written.
func (o *Orchestrator) Execute(ctx context.Context, job models.Job) (Outcome, error) {
	log := o.log.With().Str("job_id", job.ID).Logger()
	directives := o.stages.Directives()
	start := o.now()

	a := &Artifacts{Job: job}
	var stageErr error
	for _, st := range o.stages.List() {
		t0 := o.now()
		err := runStage(ctx, st, a)
		telemetry.StageDuration.WithLabelValues(st.Name).Observe(o.now().Sub(t0).Seconds())
		if err != nil {
			stageErr = fmt.Errorf("%s: %w", st.Name, err)
			break
		}
		log.Debug().Str("stage", st.Name).Dur("elapsed", o.now().Sub(t0)).Msg("stage complete")
	}

	meta := models.JobMetadata{
		Style:            directives.Style,
		Model:            directives.Model,
		ProcessingTimeMS: o.now().Sub(start).Milliseconds(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if stageErr != nil {
		kind := apperr.KindOf(stageErr)
		if kind == apperr.KindUnknown {
			kind = apperr.KindPipeline
		}
		meta.ErrorKind = kind.String()
		if err := o.jobs.FailJob(writeCtx, job.ID, stageErr.Error(), meta); err != nil {
			return Outcome{}, apperr.Transient("record failure", err)
		}
		telemetry.JobsFailed.WithLabelValues(meta.ErrorKind).Inc()
		ev := log.Warn()
		if kind.Operational() {
			ev = log.Error()
		}
		ev.Err(stageErr).Str("error_kind", meta.ErrorKind).Msg("pipeline failed")
		return Outcome{Status: models.StatusFailed, Metadata: meta, Err: stageErr}, nil
	}

	meta.AvatarRef = a.AvatarRef
	if a.Isolation.Regions > 1 {
		meta.Extra = map[string]string{"regions": fmt.Sprint(a.Isolation.Regions)}
	}
	if err := o.jobs.CompleteJob(writeCtx, job.ID, a.OutputRef, meta); err != nil {
		return Outcome{}, apperr.Transient("record completion", err)
	}
	telemetry.JobsCompleted.Inc()
	log.Info().Int64("processing_time_ms", meta.ProcessingTimeMS).Str("output", a.OutputRef).Msg("pipeline complete")
	return Outcome{Status: models.StatusCompleted, OutputRef: a.OutputRef, Metadata: meta}, nil
}

// runStage turns a panic inside a stage into a pipeline error for that stage.
func runStage(ctx context.Context, st Stage, a *Artifacts) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Pipeline("", fmt.Errorf("panic: %v", r))
		}
	}()
	return st.Run(ctx, a)
}
