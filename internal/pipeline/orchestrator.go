package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvdveen/bouwdepot/internal/extraction"
	"github.com/mvdveen/bouwdepot/internal/idgen"
	"github.com/mvdveen/bouwdepot/internal/metrics"
	"github.com/mvdveen/bouwdepot/internal/oracle"
	"github.com/mvdveen/bouwdepot/internal/rules"
	"github.com/mvdveen/bouwdepot/internal/signing"
	"github.com/mvdveen/bouwdepot/internal/traces"
	"github.com/mvdveen/bouwdepot/internal/validation"
	"github.com/mvdveen/bouwdepot/internal/vendors"
)

// Deps are the collaborators the orchestrator drives. All are
// required except Engine, which may be nil when vendor profiling is
// disabled.
type Deps struct {
	TamperChecker extraction.TamperChecker
	Extractor     extraction.Extractor
	Oracle        oracle.Client
	Rules         *rules.Service
	Signer        *signing.Signer
	Engine        *vendors.Engine

	ProfilingEnabled bool
	Logger           *slog.Logger
}

// Orchestrator runs the validation pipeline for one invoice at a time.
type Orchestrator struct {
	stages           []Stage
	engine           *vendors.Engine
	profilingEnabled bool
	logger           *slog.Logger
}

// New validates the dependency set and builds the stage list. A
// missing collaborator is a configuration error and the only kind of
// failure that ever propagates out of this package.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.TamperChecker == nil:
		return nil, errors.New("pipeline: tamper checker is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Oracle == nil:
		return nil, errors.New("pipeline: oracle client is required")
	case deps.Rules == nil:
		return nil, errors.New("pipeline: rule service is required")
	case deps.Signer == nil:
		return nil, errors.New("pipeline: signer is required")
	case deps.ProfilingEnabled && deps.Engine == nil:
		return nil, errors.New("pipeline: vendor engine is required when profiling is enabled")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pipeline")
	}

	stages := []Stage{
		tamperStage{checker: deps.TamperChecker},
		extractStage{extractor: deps.Extractor},
	}
	if deps.ProfilingEnabled {
		stages = append(stages, vendorLookupStage{engine: deps.Engine})
	}
	stages = append(stages, judgmentStage{client: deps.Oracle}, rulesStage{service: deps.Rules})
	if deps.ProfilingEnabled {
		stages = append(stages,
			profileUpdateStage{engine: deps.Engine},
			anomalyStage{engine: deps.Engine},
		)
	}
	stages = append(stages, signStage{signer: deps.Signer})

	return &Orchestrator{
		stages:           stages,
		engine:           deps.Engine,
		profilingEnabled: deps.ProfilingEnabled,
		logger:           logger,
	}, nil
}

// Execute runs every stage in order and returns the final result.
// Stage failures become error issues on the result; the caller always
// gets a populated result back, never an error, matching the contract
// that a submission can be rejected but not lost.
func (o *Orchestrator) Execute(ctx context.Context, doc *extraction.Document) *validation.Result {
	pc := &Context{
		Document: doc,
		Result: &validation.Result{
			ID:        idgen.WithPrefix("val_"),
			IsValid:   true,
			CreatedAt: time.Now().UTC(),
		},
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.Execute", traces.ValidationID(pc.Result.ID))
	defer span.End()

	for _, stage := range o.stages {
		if pc.Halted {
			break
		}
		if err := ctx.Err(); err != nil {
			pc.Result.IsValid = false
			pc.Result.AddIssue(validation.SeverityError, "validation cancelled before completion")
			pc.Result.AddStep(stage.Name(), "skipped: run cancelled")
			break
		}
		if stage.CanSkip(pc) {
			continue
		}
		o.runStage(ctx, stage, pc)
	}

	o.commit(ctx, pc)
	o.observe(pc.Result)
	return pc.Result
}

// runStage executes one stage with panic recovery. A panicking or
// failing stage marks the result invalid with an error issue and the
// pipeline moves on.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, pc *Context) {
	ctx, span := traces.StartSpan(ctx, "pipeline.stage", traces.StageName(stage.Name()))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.StageFailuresTotal.WithLabelValues(stage.Name()).Inc()
			o.logger.Error("stage panicked", "stage", stage.Name(), "panic", r)
			pc.Result.IsValid = false
			pc.Result.AddIssue(validation.SeverityError,
				fmt.Sprintf("internal failure in stage %s", stage.Name()))
			pc.Result.AddStep(stage.Name(), "aborted by internal failure")
		}
	}()

	if err := stage.Execute(ctx, pc); err != nil {
		metrics.StageFailuresTotal.WithLabelValues(stage.Name()).Inc()
		o.logger.Warn("stage failed", "stage", stage.Name(), "error", err)
		pc.Result.IsValid = false
		pc.Result.AddIssue(validation.SeverityError, err.Error())
		pc.Result.AddStep(stage.Name(), "failed: "+err.Error())
	}
}

// commit persists the buffered vendor mutation. It is skipped when the
// run was halted by tampering or cancelled: those runs must leave no
// trace on the profile.
func (o *Orchestrator) commit(ctx context.Context, pc *Context) {
	if !o.profilingEnabled || !pc.HasPending || pc.Halted || pc.Snapshot == nil {
		return
	}
	if ctx.Err() != nil {
		o.logger.Info("skipping profile commit for cancelled run", "vendor_id", pc.Snapshot.ID)
		return
	}

	// Commit uses a fresh context: the run itself succeeded and the
	// mutation should not be lost to a deadline that expired during
	// signing.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// The result is already sealed at this point, so a failed commit
	// is logged rather than written onto the result.
	if _, err := o.engine.CommitInvoice(commitCtx, pc.Snapshot.ID, pc.Invoice, pc.Observation, pc.Anomalies); err != nil {
		o.logger.Error("vendor profile commit failed", "vendor_id", pc.Snapshot.ID, "error", err)
	}
}

func (o *Orchestrator) observe(result *validation.Result) {
	outcome := "rejected"
	if result.IsValid {
		outcome = "approved"
	}
	metrics.ValidationsTotal.WithLabelValues(outcome).Inc()
	metrics.FraudScore.Observe(float64(result.Fraud.RiskScore))

	o.logger.Info("validation complete",
		"validation_id", result.ID,
		"vendor_id", result.VendorID,
		"valid", result.IsValid,
		"risk_score", result.Fraud.RiskScore,
		"issues", len(result.Issues),
		"signed", result.Sealed())
}
