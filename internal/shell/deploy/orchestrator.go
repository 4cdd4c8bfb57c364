// Package deploy executes the provisioning pipeline: a strictly
// sequential stage machine that applies create-or-update per resource,
// waits for readiness between stages, and fails forward — a fatal fault
// halts the run but never rolls back what earlier stages applied.
package deploy

import (
	"context"
	"log/slog"
	"time"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
	"github.com/skylift/skylift/internal/core/pipeline"
	"github.com/skylift/skylift/internal/core/plan"
	"github.com/skylift/skylift/internal/shell/artifact"
	"github.com/skylift/skylift/internal/shell/cloud"
	"github.com/skylift/skylift/internal/shell/state"
)

// =============================================================================
// Orchestrator
// =============================================================================

// InlineCodeLimit is the largest bundle shipped inline with the create
// or update call; bigger bundles go through the artifact store.
const InlineCodeLimit = 45 * 1024 * 1024

const (
	transientRetries = 5
	transientDelay   = 3 * time.Second
)

// BundleBuilder produces the deployable bundles for one run.
type BundleBuilder interface {
	Build(ctx context.Context) (artifact.Bundle, error)
}

// Options are the run-scoped settings that are not part of the desired
// resource descriptors themselves.
type Options struct {
	Region       string
	AccountID    string
	UpdatePolicy domain.UpdatePolicy
	InlineLimit  int // zero means InlineCodeLimit
}

// Orchestrator wires the typed clients into the stage machine.
type Orchestrator struct {
	compute   cloud.ComputeAPI
	layers    cloud.LayerAPI
	routing   cloud.RoutingAPI
	policy    cloud.PolicyAPI
	domains   cloud.CertDomainAPI
	artifacts cloud.ArtifactStore
	builder   BundleBuilder
	store     state.Store
	opts      Options
	reporter  Reporter
	logger    *slog.Logger

	// run-scoped scratch, reset by Run
	surface       plan.Surface
	bundle        artifact.Bundle
	cached        *domain.CachedState
	verifyWarning string
}

// New creates an orchestrator. reporter may be nil to silence progress
// output.
func New(clients *cloud.Clients, builder BundleBuilder, store state.Store, opts Options, reporter Reporter, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		compute:   clients.Compute,
		layers:    clients.Compute,
		routing:   clients.Routing,
		policy:    clients.Policy,
		domains:   clients.Domains,
		artifacts: clients.Artifact,
		builder:   builder,
		store:     store,
		opts:      opts,
		reporter:  reporter,
		logger:    logger.With("component", "orchestrator"),
	}
	if o.reporter == nil {
		o.reporter = nopReporter{}
	}
	if o.opts.InlineLimit == 0 {
		o.opts.InlineLimit = InlineCodeLimit
	}
	return o
}

// NewWithClients builds an orchestrator from individual client
// interfaces. Used by tests and by callers that substitute fakes.
func NewWithClients(
	compute cloud.ComputeAPI,
	layers cloud.LayerAPI,
	routing cloud.RoutingAPI,
	policy cloud.PolicyAPI,
	domains cloud.CertDomainAPI,
	artifacts cloud.ArtifactStore,
	builder BundleBuilder,
	store state.Store,
	opts Options,
	reporter Reporter,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		compute:   compute,
		layers:    layers,
		routing:   routing,
		policy:    policy,
		domains:   domains,
		artifacts: artifacts,
		builder:   builder,
		store:     store,
		opts:      opts,
		reporter:  reporter,
		logger:    logger.With("component", "orchestrator"),
	}
	if o.reporter == nil {
		o.reporter = nopReporter{}
	}
	if o.opts.InlineLimit == 0 {
		o.opts.InlineLimit = InlineCodeLimit
	}
	return o
}

// stageFunc executes one stage against the run state.
type stageFunc func(ctx context.Context, st *domain.DeploymentState) pipeline.Result

func (o *Orchestrator) stageTable() map[pipeline.Stage]stageFunc {
	return map[pipeline.Stage]stageFunc{
		pipeline.StagePlan:             o.stagePlan,
		pipeline.StageBuildArtifact:    o.stageBuildArtifact,
		pipeline.StageProvisionLayers:  o.stageProvisionLayers,
		pipeline.StageProvisionCompute: o.stageProvisionCompute,
		pipeline.StageProvisionAPI:     o.stageProvisionAPI,
		pipeline.StageApplyPolicy:      o.stageApplyPolicy,
		pipeline.StageBindDomain:       o.stageBindDomain,
		pipeline.StageVerify:           o.stageVerify,
	}
}

// Run executes the full pipeline against the desired state. Re-running
// against an account that already matches converges to the same observed
// state; every stage is engineered to be idempotent.
func (o *Orchestrator) Run(ctx context.Context, st *domain.DeploymentState) *pipeline.Run {
	started := time.Now()
	run := pipeline.NewRun()
	table := o.stageTable()

	o.surface = plan.Surface{}
	o.bundle = artifact.Bundle{}
	o.cached = nil
	o.verifyWarning = ""

	for _, stage := range pipeline.Order {
		if err := run.CanEnter(stage); err != nil {
			// A failed stage already moved the run to FAILED; everything
			// downstream is skipped, prior resources stay in place.
			break
		}

		res := table[stage](ctx, st)
		res.Stage = stage
		run.Record(res)
		o.reporter.StageLine(res)

		if res.Status == pipeline.StatusFailed {
			o.logger.Error("stage failed", "stage", stage, "error", res.Err)
		}
	}
	run.Finish()

	o.persistOutcome(ctx, st, run, started)
	return run
}

// persistOutcome writes the cached state and run record once, at
// pipeline end.
func (o *Orchestrator) persistOutcome(ctx context.Context, st *domain.DeploymentState, run *pipeline.Run, started time.Time) {
	if o.store == nil {
		return
	}
	if o.cached != nil {
		if err := o.store.Save(ctx, o.cached); err != nil {
			o.logger.Warn("failed to persist cached state", "error", err)
		}
	}

	record := domain.RunRecord{
		ID:         st.RunID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     "done",
	}
	if run.Terminal() == pipeline.StageFailed {
		record.Status = "failed"
		if stage, _ := run.FailedStage(); stage != "" {
			record.FailedStage = string(stage)
		}
	}
	if err := o.store.RecordRun(ctx, record); err != nil {
		o.logger.Warn("failed to record run", "error", err)
	}
}

// =============================================================================
// Retry Helper
// =============================================================================

// retryTransient retries fn while it fails with a transient fault, up
// to a fixed number of attempts. Any other outcome is returned
// immediately.
func retryTransient(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < transientRetries; attempt++ {
		err = fn()
		if err == nil || !fault.IsTransient(err) {
			return err
		}
		logger.Warn("transient fault, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(transientDelay):
		}
	}
	return err
}

func failed(err error) pipeline.Result {
	return pipeline.Result{Status: pipeline.StatusFailed, Err: err}
}

func succeeded(detail string) pipeline.Result {
	return pipeline.Result{Status: pipeline.StatusSuccess, Detail: detail}
}

func skipped(detail string) pipeline.Result {
	return pipeline.Result{Status: pipeline.StatusSkipped, Detail: detail}
}
