package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/pipeline"
	"github.com/skylift/skylift/internal/shell/artifact"
	"github.com/skylift/skylift/internal/shell/cloud"
	"github.com/skylift/skylift/internal/shell/deploy"
	"github.com/skylift/skylift/internal/shell/manifest"
	"github.com/skylift/skylift/internal/shell/state"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitStateError    = 2
	ExitManifestError = 3
	ExitDockerError   = 4
	ExitDeployFailed  = 5
)

// DeployerError wraps an error with its operation and exit code.
type DeployerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *DeployerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeployerError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer owns the wired pipeline and its resources for one invocation.
type Deployer struct {
	cfg      *Config
	store    *state.SQLiteStore
	layerBld *artifact.LayerBuilder // nil when no layers are configured
	orch     *deploy.Orchestrator
	logger   *slog.Logger
}

// NewDeployer wires clients, builder, state store and orchestrator from
// the loaded configuration.
func NewDeployer(cfg *Config, logger *slog.Logger) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &DeployerError{Op: "NewDeployer", Err: err, ExitCode: ExitConfigError}
	}

	if dir := filepath.Dir(cfg.State.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &DeployerError{Op: "NewDeployer", Err: err, ExitCode: ExitStateError}
		}
	}
	store, err := state.NewSQLiteStore(cfg.State.DSN)
	if err != nil {
		return nil, &DeployerError{Op: "NewDeployer", Err: err, ExitCode: ExitStateError}
	}

	var layerBld *artifact.LayerBuilder
	if len(cfg.Layers) > 0 {
		layerBld, err = artifact.NewLayerBuilder(cfg.Build.Image, logger)
		if err != nil {
			store.Close()
			return nil, &DeployerError{Op: "NewDeployer", Err: err, ExitCode: ExitDockerError}
		}
	}

	layers := make([]artifact.LayerSource, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		layers = append(layers, artifact.LayerSource{Name: l.Name, Requirements: l.Requirements})
	}
	builder := artifact.NewBuilder(cfg.Function.SourceDir, layers, layerBld, logger)

	clients := cloud.NewClients(cfg.AWS.Region, cloud.Credentials{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, cfg.Artifact.Bucket, cfg.Artifact.Prefix, logger)

	policy, _ := domain.ParseUpdatePolicy(cfg.Function.UpdatePolicy)
	orch := deploy.New(clients, builder, store, deploy.Options{
		Region:       cfg.AWS.Region,
		AccountID:    cfg.AWS.AccountID,
		UpdatePolicy: policy,
	}, deploy.NewWriterReporter(os.Stdout), logger)

	return &Deployer{
		cfg:      cfg,
		store:    store,
		layerBld: layerBld,
		orch:     orch,
		logger:   logger,
	}, nil
}

// Close releases held resources.
func (d *Deployer) Close() {
	if d.layerBld != nil {
		d.layerBld.Close()
	}
	d.store.Close()
}

// Deploy runs the full pipeline once and prints the summary.
func (d *Deployer) Deploy(ctx context.Context) error {
	routes, err := manifest.Load(d.cfg.API.Manifest)
	if err != nil {
		return &DeployerError{Op: "Deploy", Err: err, ExitCode: ExitManifestError}
	}

	st := d.cfg.DesiredState(routes)
	d.logger.Info("starting deployment",
		"run_id", st.RunID,
		"function", st.Function.Name,
		"region", d.cfg.AWS.Region,
		"stage", st.Stage,
		"routes", len(st.Routes),
	)

	run := d.orch.Run(ctx, st)
	deploy.WriteSummary(os.Stdout, st, run, d.orch.VerifyWarning())

	if run.Terminal() == pipeline.StageFailed {
		stage, ferr := run.FailedStage()
		return &DeployerError{
			Op:       fmt.Sprintf("Deploy[%s]", stage),
			Err:      ferr,
			ExitCode: ExitDeployFailed,
		}
	}
	return nil
}
