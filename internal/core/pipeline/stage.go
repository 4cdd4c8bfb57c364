// Package pipeline defines the provisioning stage machine: the fixed
// stage order, each stage's prerequisites, and the legal transitions.
// It is pure; execution lives in the deploy shell.
package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// Stages
// =============================================================================

// Stage is one step of the provisioning pipeline.
type Stage string

const (
	StagePlan             Stage = "PLAN"
	StageBuildArtifact    Stage = "BUILD_ARTIFACT"
	StageProvisionLayers  Stage = "PROVISION_LAYERS"
	StageProvisionCompute Stage = "PROVISION_COMPUTE"
	StageProvisionAPI     Stage = "PROVISION_API"
	StageApplyPolicy      Stage = "APPLY_POLICY"
	StageBindDomain       Stage = "BIND_DOMAIN"
	StageVerify           Stage = "VERIFY"
	StageDone             Stage = "DONE"
	StageFailed           Stage = "FAILED"
)

// Order is the linear execution order. DONE and FAILED are terminal and
// never executed as stages.
var Order = []Stage{
	StagePlan,
	StageBuildArtifact,
	StageProvisionLayers,
	StageProvisionCompute,
	StageProvisionAPI,
	StageApplyPolicy,
	StageBindDomain,
	StageVerify,
}

// prerequisites maps each stage to the stages that must have succeeded
// (or been legitimately skipped) before it may start.
var prerequisites = map[Stage][]Stage{
	StagePlan:             {},
	StageBuildArtifact:    {StagePlan},
	StageProvisionLayers:  {StageBuildArtifact},
	StageProvisionCompute: {StageBuildArtifact, StageProvisionLayers},
	StageProvisionAPI:     {StageProvisionCompute},
	StageApplyPolicy:      {StageProvisionAPI},
	StageBindDomain:       {StageProvisionAPI},
	StageVerify:           {StageProvisionCompute},
}

// Prerequisites returns the stages that must complete before s.
func Prerequisites(s Stage) []Stage {
	return prerequisites[s]
}

// =============================================================================
// Stage Outcomes
// =============================================================================

// Status is the outcome of one executed stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result records the outcome of one stage in a run.
type Result struct {
	Stage  Stage
	Status Status
	Err    error
	Detail string // human-readable, e.g. "created" / "updated" / reason for skip
}

// =============================================================================
// Run Tracking
// =============================================================================

var (
	ErrPrerequisiteNotMet = errors.New("stage prerequisite not met")
	ErrAlreadyTerminal    = errors.New("pipeline already reached a terminal stage")
)

// Run tracks per-stage outcomes for one pipeline execution and enforces
// the prerequisite graph. Strictly sequential; a Run is never shared
// between goroutines.
type Run struct {
	results  map[Stage]Result
	order    []Result
	terminal Stage // DONE, FAILED, or "" while running
}

// NewRun starts an empty run.
func NewRun() *Run {
	return &Run{results: make(map[Stage]Result)}
}

// CanEnter reports whether stage s may start: the run is not terminal
// and every prerequisite succeeded or was skipped.
func (r *Run) CanEnter(s Stage) error {
	if r.terminal != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, r.terminal)
	}
	for _, pre := range Prerequisites(s) {
		res, ok := r.results[pre]
		if !ok || (res.Status != StatusSuccess && res.Status != StatusSkipped) {
			return fmt.Errorf("%w: %s requires %s", ErrPrerequisiteNotMet, s, pre)
		}
	}
	return nil
}

// Record stores the outcome of an executed stage. A failed stage moves
// the run to FAILED; remaining stages must not be entered.
func (r *Run) Record(res Result) {
	r.results[res.Stage] = res
	r.order = append(r.order, res)
	if res.Status == StatusFailed {
		r.terminal = StageFailed
	}
}

// Finish marks the run DONE if no stage failed.
func (r *Run) Finish() {
	if r.terminal == "" {
		r.terminal = StageDone
	}
}

// Terminal returns DONE, FAILED, or "" while the run is in progress.
func (r *Run) Terminal() Stage {
	return r.terminal
}

// Results returns stage outcomes in execution order.
func (r *Run) Results() []Result {
	return r.order
}

// FailedStage returns the stage that moved the run to FAILED, if any.
func (r *Run) FailedStage() (Stage, error) {
	for _, res := range r.order {
		if res.Status == StatusFailed {
			return res.Stage, res.Err
		}
	}
	return "", nil
}
