package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment State
// =============================================================================

// DeploymentState carries the desired configuration for one pipeline run
// plus what each stage observed. The desired half is read-only after
// planning; observed descriptors are filled in exactly once by the stage
// that provisions them.
type DeploymentState struct {
	RunID string

	// Desired configuration, frozen at PLAN.
	Function  FunctionSpec
	Routes    []RouteSpec
	CORS      CORSConfig
	Plan      UsagePlanSpec
	Key       APIKeySpec
	Throttles []MethodThrottle
	Binding   *DomainBindingSpec // nil when no custom domain is requested
	Stage     string             // deployed stage name, e.g. "prod"

	// Observed results, written by stages as they complete.
	Compute   FunctionDescriptor
	APIID     string
	InvokeURL string
	Policy    PolicyDescriptor
	Bound     *DomainBinding
}

// NewDeploymentState freezes a desired configuration into a run state.
func NewDeploymentState() *DeploymentState {
	return &DeploymentState{RunID: uuid.New().String()}
}

// CORSConfig is the cross-origin response policy attached to every leaf
// method and to the synthesized preflight methods.
type CORSConfig struct {
	AllowOrigin  string
	AllowHeaders []string
}

// =============================================================================
// Cached State (persisted between runs)
// =============================================================================

// CachedLayer is the last published version of one layer and the hash
// of the content it was published from. Layer versions are immutable, so
// a matching hash means the published version can be reused instead of
// publishing an identical new one.
type CachedLayer struct {
	VersionARN string
	ContentSHA string
}

// CachedState is the only cross-run mutable state: the last published
// layer version per layer name, plus a record of the previous run. It is
// loaded once at pipeline start and persisted once at pipeline end.
type CachedState struct {
	Layers map[string]CachedLayer // keyed by layer name
}

// NewCachedState returns an empty cache.
func NewCachedState() *CachedState {
	return &CachedState{Layers: make(map[string]CachedLayer)}
}

// RunRecord summarizes one finished pipeline run.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string // "done" or "failed"
	FailedStage string // empty on success
}
