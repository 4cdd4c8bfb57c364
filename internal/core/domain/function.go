package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Function Errors
// =============================================================================

var (
	ErrMissingName    = errors.New("function name is required")
	ErrMissingRuntime = errors.New("function runtime is required")
	ErrMissingHandler = errors.New("function handler is required")
	ErrMissingRole    = errors.New("execution role is required")
)

// =============================================================================
// Update Policy
// =============================================================================

// UpdatePolicy selects how an existing function is brought to the desired
// state: updated in place, or deleted and recreated from scratch.
type UpdatePolicy string

const (
	UpdateInPlace             UpdatePolicy = "in_place"
	UpdateDestructiveRecreate UpdatePolicy = "destructive_recreate"
)

// ParseUpdatePolicy parses a policy name; empty defaults to in-place.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch s {
	case "", string(UpdateInPlace):
		return UpdateInPlace, nil
	case string(UpdateDestructiveRecreate):
		return UpdateDestructiveRecreate, nil
	default:
		return "", fmt.Errorf("unknown update policy %q", s)
	}
}

// =============================================================================
// Layer References
// =============================================================================

// LayerRef is a published dependency layer version. The version reference
// is immutable: once attached to a published function it is never mutated,
// new content always publishes a new version.
type LayerRef struct {
	Name       string
	VersionARN string
}

// =============================================================================
// Function Spec
// =============================================================================

// FunctionSpec is the desired configuration of the compute target.
// Identity is Name, unique within an account/region. Zero-valued fields
// mean "not specified" and are preserved from the observed configuration
// on update (merge, not replace).
type FunctionSpec struct {
	Name       string
	Runtime    string
	Handler    string
	MemoryMB   int32
	TimeoutSec int32
	RoleARN    string
	Layers     []LayerRef
	Env        map[string]string
}

// Validate checks that the spec can be created from scratch.
func (s FunctionSpec) Validate() error {
	if s.Name == "" {
		return ErrMissingName
	}
	if s.Runtime == "" {
		return ErrMissingRuntime
	}
	if s.Handler == "" {
		return ErrMissingHandler
	}
	if s.RoleARN == "" {
		return ErrMissingRole
	}
	return nil
}

// LayerARNs returns the ordered layer version references.
func (s FunctionSpec) LayerARNs() []string {
	arns := make([]string, 0, len(s.Layers))
	for _, l := range s.Layers {
		arns = append(arns, l.VersionARN)
	}
	return arns
}

// Merge overlays the desired spec on an observed configuration. Fields
// present in the desired spec win; unspecified fields keep their observed
// values. Env is merged key-by-key rather than replaced wholesale.
func (s FunctionSpec) Merge(observed FunctionSpec) FunctionSpec {
	out := observed
	out.Name = s.Name
	if s.Runtime != "" {
		out.Runtime = s.Runtime
	}
	if s.Handler != "" {
		out.Handler = s.Handler
	}
	if s.MemoryMB != 0 {
		out.MemoryMB = s.MemoryMB
	}
	if s.TimeoutSec != 0 {
		out.TimeoutSec = s.TimeoutSec
	}
	if s.RoleARN != "" {
		out.RoleARN = s.RoleARN
	}
	if len(s.Layers) != 0 {
		out.Layers = s.Layers
	}
	if len(s.Env) != 0 {
		if out.Env == nil {
			out.Env = make(map[string]string, len(s.Env))
		} else {
			merged := make(map[string]string, len(out.Env)+len(s.Env))
			for k, v := range observed.Env {
				merged[k] = v
			}
			out.Env = merged
		}
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}

// FunctionDescriptor is the observed state of a deployed function.
type FunctionDescriptor struct {
	ARN     string
	State   string // provider lifecycle state, e.g. "Active"
	Spec    FunctionSpec
	CodeSHA string
}

// Active reports whether the function is ready to serve invocations.
func (d FunctionDescriptor) Active() bool {
	return d.State == "Active"
}
