// Package fault defines the fault taxonomy for provisioning operations.
// Classification of provider-specific errors into these kinds happens at
// the cloud client boundary; everything above it reasons only in kinds.
package fault

import (
	"errors"
	"fmt"
)

// =============================================================================
// Fault Kinds
// =============================================================================

// Kind classifies a provisioning fault.
type Kind string

const (
	// KindTransient means the remote resource is still settling or the call
	// was rate-limited. Retryable within the same stage.
	KindTransient Kind = "transient"

	// KindAlreadyExists means a create call hit an existing resource.
	// Treated as success by idempotent stages.
	KindAlreadyExists Kind = "already_exists"

	// KindNotFound means the resource does not exist. On probes this is a
	// normal branch; on deletes it is treated as success.
	KindNotFound Kind = "not_found"

	// KindPermissionDenied means the caller lacks access. Fatal.
	KindPermissionDenied Kind = "permission_denied"

	// KindValidation means the request was malformed or rejected. Fatal.
	KindValidation Kind = "validation"

	// KindUnknown is any unclassified fault. Fatal, surfaced verbatim.
	KindUnknown Kind = "unknown"
)

// Fatal reports whether a fault of this kind aborts the pipeline.
// Transient faults are retried, AlreadyExists and NotFound are absorbed
// by the idempotent stages that expect them.
func (k Kind) Fatal() bool {
	switch k {
	case KindTransient, KindAlreadyExists, KindNotFound:
		return false
	default:
		return true
	}
}

// =============================================================================
// Fault
// =============================================================================

// Fault wraps a provider error with its classification and the operation
// and resource it occurred on.
type Fault struct {
	Kind     Kind
	Op       string // Operation that failed (e.g. "CreateFunction")
	Resource string // Resource identity if applicable
	Err      error
}

func (f *Fault) Error() string {
	if f.Resource != "" {
		return fmt.Sprintf("%s %s: %s: %v", f.Op, f.Resource, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a classified fault.
func New(kind Kind, op, resource string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Resource: resource, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries no
// classification. A nil error has no kind; callers must check err first.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is classified as NotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists reports whether err is classified as AlreadyExists.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsTransient reports whether err is classified as Transient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsFatal reports whether err aborts the pipeline.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
