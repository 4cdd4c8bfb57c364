// Package cloud implements typed clients for the provider APIs the
// deployer drives: compute, layers, routing, access policy, certificates
// and domains, and the artifact store. Each client classifies provider
// errors into the fault taxonomy; callers never see raw SDK errors.
package cloud

import (
	"context"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// Shared Types
// =============================================================================

// CodeRef points at a deployable bundle, either inline or in the
// artifact store.
type CodeRef struct {
	Zip      []byte
	S3Bucket string
	S3Key    string
}

// Inline reports whether the bundle is carried in the request itself.
func (c CodeRef) Inline() bool {
	return c.S3Bucket == ""
}

// InvokeResult is the raw outcome of one synthetic invocation.
type InvokeResult struct {
	StatusCode    int32
	Payload       []byte
	FunctionError string
}

// OK reports whether the invocation executed without a function error.
func (r InvokeResult) OK() bool {
	return r.FunctionError == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// =============================================================================
// Client Interfaces
// =============================================================================

// ComputeAPI manages the compute target.
type ComputeAPI interface {
	// ProbeFunction answers whether the function exists and with what
	// observed configuration. A missing function is (zero, false, nil),
	// never an error.
	ProbeFunction(ctx context.Context, name string) (domain.FunctionDescriptor, bool, error)

	CreateFunction(ctx context.Context, spec domain.FunctionSpec, code CodeRef) (domain.FunctionDescriptor, error)

	// UpdateFunction applies the given (already merged) configuration and
	// fresh code to an existing function.
	UpdateFunction(ctx context.Context, spec domain.FunctionSpec, code CodeRef) (domain.FunctionDescriptor, error)

	// DeleteFunction removes the function. A function that does not exist
	// is success.
	DeleteFunction(ctx context.Context, name string) error

	// WaitActive blocks until the function reports an active state.
	WaitActive(ctx context.Context, name string) error

	// WaitDeleted blocks until the function no longer exists.
	WaitDeleted(ctx context.Context, name string) error

	// GrantInvoke allows the routing layer to invoke the function. An
	// existing identical grant is success.
	GrantInvoke(ctx context.Context, name, statementID, sourceARN string) error

	Invoke(ctx context.Context, name string, payload []byte) (InvokeResult, error)
}

// LayerAPI manages shared dependency layers. Version references are
// immutable; new content always publishes a new version.
type LayerAPI interface {
	PublishLayer(ctx context.Context, name, runtime string, code CodeRef) (domain.LayerRef, error)
	LatestLayer(ctx context.Context, name string) (domain.LayerRef, bool, error)
}

// RoutingAPI manages the API container, its resource tree, methods and
// stage deployments.
type RoutingAPI interface {
	ProbeAPI(ctx context.Context, name string) (id string, found bool, err error)
	CreateAPI(ctx context.Context, name string) (id string, err error)

	// ListNodes returns the observed resource tree keyed by full path,
	// including the root node "/".
	ListNodes(ctx context.Context, apiID string) (map[string]domain.RouteNode, error)

	CreateNode(ctx context.Context, apiID, parentID, pathPart string) (domain.RouteNode, error)

	// PutProxyMethod attaches a method with a proxy integration to the
	// compute target and the given CORS response header values.
	PutProxyMethod(ctx context.Context, apiID, resourceID string, m domain.MethodSpec, functionARN string, cors map[string]string) error

	// PutMockMethod attaches a static mock method (CORS preflight) that
	// answers a fixed success status without invoking anything.
	PutMockMethod(ctx context.Context, apiID, resourceID, verb string, cors map[string]string) error

	// DeployStage publishes the current resource tree to a stage.
	DeployStage(ctx context.Context, apiID, stage string) error
}

// PolicyAPI manages usage plans, keys and per-method throttle overrides.
type PolicyAPI interface {
	ProbePlan(ctx context.Context, name string) (id string, found bool, err error)
	CreatePlan(ctx context.Context, spec domain.UsagePlanSpec, apiID, stage string) (id string, err error)
	UpdatePlan(ctx context.Context, id string, spec domain.UsagePlanSpec) error

	ProbeKey(ctx context.Context, name string) (id string, found bool, err error)
	CreateKey(ctx context.Context, spec domain.APIKeySpec) (id, value string, err error)

	// AssociateKey binds a key to a plan. An existing association is
	// success.
	AssociateKey(ctx context.Context, planID, keyID string) error

	// ApplyMethodThrottle sets an independent burst/rate pair on one
	// method of the bound stage.
	ApplyMethodThrottle(ctx context.Context, planID, apiID, stage string, t domain.MethodThrottle) error
}

// CertDomainAPI looks up validated certificates and binds custom domains.
type CertDomainAPI interface {
	// LookupCertificate finds the certificate covering domainName. A
	// missing certificate is a NotFound fault: binding cannot proceed.
	LookupCertificate(ctx context.Context, domainName string) (domain.CertificateDescriptor, error)

	// DescribeCertificate reads back one certificate by reference, for
	// checking its validation state before binding.
	DescribeCertificate(ctx context.Context, arn string) (domain.CertificateDescriptor, error)

	ProbeDomain(ctx context.Context, domainName string) (domain.DomainBinding, bool, error)
	CreateDomain(ctx context.Context, spec domain.DomainBindingSpec) (domain.DomainBinding, error)

	// CreateBasePathMapping maps the custom domain onto a deployed stage.
	// An existing identical mapping is success.
	CreateBasePathMapping(ctx context.Context, domainName, basePath, apiID, stage string) error
}

// ArtifactStore holds built bundles and returns references the compute
// API can consume.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, blob []byte) (CodeRef, error)
}
