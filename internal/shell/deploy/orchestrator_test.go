package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
	"github.com/skylift/skylift/internal/core/pipeline"
	"github.com/skylift/skylift/internal/shell/artifact"
	"github.com/skylift/skylift/internal/shell/cloud"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCompute struct {
	functions map[string]domain.FunctionDescriptor
	creates   int
	updates   int
	deletes   int
	grants    int
	invokes   int

	createErr    error
	invokeResult cloud.InvokeResult
	invokeErr    error

	lastUpdateSpec domain.FunctionSpec
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		functions:    make(map[string]domain.FunctionDescriptor),
		invokeResult: cloud.InvokeResult{StatusCode: 200, Payload: []byte(`{"statusCode":200}`)},
	}
}

func (f *fakeCompute) ProbeFunction(_ context.Context, name string) (domain.FunctionDescriptor, bool, error) {
	d, ok := f.functions[name]
	return d, ok, nil
}

func (f *fakeCompute) CreateFunction(_ context.Context, spec domain.FunctionSpec, _ cloud.CodeRef) (domain.FunctionDescriptor, error) {
	if f.createErr != nil {
		return domain.FunctionDescriptor{}, f.createErr
	}
	f.creates++
	d := domain.FunctionDescriptor{
		ARN:   "arn:aws:lambda:eu-west-1:123456789012:function:" + spec.Name,
		State: "Pending",
		Spec:  spec,
	}
	f.functions[spec.Name] = d
	return d, nil
}

func (f *fakeCompute) UpdateFunction(_ context.Context, spec domain.FunctionSpec, _ cloud.CodeRef) (domain.FunctionDescriptor, error) {
	f.updates++
	f.lastUpdateSpec = spec
	d := f.functions[spec.Name]
	d.Spec = spec
	d.State = "Active"
	f.functions[spec.Name] = d
	return d, nil
}

func (f *fakeCompute) DeleteFunction(_ context.Context, name string) error {
	f.deletes++
	delete(f.functions, name)
	return nil
}

func (f *fakeCompute) WaitActive(_ context.Context, name string) error {
	d := f.functions[name]
	d.State = "Active"
	f.functions[name] = d
	return nil
}

func (f *fakeCompute) WaitDeleted(context.Context, string) error { return nil }

func (f *fakeCompute) GrantInvoke(context.Context, string, string, string) error {
	f.grants++
	return nil
}

func (f *fakeCompute) Invoke(context.Context, string, []byte) (cloud.InvokeResult, error) {
	f.invokes++
	return f.invokeResult, f.invokeErr
}

type fakeLayers struct {
	versions  map[string]int
	published int
}

func newFakeLayers() *fakeLayers {
	return &fakeLayers{versions: make(map[string]int)}
}

func (f *fakeLayers) arn(name string, version int) string {
	return fmt.Sprintf("arn:aws:lambda:eu-west-1:123456789012:layer:%s:%d", name, version)
}

func (f *fakeLayers) PublishLayer(_ context.Context, name, _ string, _ cloud.CodeRef) (domain.LayerRef, error) {
	f.published++
	f.versions[name]++
	return domain.LayerRef{Name: name, VersionARN: f.arn(name, f.versions[name])}, nil
}

func (f *fakeLayers) LatestLayer(_ context.Context, name string) (domain.LayerRef, bool, error) {
	v, ok := f.versions[name]
	if !ok {
		return domain.LayerRef{}, false, nil
	}
	return domain.LayerRef{Name: name, VersionARN: f.arn(name, v)}, true, nil
}

type fakeRouting struct {
	apis         map[string]string
	nodes        map[string]domain.RouteNode
	nextNode     int
	createdNodes int
	methods      []string // "VERB path" in attach order
	deploys      int

	createAPIErr error
}

func newFakeRouting() *fakeRouting {
	return &fakeRouting{apis: make(map[string]string)}
}

func (f *fakeRouting) ProbeAPI(_ context.Context, name string) (string, bool, error) {
	id, ok := f.apis[name]
	return id, ok, nil
}

func (f *fakeRouting) CreateAPI(_ context.Context, name string) (string, error) {
	if f.createAPIErr != nil {
		return "", f.createAPIErr
	}
	f.apis[name] = "api123"
	f.nodes = map[string]domain.RouteNode{
		"/": {ID: "root", FullPath: "/"},
	}
	return "api123", nil
}

func (f *fakeRouting) ListNodes(context.Context, string) (map[string]domain.RouteNode, error) {
	out := make(map[string]domain.RouteNode, len(f.nodes))
	for k, v := range f.nodes {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRouting) CreateNode(_ context.Context, _ string, parentID, pathPart string) (domain.RouteNode, error) {
	f.nextNode++
	f.createdNodes++
	node := domain.RouteNode{
		ID:       fmt.Sprintf("res%d", f.nextNode),
		ParentID: parentID,
		PathPart: pathPart,
	}
	for path, parent := range f.nodes {
		if parent.ID == parentID {
			if path == "/" {
				node.FullPath = "/" + pathPart
			} else {
				node.FullPath = path + "/" + pathPart
			}
		}
	}
	f.nodes[node.FullPath] = node
	return node, nil
}

func (f *fakeRouting) PutProxyMethod(_ context.Context, _ string, resourceID string, m domain.MethodSpec, _ string, _ map[string]string) error {
	f.recordMethod(resourceID, m.Verb)
	return nil
}

func (f *fakeRouting) PutMockMethod(_ context.Context, _ string, resourceID, verb string, _ map[string]string) error {
	f.recordMethod(resourceID, verb)
	return nil
}

func (f *fakeRouting) recordMethod(resourceID, verb string) {
	for path, node := range f.nodes {
		if node.ID == resourceID {
			f.methods = append(f.methods, verb+" "+path)
			if node.Methods == nil {
				node.Methods = make(map[string]bool)
			}
			node.Methods[verb] = true
			f.nodes[path] = node
		}
	}
}

func (f *fakeRouting) DeployStage(context.Context, string, string) error {
	f.deploys++
	return nil
}

type fakePolicy struct {
	plans        map[string]string
	keys         map[string]string
	planCreates  int
	planUpdates  int
	keyCreates   int
	associations int
	throttles    []domain.MethodThrottle
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{plans: make(map[string]string), keys: make(map[string]string)}
}

func (f *fakePolicy) ProbePlan(_ context.Context, name string) (string, bool, error) {
	id, ok := f.plans[name]
	return id, ok, nil
}

func (f *fakePolicy) CreatePlan(_ context.Context, spec domain.UsagePlanSpec, _, _ string) (string, error) {
	f.planCreates++
	f.plans[spec.Name] = "plan123"
	return "plan123", nil
}

func (f *fakePolicy) UpdatePlan(context.Context, string, domain.UsagePlanSpec) error {
	f.planUpdates++
	return nil
}

func (f *fakePolicy) ProbeKey(_ context.Context, name string) (string, bool, error) {
	id, ok := f.keys[name]
	return id, ok, nil
}

func (f *fakePolicy) CreateKey(_ context.Context, spec domain.APIKeySpec) (string, string, error) {
	f.keyCreates++
	f.keys[spec.Name] = "key123"
	return "key123", "secret-key-value", nil
}

func (f *fakePolicy) AssociateKey(context.Context, string, string) error {
	f.associations++
	return nil
}

func (f *fakePolicy) ApplyMethodThrottle(_ context.Context, _, _, _ string, t domain.MethodThrottle) error {
	f.throttles = append(f.throttles, t)
	return nil
}

type fakeDomains struct {
	cert          domain.CertificateDescriptor
	certErr       error
	bindings      map[string]domain.DomainBinding
	domainCreates int
	mappings      int
}

func newFakeDomains() *fakeDomains {
	return &fakeDomains{
		cert: domain.CertificateDescriptor{
			ARN:    "arn:aws:acm:eu-west-1:123456789012:certificate/abc",
			Status: "ISSUED",
		},
		bindings: make(map[string]domain.DomainBinding),
	}
}

func (f *fakeDomains) LookupCertificate(_ context.Context, domainName string) (domain.CertificateDescriptor, error) {
	if f.certErr != nil {
		return domain.CertificateDescriptor{}, f.certErr
	}
	cert := f.cert
	cert.DomainName = domainName
	return cert, nil
}

func (f *fakeDomains) DescribeCertificate(_ context.Context, arn string) (domain.CertificateDescriptor, error) {
	if f.certErr != nil {
		return domain.CertificateDescriptor{}, f.certErr
	}
	cert := f.cert
	cert.ARN = arn
	return cert, nil
}

func (f *fakeDomains) ProbeDomain(_ context.Context, domainName string) (domain.DomainBinding, bool, error) {
	b, ok := f.bindings[domainName]
	return b, ok, nil
}

func (f *fakeDomains) CreateDomain(_ context.Context, spec domain.DomainBindingSpec) (domain.DomainBinding, error) {
	f.domainCreates++
	b := domain.DomainBinding{
		DomainName:   spec.DomainName,
		TargetDomain: "d-abc123.execute-api.eu-west-1.amazonaws.com",
	}
	f.bindings[spec.DomainName] = b
	return b, nil
}

func (f *fakeDomains) CreateBasePathMapping(context.Context, string, string, string, string) error {
	f.mappings++
	return nil
}

type fakeBuilder struct {
	bundle artifact.Bundle
}

func (f *fakeBuilder) Build(context.Context) (artifact.Bundle, error) {
	return f.bundle, nil
}

type memStore struct {
	cached *domain.CachedState
	runs   []domain.RunRecord
}

func (m *memStore) Load(context.Context) (*domain.CachedState, error) {
	if m.cached == nil {
		return domain.NewCachedState(), nil
	}
	out := domain.NewCachedState()
	for k, v := range m.cached.Layers {
		out.Layers[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, cached *domain.CachedState) error {
	m.cached = cached
	return nil
}

func (m *memStore) RecordRun(_ context.Context, run domain.RunRecord) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) LastRun(context.Context) (*domain.RunRecord, error) {
	if len(m.runs) == 0 {
		return nil, nil
	}
	return &m.runs[len(m.runs)-1], nil
}

func (m *memStore) Close() error { return nil }

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	compute *fakeCompute
	layers  *fakeLayers
	routing *fakeRouting
	policy  *fakePolicy
	domains *fakeDomains
	builder *fakeBuilder
	store   *memStore
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		compute: newFakeCompute(),
		layers:  newFakeLayers(),
		routing: newFakeRouting(),
		policy:  newFakePolicy(),
		domains: newFakeDomains(),
		builder: &fakeBuilder{bundle: artifact.Bundle{Code: []byte("function-code")}},
		store:   &memStore{},
	}
	h.orch = NewWithClients(
		h.compute, h.layers, h.routing, h.policy, h.domains, nil,
		h.builder, h.store,
		Options{Region: "eu-west-1", AccountID: "123456789012", UpdatePolicy: domain.UpdateInPlace},
		nil, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return h
}

func desiredState() *domain.DeploymentState {
	st := domain.NewDeploymentState()
	st.Function = domain.FunctionSpec{
		Name:       "cv-builder",
		Runtime:    "python3.12",
		Handler:    "app.main.handler",
		MemoryMB:   512,
		TimeoutSec: 30,
		RoleARN:    "arn:aws:iam::123456789012:role/cv-builder-exec",
		Env:        map[string]string{"LOG_LEVEL": "info"},
	}
	st.Routes = []domain.RouteSpec{
		{Path: "/health", Methods: []domain.MethodSpec{
			{Verb: "GET", AuthMode: "NONE", Integration: domain.IntegrationProxy},
		}},
		{Path: "/ai/tailor", Methods: []domain.MethodSpec{
			{Verb: "POST", AuthMode: "NONE", Integration: domain.IntegrationProxy, KeyRequired: true},
		}},
	}
	st.CORS = domain.CORSConfig{AllowOrigin: "*", AllowHeaders: []string{"Content-Type", "Authorization"}}
	st.Plan = domain.UsagePlanSpec{Name: "cv-builder-plan", BurstLimit: 20, RateLimit: 10, QuotaLimit: 5000, QuotaPeriod: "DAY"}
	st.Key = domain.APIKeySpec{Name: "cv-builder-key"}
	st.Stage = "prod"
	return st
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_FreshDeployReachesDone(t *testing.T) {
	h := newHarness(t)
	st := desiredState()

	run := h.orch.Run(t.Context(), st)

	assert.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 1, h.compute.creates)
	assert.Equal(t, 0, h.compute.updates)
	assert.Equal(t, "api123", st.APIID)
	assert.Equal(t, "https://api123.execute-api.eu-west-1.amazonaws.com/prod", st.InvokeURL)
	assert.True(t, st.Compute.Active())
	assert.Equal(t, "plan123", st.Policy.PlanID)
	assert.Equal(t, "secret-key-value", st.Policy.KeyValue)
	assert.Equal(t, 1, h.policy.associations)
	assert.Equal(t, 1, h.compute.grants)
	assert.Equal(t, 1, h.routing.deploys)
	assert.Equal(t, 1, h.compute.invokes)

	// /health, /ai, /ai/tailor
	assert.Equal(t, 3, h.routing.createdNodes)
	// declared GET + POST, plus one synthesized OPTIONS per leaf
	assert.ElementsMatch(t, []string{
		"GET /health", "OPTIONS /health",
		"POST /ai/tailor", "OPTIONS /ai/tailor",
	}, h.routing.methods)

	require.Len(t, h.store.runs, 1)
	assert.Equal(t, "done", h.store.runs[0].Status)
}

func TestRun_SecondRunCreatesNothing(t *testing.T) {
	h := newHarness(t)

	first := h.orch.Run(t.Context(), desiredState())
	require.Equal(t, pipeline.StageDone, first.Terminal())

	second := h.orch.Run(t.Context(), desiredState())
	require.Equal(t, pipeline.StageDone, second.Terminal())

	assert.Equal(t, 1, h.compute.creates, "function created exactly once across runs")
	assert.Equal(t, 1, h.compute.updates, "second run updates in place")
	assert.Equal(t, 3, h.routing.createdNodes, "existing nodes are reused")
	assert.Equal(t, 1, h.policy.planCreates)
	assert.Equal(t, 1, h.policy.planUpdates)
	assert.Equal(t, 1, h.policy.keyCreates, "key is never recreated")
	assert.Equal(t, 2, h.routing.deploys, "every run redeploys the stage")
}

func TestRun_LayerReusedWhenContentUnchanged(t *testing.T) {
	h := newHarness(t)
	h.builder.bundle.Layers = []artifact.LayerBundle{{Name: "deps", Zip: []byte("layer-content")}}

	require.Equal(t, pipeline.StageDone, h.orch.Run(t.Context(), desiredState()).Terminal())
	assert.Equal(t, 1, h.layers.published)

	require.Equal(t, pipeline.StageDone, h.orch.Run(t.Context(), desiredState()).Terminal())
	assert.Equal(t, 1, h.layers.published, "unchanged content must not publish a new version")

	h.builder.bundle.Layers[0].Zip = []byte("layer-content-v2")
	st := desiredState()
	require.Equal(t, pipeline.StageDone, h.orch.Run(t.Context(), st).Terminal())
	assert.Equal(t, 2, h.layers.published, "changed content publishes a new version")
	require.Len(t, st.Function.Layers, 1)
	assert.Contains(t, st.Function.Layers[0].VersionARN, ":deps:2")
}

func TestRun_UpdateMergesObservedConfig(t *testing.T) {
	h := newHarness(t)
	h.compute.functions["cv-builder"] = domain.FunctionDescriptor{
		ARN:   "arn:aws:lambda:eu-west-1:123456789012:function:cv-builder",
		State: "Active",
		Spec: domain.FunctionSpec{
			Name:       "cv-builder",
			Runtime:    "python3.12",
			Handler:    "app.main.handler",
			MemoryMB:   1024,
			TimeoutSec: 60,
			RoleARN:    "arn:aws:iam::123456789012:role/cv-builder-exec",
			Env:        map[string]string{"OPENAI_API_KEY": "sk-test", "LOG_LEVEL": "debug"},
		},
	}

	st := desiredState()
	st.Function.MemoryMB = 0 // unspecified, must keep the observed 1024
	run := h.orch.Run(t.Context(), st)

	require.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 0, h.compute.creates)
	assert.Equal(t, 1, h.compute.updates)

	merged := h.compute.lastUpdateSpec
	assert.Equal(t, int32(1024), merged.MemoryMB)
	assert.Equal(t, "sk-test", merged.Env["OPENAI_API_KEY"], "unmanaged env keys survive the update")
	assert.Equal(t, "info", merged.Env["LOG_LEVEL"], "desired env keys win")
}

func TestRun_DestructiveRecreatePolicy(t *testing.T) {
	h := newHarness(t)
	h.orch.opts.UpdatePolicy = domain.UpdateDestructiveRecreate
	h.compute.functions["cv-builder"] = domain.FunctionDescriptor{
		ARN:   "arn:aws:lambda:eu-west-1:123456789012:function:cv-builder",
		State: "Active",
		Spec:  domain.FunctionSpec{Name: "cv-builder"},
	}

	run := h.orch.Run(t.Context(), desiredState())

	require.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 1, h.compute.deletes)
	assert.Equal(t, 1, h.compute.creates)
	assert.Equal(t, 0, h.compute.updates)
}

func TestRun_FailureHaltsWithoutRollback(t *testing.T) {
	h := newHarness(t)
	h.routing.createAPIErr = fault.New(fault.KindPermissionDenied, "CreateRestApi", "cv-builder",
		errors.New("not authorized"))

	st := desiredState()
	run := h.orch.Run(t.Context(), st)

	assert.Equal(t, pipeline.StageFailed, run.Terminal())
	stage, err := run.FailedStage()
	assert.Equal(t, pipeline.StageProvisionAPI, stage)
	assert.Equal(t, fault.KindPermissionDenied, fault.KindOf(err))

	// the function provisioned before the failure stays in place
	assert.Equal(t, 1, h.compute.creates)
	assert.Equal(t, 0, h.compute.deletes)
	assert.NotEmpty(t, st.Compute.ARN)

	// downstream stages never ran
	assert.Equal(t, 0, h.policy.planCreates)
	assert.Equal(t, 0, h.compute.invokes)

	require.Len(t, h.store.runs, 1)
	assert.Equal(t, "failed", h.store.runs[0].Status)
	assert.Equal(t, "PROVISION_API", h.store.runs[0].FailedStage)
}

func TestRun_DomainBindingSkippedWhenUnconfigured(t *testing.T) {
	h := newHarness(t)

	run := h.orch.Run(t.Context(), desiredState())

	require.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 0, h.domains.domainCreates)
	for _, res := range run.Results() {
		if res.Stage == pipeline.StageBindDomain {
			assert.Equal(t, pipeline.StatusSkipped, res.Status)
		}
	}
}

func TestRun_DomainBindingPublishesTarget(t *testing.T) {
	h := newHarness(t)
	st := desiredState()
	st.Binding = &domain.DomainBindingSpec{DomainName: "api.cvbuilder.example"}

	run := h.orch.Run(t.Context(), st)

	require.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 1, h.domains.domainCreates)
	assert.Equal(t, 1, h.domains.mappings)
	require.NotNil(t, st.Bound)
	assert.Equal(t, "d-abc123.execute-api.eu-west-1.amazonaws.com", st.Bound.TargetDomain)
}

func TestRun_PendingCertificateAbortsBinding(t *testing.T) {
	h := newHarness(t)
	h.domains.cert.Status = "PENDING_VALIDATION"
	st := desiredState()
	st.Binding = &domain.DomainBindingSpec{DomainName: "api.cvbuilder.example"}

	run := h.orch.Run(t.Context(), st)

	assert.Equal(t, pipeline.StageFailed, run.Terminal())
	stage, err := run.FailedStage()
	assert.Equal(t, pipeline.StageBindDomain, stage)
	assert.ErrorIs(t, err, domain.ErrCertificateNotIssued)
	assert.Equal(t, 0, h.domains.domainCreates, "no domain resource before the certificate is issued")
	assert.Equal(t, 0, h.domains.mappings)
}

func TestRun_ExplicitCertificateStillCheckedForIssuance(t *testing.T) {
	h := newHarness(t)
	h.domains.cert.Status = "PENDING_VALIDATION"
	st := desiredState()
	st.Binding = &domain.DomainBindingSpec{
		DomainName:     "api.cvbuilder.example",
		CertificateARN: "arn:aws:acm:eu-west-1:123456789012:certificate/explicit",
	}

	run := h.orch.Run(t.Context(), st)

	assert.Equal(t, pipeline.StageFailed, run.Terminal())
	_, err := run.FailedStage()
	assert.ErrorIs(t, err, domain.ErrCertificateNotIssued)
	assert.Equal(t, 0, h.domains.domainCreates)
}

func TestRun_VerificationFailureIsWarningNotFailure(t *testing.T) {
	h := newHarness(t)
	h.compute.invokeResult = cloud.InvokeResult{StatusCode: 200, FunctionError: "Unhandled"}

	run := h.orch.Run(t.Context(), desiredState())

	assert.Equal(t, pipeline.StageDone, run.Terminal())
	assert.NotEmpty(t, h.orch.VerifyWarning())
}

func TestRun_ExistingFunctionRaceConvergesToUpdate(t *testing.T) {
	h := newHarness(t)
	h.compute.createErr = fault.New(fault.KindAlreadyExists, "CreateFunction", "cv-builder",
		errors.New("function already exist"))
	h.compute.functions["cv-builder"] = domain.FunctionDescriptor{
		ARN:   "arn:aws:lambda:eu-west-1:123456789012:function:cv-builder",
		State: "Active",
		Spec:  domain.FunctionSpec{Name: "cv-builder"},
	}

	// Probe sees it, so the decision is update; no create is attempted.
	run := h.orch.Run(t.Context(), desiredState())
	require.Equal(t, pipeline.StageDone, run.Terminal())
	assert.Equal(t, 0, h.compute.creates)
	assert.Equal(t, 1, h.compute.updates)
}

func TestRun_ThrottleOverrideAppliedAsIs(t *testing.T) {
	h := newHarness(t)
	st := desiredState()
	st.Throttles = []domain.MethodThrottle{
		{Path: "/ai/tailor", Verb: "POST", BurstLimit: 100, RateLimit: 50}, // above plan ceiling
	}

	run := h.orch.Run(t.Context(), st)

	require.Equal(t, pipeline.StageDone, run.Terminal())
	require.Len(t, h.policy.throttles, 1)
	assert.Equal(t, int32(100), h.policy.throttles[0].BurstLimit)
}
