package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
	"github.com/skylift/skylift/internal/core/pipeline"
	"github.com/skylift/skylift/internal/core/plan"
	"github.com/skylift/skylift/internal/shell/cloud"
)

// =============================================================================
// PLAN
// =============================================================================

// stagePlan validates the desired configuration, expands the API
// surface, and loads the cross-run cache. The desired state is read-only
// from here on.
func (o *Orchestrator) stagePlan(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	if err := st.Function.Validate(); err != nil {
		return failed(fault.New(fault.KindValidation, "Plan", st.Function.Name, err))
	}

	surface, err := plan.ExpandSurface(st.Routes)
	if err != nil {
		return failed(fault.New(fault.KindValidation, "Plan", "routes", err))
	}
	o.surface = surface

	if st.CORS.AllowOrigin == "" {
		st.CORS = plan.DefaultCORS()
	}

	if o.store != nil {
		cached, err := o.store.Load(ctx)
		if err != nil {
			return failed(err)
		}
		o.cached = cached
	} else {
		o.cached = domain.NewCachedState()
	}

	return succeeded(fmt.Sprintf("%d routes, %d nodes planned", len(st.Routes), len(surface.Nodes)))
}

// =============================================================================
// BUILD_ARTIFACT
// =============================================================================

func (o *Orchestrator) stageBuildArtifact(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	bundle, err := o.builder.Build(ctx)
	if err != nil {
		return failed(fault.New(fault.KindValidation, "BuildArtifact", st.Function.Name, err))
	}
	o.bundle = bundle
	return succeeded(fmt.Sprintf("code %d bytes, %d layer bundles", len(bundle.Code), len(bundle.Layers)))
}

// =============================================================================
// PROVISION_LAYERS
// =============================================================================

// stageProvisionLayers publishes a new version for every layer whose
// content changed and reuses the cached version reference otherwise.
// Layer versions are immutable, so "update" for a layer always means a
// new version; unchanged content must not publish a duplicate, or
// re-runs would never converge.
func (o *Orchestrator) stageProvisionLayers(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	if len(o.bundle.Layers) == 0 {
		return skipped("no layers configured")
	}

	var refs []domain.LayerRef
	published := 0
	for _, lb := range o.bundle.Layers {
		ref, didPublish, err := o.provisionLayer(ctx, st, lb.Name, lb.Zip)
		if err != nil {
			return failed(err)
		}
		if didPublish {
			published++
		}
		refs = append(refs, ref)
	}
	st.Function.Layers = refs

	return succeeded(fmt.Sprintf("%d layers ready (%d published)", len(refs), published))
}

func (o *Orchestrator) provisionLayer(ctx context.Context, st *domain.DeploymentState, name string, zip []byte) (domain.LayerRef, bool, error) {
	sum := sha256.Sum256(zip)
	contentSHA := hex.EncodeToString(sum[:])

	if cached, ok := o.cached.Layers[name]; ok && cached.ContentSHA == contentSHA {
		// Probe rather than trust the cache blindly: the remote version
		// may have been removed out of band.
		ref, found, err := o.layers.LatestLayer(ctx, name)
		if err != nil {
			return domain.LayerRef{}, false, err
		}
		if found && ref.VersionARN == cached.VersionARN {
			o.logger.Info("layer unchanged, reusing version", "layer", name, "version_arn", ref.VersionARN)
			return ref, false, nil
		}
	}

	code := o.codeRef(ctx, name+".zip", zip)
	var ref domain.LayerRef
	err := retryTransient(ctx, o.logger, "PublishLayerVersion", func() error {
		var err error
		ref, err = o.layers.PublishLayer(ctx, name, st.Function.Runtime, code)
		return err
	})
	if err != nil {
		return domain.LayerRef{}, false, err
	}

	o.cached.Layers[name] = domain.CachedLayer{VersionARN: ref.VersionARN, ContentSHA: contentSHA}
	return ref, true, nil
}

// =============================================================================
// PROVISION_COMPUTE
// =============================================================================

// stageProvisionCompute applies the create-vs-update decision to the
// compute target: probe by identity, create the full desired descriptor
// on NotFound, merge-update on Found. Exactly one of the two is issued.
func (o *Orchestrator) stageProvisionCompute(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	observed, found, err := o.compute.ProbeFunction(ctx, st.Function.Name)
	if err != nil {
		return failed(err)
	}

	code := o.codeRef(ctx, st.Function.Name+".zip", o.bundle.Code)

	switch plan.Decide(found) {
	case plan.ActionCreate:
		desc, err := o.createFunction(ctx, st.Function, code)
		if err != nil {
			return failed(err)
		}
		st.Compute = desc
		return succeeded("created " + desc.ARN)

	default: // plan.ActionUpdate
		if o.opts.UpdatePolicy == domain.UpdateDestructiveRecreate {
			desc, err := o.recreateFunction(ctx, st.Function, code)
			if err != nil {
				return failed(err)
			}
			st.Compute = desc
			return succeeded("recreated " + desc.ARN)
		}

		merged := st.Function.Merge(observed.Spec)
		var desc domain.FunctionDescriptor
		err := retryTransient(ctx, o.logger, "UpdateFunction", func() error {
			var err error
			desc, err = o.compute.UpdateFunction(ctx, merged, code)
			return err
		})
		if err != nil {
			return failed(err)
		}
		if desc.ARN == "" {
			desc.ARN = observed.ARN
		}
		st.Compute = desc
		return succeeded("updated " + desc.ARN)
	}
}

func (o *Orchestrator) createFunction(ctx context.Context, spec domain.FunctionSpec, code cloud.CodeRef) (domain.FunctionDescriptor, error) {
	var desc domain.FunctionDescriptor
	err := retryTransient(ctx, o.logger, "CreateFunction", func() error {
		var err error
		desc, err = o.compute.CreateFunction(ctx, spec, code)
		return err
	})
	if err != nil {
		if !fault.IsAlreadyExists(err) {
			return domain.FunctionDescriptor{}, err
		}
		// A concurrent or earlier partial run created it; converge by
		// reading the descriptor back.
		observed, found, probeErr := o.compute.ProbeFunction(ctx, spec.Name)
		if probeErr != nil {
			return domain.FunctionDescriptor{}, probeErr
		}
		if !found {
			return domain.FunctionDescriptor{}, err
		}
		desc = observed
	}

	if err := o.compute.WaitActive(ctx, spec.Name); err != nil {
		return domain.FunctionDescriptor{}, err
	}
	desc.State = "Active"
	return desc, nil
}

// recreateFunction implements the destructive-recreate policy: delete,
// wait until the identity disappears, then create from the full desired
// descriptor.
func (o *Orchestrator) recreateFunction(ctx context.Context, spec domain.FunctionSpec, code cloud.CodeRef) (domain.FunctionDescriptor, error) {
	if err := o.compute.DeleteFunction(ctx, spec.Name); err != nil {
		return domain.FunctionDescriptor{}, err
	}
	if err := o.compute.WaitDeleted(ctx, spec.Name); err != nil {
		return domain.FunctionDescriptor{}, err
	}
	return o.createFunction(ctx, spec, code)
}

// codeRef ships a bundle inline when small enough, through the artifact
// store otherwise. Upload faults degrade to inline shipping; the compute
// API will reject the bundle itself if it is genuinely too large.
func (o *Orchestrator) codeRef(ctx context.Context, key string, blob []byte) cloud.CodeRef {
	if len(blob) <= o.opts.InlineLimit || o.artifacts == nil {
		return cloud.CodeRef{Zip: blob}
	}
	ref, err := o.artifacts.Upload(ctx, key, blob)
	if err != nil {
		o.logger.Warn("artifact upload failed, shipping inline", "key", key, "error", err)
		return cloud.CodeRef{Zip: blob}
	}
	return ref
}

// =============================================================================
// PROVISION_API
// =============================================================================

// stageProvisionAPI creates or reuses the API container, materializes
// the planned surface (nodes parent-first, probed not assumed), attaches
// methods, grants invoke permission and deploys the stage.
func (o *Orchestrator) stageProvisionAPI(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	apiName := st.Function.Name
	apiID, found, err := o.routing.ProbeAPI(ctx, apiName)
	if err != nil {
		return failed(err)
	}
	created := false
	if plan.Decide(found) == plan.ActionCreate {
		if apiID, err = o.routing.CreateAPI(ctx, apiName); err != nil {
			return failed(err)
		}
		created = true
	}
	st.APIID = apiID

	nodes, err := o.routing.ListNodes(ctx, apiID)
	if err != nil {
		return failed(err)
	}

	createdNodes := 0
	for _, op := range o.surface.Nodes {
		if _, exists := nodes[op.Path]; exists {
			continue
		}
		parent, ok := nodes[op.ParentPath]
		if !ok {
			return failed(fault.New(fault.KindUnknown, "CreateResource", op.Path,
				fmt.Errorf("parent node %s missing", op.ParentPath)))
		}
		var node domain.RouteNode
		err := retryTransient(ctx, o.logger, "CreateResource", func() error {
			var err error
			node, err = o.routing.CreateNode(ctx, apiID, parent.ID, op.PathPart)
			return err
		})
		if err != nil {
			return failed(err)
		}
		nodes[op.Path] = node
		createdNodes++
	}

	corsByPath := o.corsByLeaf(st)
	for _, mop := range o.surface.Methods {
		node, ok := nodes[mop.Path]
		if !ok {
			return failed(fault.New(fault.KindUnknown, "PutMethod", mop.Path,
				fmt.Errorf("leaf node %s missing", mop.Path)))
		}
		cors := corsByPath[mop.Path]
		err := retryTransient(ctx, o.logger, "PutMethod", func() error {
			if mop.Method.Integration == domain.IntegrationMock {
				return o.routing.PutMockMethod(ctx, apiID, node.ID, mop.Method.Verb, cors)
			}
			return o.routing.PutProxyMethod(ctx, apiID, node.ID, mop.Method, st.Compute.ARN, cors)
		})
		if err != nil {
			return failed(err)
		}
	}

	sourceARN := cloud.ExecuteARN(o.opts.Region, o.opts.AccountID, apiID)
	if err := o.compute.GrantInvoke(ctx, st.Function.Name, "apigateway-invoke", sourceARN); err != nil {
		return failed(err)
	}

	if err := o.routing.DeployStage(ctx, apiID, st.Stage); err != nil {
		return failed(err)
	}
	st.InvokeURL = fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, o.opts.Region, st.Stage)

	verb := "reused"
	if created {
		verb = "created"
	}
	return succeeded(fmt.Sprintf("api %s %s, %d nodes created, %d methods attached",
		apiID, verb, createdNodes, len(o.surface.Methods)))
}

// corsByLeaf renders the CORS response header values per leaf, based on
// that leaf's declared methods.
func (o *Orchestrator) corsByLeaf(st *domain.DeploymentState) map[string]map[string]string {
	out := make(map[string]map[string]string, len(st.Routes))
	for _, r := range st.Routes {
		leaf := domain.NormalizePath(r.Path)
		out[leaf] = plan.ResponseHeaderValues(st.CORS, r.Methods)
	}
	return out
}

// =============================================================================
// APPLY_POLICY
// =============================================================================

// stageApplyPolicy creates or updates the usage plan, ensures the API
// key and its association, and applies per-method throttle overrides
// as-is — an override looser than the plan ceiling is allowed, logged
// as a warning.
func (o *Orchestrator) stageApplyPolicy(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	planID, found, err := o.policy.ProbePlan(ctx, st.Plan.Name)
	if err != nil {
		return failed(err)
	}
	planVerb := "updated"
	if plan.Decide(found) == plan.ActionCreate {
		if planID, err = o.policy.CreatePlan(ctx, st.Plan, st.APIID, st.Stage); err != nil {
			return failed(err)
		}
		planVerb = "created"
	} else {
		if err := o.policy.UpdatePlan(ctx, planID, st.Plan); err != nil {
			return failed(err)
		}
	}

	keyID, found, err := o.policy.ProbeKey(ctx, st.Key.Name)
	if err != nil {
		return failed(err)
	}
	keyValue := ""
	if plan.Decide(found) == plan.ActionCreate {
		if keyID, keyValue, err = o.policy.CreateKey(ctx, st.Key); err != nil {
			return failed(err)
		}
	}

	if err := o.policy.AssociateKey(ctx, planID, keyID); err != nil {
		return failed(err)
	}

	for _, t := range st.Throttles {
		if t.ExceedsPlan(st.Plan) {
			o.logger.Warn("method throttle exceeds plan ceiling, applying as-is",
				"path", t.Path, "verb", t.Verb,
				"burst", t.BurstLimit, "rate", t.RateLimit,
				"plan_burst", st.Plan.BurstLimit, "plan_rate", st.Plan.RateLimit,
			)
		}
		if err := o.policy.ApplyMethodThrottle(ctx, planID, st.APIID, st.Stage, t); err != nil {
			return failed(err)
		}
	}

	st.Policy = domain.PolicyDescriptor{PlanID: planID, KeyID: keyID, KeyValue: keyValue}
	return succeeded(fmt.Sprintf("plan %s %s, %d method overrides", planID, planVerb, len(st.Throttles)))
}

// =============================================================================
// BIND_DOMAIN
// =============================================================================

// stageBindDomain binds the custom domain. The certificate must already
// be issued; anything less aborts before any domain resource is created.
func (o *Orchestrator) stageBindDomain(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	if st.Binding == nil {
		return skipped("no custom domain configured")
	}
	spec := *st.Binding

	var cert domain.CertificateDescriptor
	var err error
	if spec.CertificateARN == "" {
		cert, err = o.domains.LookupCertificate(ctx, spec.DomainName)
	} else {
		cert, err = o.domains.DescribeCertificate(ctx, spec.CertificateARN)
	}
	if err != nil {
		return failed(err)
	}
	if !cert.Issued() {
		return failed(fault.New(fault.KindValidation, "BindDomain", spec.DomainName, domain.ErrCertificateNotIssued))
	}
	spec.CertificateARN = cert.ARN

	binding, found, err := o.domains.ProbeDomain(ctx, spec.DomainName)
	if err != nil {
		return failed(err)
	}
	if plan.Decide(found) == plan.ActionCreate {
		if binding, err = o.domains.CreateDomain(ctx, spec); err != nil {
			return failed(err)
		}
	}

	if err := o.domains.CreateBasePathMapping(ctx, spec.DomainName, spec.BasePath, st.APIID, st.Stage); err != nil {
		return failed(err)
	}

	binding.BasePath = spec.BasePath
	st.Bound = &binding
	return succeeded("target domain " + binding.TargetDomain)
}

// =============================================================================
// VERIFY
// =============================================================================

// healthCheckPayload is the fixed synthetic request: a gateway-shaped
// GET of the health route.
const healthCheckPayload = `{"httpMethod":"GET","path":"/health","requestContext":{}}`

// stageVerify performs exactly one synthetic invocation. Failure is a
// post-deploy warning, never a rollback; the pipeline still reaches DONE.
func (o *Orchestrator) stageVerify(ctx context.Context, st *domain.DeploymentState) pipeline.Result {
	res, err := o.compute.Invoke(ctx, st.Function.Name, []byte(healthCheckPayload))
	if err != nil {
		o.verifyWarning = fmt.Sprintf("verification invocation failed: %v", err)
		o.logger.Warn("verification failed", "error", err)
		return succeeded("WARNING: " + o.verifyWarning)
	}
	if !res.OK() {
		o.verifyWarning = fmt.Sprintf("verification returned status %d, function error %q", res.StatusCode, res.FunctionError)
		o.logger.Warn("verification failed", "status", res.StatusCode, "function_error", res.FunctionError)
		return succeeded("WARNING: " + o.verifyWarning)
	}
	return succeeded(fmt.Sprintf("invocation ok, status %d", res.StatusCode))
}

// VerifyWarning returns the post-deploy warning from the last run, if
// verification did not pass.
func (o *Orchestrator) VerifyWarning() string {
	return o.verifyWarning
}
