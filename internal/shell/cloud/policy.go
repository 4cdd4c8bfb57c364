package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
)

// =============================================================================
// Policy Client (PolicyAPI)
// =============================================================================

// PolicyClient implements PolicyAPI against API Gateway usage plans.
type PolicyClient struct {
	api    *apigateway.Client
	logger *slog.Logger
}

// NewPolicyClient wraps an SDK client.
func NewPolicyClient(api *apigateway.Client, logger *slog.Logger) *PolicyClient {
	return &PolicyClient{api: api, logger: logger.With("client", "policy")}
}

// ProbePlan finds a usage plan by name.
func (c *PolicyClient) ProbePlan(ctx context.Context, name string) (string, bool, error) {
	out, err := c.api.GetUsagePlans(ctx, &apigateway.GetUsagePlansInput{Limit: aws.Int32(500)})
	if err != nil {
		return "", false, classify("GetUsagePlans", name, err)
	}
	for _, item := range out.Items {
		if aws.ToString(item.Name) == name {
			return aws.ToString(item.Id), true, nil
		}
	}
	return "", false, nil
}

// CreatePlan creates the usage plan with its plan-level throttle and
// quota, bound to the deployed stage.
func (c *PolicyClient) CreatePlan(ctx context.Context, spec domain.UsagePlanSpec, apiID, stage string) (string, error) {
	out, err := c.api.CreateUsagePlan(ctx, &apigateway.CreateUsagePlanInput{
		Name: aws.String(spec.Name),
		Throttle: &apitypes.ThrottleSettings{
			BurstLimit: spec.BurstLimit,
			RateLimit:  spec.RateLimit,
		},
		Quota: &apitypes.QuotaSettings{
			Limit:  spec.QuotaLimit,
			Period: apitypes.QuotaPeriodType(spec.QuotaPeriod),
		},
		ApiStages: []apitypes.ApiStage{
			{ApiId: aws.String(apiID), Stage: aws.String(stage)},
		},
	})
	if err != nil {
		return "", classify("CreateUsagePlan", spec.Name, err)
	}
	id := aws.ToString(out.Id)
	c.logger.Info("usage plan created", "plan", spec.Name, "plan_id", id)
	return id, nil
}

// UpdatePlan brings an existing plan's throttle and quota to the desired
// values. Stage bindings and key associations are left untouched.
func (c *PolicyClient) UpdatePlan(ctx context.Context, id string, spec domain.UsagePlanSpec) error {
	ops := []apitypes.PatchOperation{
		{Op: apitypes.OpReplace, Path: aws.String("/throttle/burstLimit"), Value: aws.String(strconv.Itoa(int(spec.BurstLimit)))},
		{Op: apitypes.OpReplace, Path: aws.String("/throttle/rateLimit"), Value: aws.String(formatRate(spec.RateLimit))},
		{Op: apitypes.OpReplace, Path: aws.String("/quota/limit"), Value: aws.String(strconv.Itoa(int(spec.QuotaLimit)))},
		{Op: apitypes.OpReplace, Path: aws.String("/quota/period"), Value: aws.String(spec.QuotaPeriod)},
	}
	_, err := c.api.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{
		UsagePlanId:     aws.String(id),
		PatchOperations: ops,
	})
	if err != nil {
		return classify("UpdateUsagePlan", id, err)
	}
	c.logger.Info("usage plan updated", "plan_id", id)
	return nil
}

// ProbeKey finds an API key by exact name.
func (c *PolicyClient) ProbeKey(ctx context.Context, name string) (string, bool, error) {
	out, err := c.api.GetApiKeys(ctx, &apigateway.GetApiKeysInput{
		NameQuery: aws.String(name),
	})
	if err != nil {
		return "", false, classify("GetApiKeys", name, err)
	}
	for _, item := range out.Items {
		if aws.ToString(item.Name) == name {
			return aws.ToString(item.Id), true, nil
		}
	}
	return "", false, nil
}

// CreateKey creates an enabled API key; the provider generates the
// credential value.
func (c *PolicyClient) CreateKey(ctx context.Context, spec domain.APIKeySpec) (string, string, error) {
	out, err := c.api.CreateApiKey(ctx, &apigateway.CreateApiKeyInput{
		Name:    aws.String(spec.Name),
		Enabled: true,
	})
	if err != nil {
		return "", "", classify("CreateApiKey", spec.Name, err)
	}
	id := aws.ToString(out.Id)
	c.logger.Info("api key created", "key", spec.Name, "key_id", id)
	return id, aws.ToString(out.Value), nil
}

// AssociateKey binds the key to the plan; an existing association is
// success.
func (c *PolicyClient) AssociateKey(ctx context.Context, planID, keyID string) error {
	_, err := c.api.CreateUsagePlanKey(ctx, &apigateway.CreateUsagePlanKeyInput{
		UsagePlanId: aws.String(planID),
		KeyId:       aws.String(keyID),
		KeyType:     aws.String("API_KEY"),
	})
	if err != nil {
		f := classify("CreateUsagePlanKey", keyID, err)
		if f.Kind == fault.KindAlreadyExists {
			c.logger.Debug("key already associated", "plan_id", planID, "key_id", keyID)
			return nil
		}
		return f
	}
	return nil
}

// ApplyMethodThrottle sets an independent burst/rate pair on one method
// of the bound stage. The value is applied as-is; it is not clamped to
// the plan ceiling.
func (c *PolicyClient) ApplyMethodThrottle(ctx context.Context, planID, apiID, stage string, t domain.MethodThrottle) error {
	prefix := methodThrottlePath(apiID, stage, t.Path, t.Verb)
	ops := []apitypes.PatchOperation{
		{Op: apitypes.OpReplace, Path: aws.String(prefix + "/burstLimit"), Value: aws.String(strconv.Itoa(int(t.BurstLimit)))},
		{Op: apitypes.OpReplace, Path: aws.String(prefix + "/rateLimit"), Value: aws.String(formatRate(t.RateLimit))},
	}
	_, err := c.api.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{
		UsagePlanId:     aws.String(planID),
		PatchOperations: ops,
	})
	if err != nil {
		return classify("UpdateUsagePlan", fmt.Sprintf("%s %s", t.Verb, t.Path), err)
	}
	c.logger.Info("method throttle applied",
		"plan_id", planID,
		"path", t.Path,
		"verb", t.Verb,
		"burst", t.BurstLimit,
		"rate", t.RateLimit,
	)
	return nil
}

// methodThrottlePath builds the JSON-pointer patch path for a per-method
// throttle override; slashes inside the resource path are escaped as ~1.
func methodThrottlePath(apiID, stage, path, verb string) string {
	escaped := strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "~1")
	return fmt.Sprintf("/apiStages/%s:%s/throttle/~1%s~1%s", apiID, stage, escaped, strings.ToUpper(verb))
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
