package cloud

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
)

// =============================================================================
// Lambda Client (ComputeAPI + LayerAPI)
// =============================================================================

const (
	waitActiveTimeout  = 5 * time.Minute
	waitUpdatedTimeout = 5 * time.Minute
	waitDeletedPoll    = 2 * time.Second
	waitDeletedTries   = 60
)

// LambdaClient implements ComputeAPI and LayerAPI against AWS Lambda.
type LambdaClient struct {
	api    *lambda.Client
	logger *slog.Logger
}

// NewLambdaClient wraps an SDK client.
func NewLambdaClient(api *lambda.Client, logger *slog.Logger) *LambdaClient {
	return &LambdaClient{api: api, logger: logger.With("client", "lambda")}
}

// ProbeFunction looks up the function by name. A missing function is a
// normal branch, never an error.
func (c *LambdaClient) ProbeFunction(ctx context.Context, name string) (domain.FunctionDescriptor, bool, error) {
	out, err := c.api.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		f := classify("GetFunction", name, err)
		if f.Kind == fault.KindNotFound {
			return domain.FunctionDescriptor{}, false, nil
		}
		return domain.FunctionDescriptor{}, false, f
	}
	return descriptorFromConfig(out.Configuration), true, nil
}

// CreateFunction creates the function with the full desired descriptor.
func (c *LambdaClient) CreateFunction(ctx context.Context, spec domain.FunctionSpec, code CodeRef) (domain.FunctionDescriptor, error) {
	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		Runtime:      lambdatypes.Runtime(spec.Runtime),
		Handler:      aws.String(spec.Handler),
		Role:         aws.String(spec.RoleARN),
		Code:         functionCode(code),
	}
	if spec.MemoryMB != 0 {
		input.MemorySize = aws.Int32(spec.MemoryMB)
	}
	if spec.TimeoutSec != 0 {
		input.Timeout = aws.Int32(spec.TimeoutSec)
	}
	if len(spec.Layers) != 0 {
		input.Layers = spec.LayerARNs()
	}
	if len(spec.Env) != 0 {
		input.Environment = &lambdatypes.Environment{Variables: spec.Env}
	}

	out, err := c.api.CreateFunction(ctx, input)
	if err != nil {
		return domain.FunctionDescriptor{}, classify("CreateFunction", spec.Name, err)
	}

	c.logger.Info("function created", "function", spec.Name, "arn", aws.ToString(out.FunctionArn))
	return domain.FunctionDescriptor{
		ARN:   aws.ToString(out.FunctionArn),
		State: string(out.State),
	}, nil
}

// UpdateFunction applies an already-merged configuration, waits for the
// configuration update to settle, then updates the code.
func (c *LambdaClient) UpdateFunction(ctx context.Context, spec domain.FunctionSpec, code CodeRef) (domain.FunctionDescriptor, error) {
	cfgInput := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(spec.Name),
		Runtime:      lambdatypes.Runtime(spec.Runtime),
		Handler:      aws.String(spec.Handler),
		Role:         aws.String(spec.RoleARN),
	}
	if spec.MemoryMB != 0 {
		cfgInput.MemorySize = aws.Int32(spec.MemoryMB)
	}
	if spec.TimeoutSec != 0 {
		cfgInput.Timeout = aws.Int32(spec.TimeoutSec)
	}
	if len(spec.Layers) != 0 {
		cfgInput.Layers = spec.LayerARNs()
	}
	if len(spec.Env) != 0 {
		cfgInput.Environment = &lambdatypes.Environment{Variables: spec.Env}
	}

	if _, err := c.api.UpdateFunctionConfiguration(ctx, cfgInput); err != nil {
		return domain.FunctionDescriptor{}, classify("UpdateFunctionConfiguration", spec.Name, err)
	}
	if err := c.waitUpdated(ctx, spec.Name); err != nil {
		return domain.FunctionDescriptor{}, err
	}

	codeInput := &lambda.UpdateFunctionCodeInput{FunctionName: aws.String(spec.Name)}
	if code.Inline() {
		codeInput.ZipFile = code.Zip
	} else {
		codeInput.S3Bucket = aws.String(code.S3Bucket)
		codeInput.S3Key = aws.String(code.S3Key)
	}
	out, err := c.api.UpdateFunctionCode(ctx, codeInput)
	if err != nil {
		return domain.FunctionDescriptor{}, classify("UpdateFunctionCode", spec.Name, err)
	}
	if err := c.waitUpdated(ctx, spec.Name); err != nil {
		return domain.FunctionDescriptor{}, err
	}

	c.logger.Info("function updated", "function", spec.Name, "code_sha", aws.ToString(out.CodeSha256))
	return domain.FunctionDescriptor{
		ARN:     aws.ToString(out.FunctionArn),
		State:   string(out.State),
		CodeSHA: aws.ToString(out.CodeSha256),
		Spec:    spec,
	}, nil
}

// DeleteFunction removes the function; a function that is already gone
// is success.
func (c *LambdaClient) DeleteFunction(ctx context.Context, name string) error {
	_, err := c.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		f := classify("DeleteFunction", name, err)
		if f.Kind == fault.KindNotFound {
			c.logger.Info("function already deleted", "function", name)
			return nil
		}
		return f
	}
	c.logger.Info("function deleted", "function", name)
	return nil
}

// WaitActive blocks until the function reports Active.
func (c *LambdaClient) WaitActive(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionActiveV2Waiter(c.api)
	err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, waitActiveTimeout)
	if err != nil {
		return classify("WaitFunctionActive", name, err)
	}
	return nil
}

func (c *LambdaClient) waitUpdated(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionUpdatedV2Waiter(c.api)
	err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, waitUpdatedTimeout)
	if err != nil {
		return classify("WaitFunctionUpdated", name, err)
	}
	return nil
}

// WaitDeleted polls until the function no longer exists. The SDK ships
// no deleted-waiter, so this is a plain poll loop.
func (c *LambdaClient) WaitDeleted(ctx context.Context, name string) error {
	for i := 0; i < waitDeletedTries; i++ {
		_, found, err := c.ProbeFunction(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		select {
		case <-ctx.Done():
			return classify("WaitFunctionDeleted", name, ctx.Err())
		case <-time.After(waitDeletedPoll):
		}
	}
	return fault.New(fault.KindUnknown, "WaitFunctionDeleted", name, errors.New("timed out waiting for function deletion"))
}

// GrantInvoke allows the API front door to invoke the function. An
// existing identical statement is success.
func (c *LambdaClient) GrantInvoke(ctx context.Context, name, statementID, sourceARN string) error {
	_, err := c.api.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(name),
		StatementId:  aws.String(statementID),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String("apigateway.amazonaws.com"),
		SourceArn:    aws.String(sourceARN),
	})
	if err != nil {
		f := classify("AddPermission", name, err)
		if f.Kind == fault.KindAlreadyExists {
			c.logger.Debug("invoke permission already granted", "function", name, "statement", statementID)
			return nil
		}
		return f
	}
	return nil
}

// Invoke performs one synchronous invocation with the given payload.
func (c *LambdaClient) Invoke(ctx context.Context, name string, payload []byte) (InvokeResult, error) {
	out, err := c.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(name),
		Payload:      payload,
	})
	if err != nil {
		return InvokeResult{}, classify("Invoke", name, err)
	}
	return InvokeResult{
		StatusCode:    out.StatusCode,
		Payload:       out.Payload,
		FunctionError: aws.ToString(out.FunctionError),
	}, nil
}

// =============================================================================
// Layers
// =============================================================================

// PublishLayer publishes a new immutable layer version.
func (c *LambdaClient) PublishLayer(ctx context.Context, name, runtime string, code CodeRef) (domain.LayerRef, error) {
	content := &lambdatypes.LayerVersionContentInput{}
	if code.Inline() {
		content.ZipFile = code.Zip
	} else {
		content.S3Bucket = aws.String(code.S3Bucket)
		content.S3Key = aws.String(code.S3Key)
	}

	out, err := c.api.PublishLayerVersion(ctx, &lambda.PublishLayerVersionInput{
		LayerName:          aws.String(name),
		Content:            content,
		CompatibleRuntimes: []lambdatypes.Runtime{lambdatypes.Runtime(runtime)},
	})
	if err != nil {
		return domain.LayerRef{}, classify("PublishLayerVersion", name, err)
	}

	ref := domain.LayerRef{Name: name, VersionARN: aws.ToString(out.LayerVersionArn)}
	c.logger.Info("layer version published", "layer", name, "version_arn", ref.VersionARN)
	return ref, nil
}

// LatestLayer returns the most recently published version of a layer.
func (c *LambdaClient) LatestLayer(ctx context.Context, name string) (domain.LayerRef, bool, error) {
	out, err := c.api.ListLayerVersions(ctx, &lambda.ListLayerVersionsInput{
		LayerName: aws.String(name),
		MaxItems:  aws.Int32(1),
	})
	if err != nil {
		f := classify("ListLayerVersions", name, err)
		if f.Kind == fault.KindNotFound {
			return domain.LayerRef{}, false, nil
		}
		return domain.LayerRef{}, false, f
	}
	if len(out.LayerVersions) == 0 {
		return domain.LayerRef{}, false, nil
	}
	return domain.LayerRef{
		Name:       name,
		VersionARN: aws.ToString(out.LayerVersions[0].LayerVersionArn),
	}, true, nil
}

// =============================================================================
// Helpers
// =============================================================================

func functionCode(code CodeRef) *lambdatypes.FunctionCode {
	if code.Inline() {
		return &lambdatypes.FunctionCode{ZipFile: code.Zip}
	}
	return &lambdatypes.FunctionCode{
		S3Bucket: aws.String(code.S3Bucket),
		S3Key:    aws.String(code.S3Key),
	}
}

func descriptorFromConfig(cfg *lambdatypes.FunctionConfiguration) domain.FunctionDescriptor {
	if cfg == nil {
		return domain.FunctionDescriptor{}
	}
	d := domain.FunctionDescriptor{
		ARN:     aws.ToString(cfg.FunctionArn),
		State:   string(cfg.State),
		CodeSHA: aws.ToString(cfg.CodeSha256),
		Spec: domain.FunctionSpec{
			Name:       aws.ToString(cfg.FunctionName),
			Runtime:    string(cfg.Runtime),
			Handler:    aws.ToString(cfg.Handler),
			MemoryMB:   aws.ToInt32(cfg.MemorySize),
			TimeoutSec: aws.ToInt32(cfg.Timeout),
			RoleARN:    aws.ToString(cfg.Role),
		},
	}
	for _, l := range cfg.Layers {
		d.Spec.Layers = append(d.Spec.Layers, domain.LayerRef{VersionARN: aws.ToString(l.Arn)})
	}
	if cfg.Environment != nil {
		d.Spec.Env = cfg.Environment.Variables
	}
	return d
}
