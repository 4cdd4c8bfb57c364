package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
)

// =============================================================================
// Routing Client (RoutingAPI)
// =============================================================================

// RoutingClient implements RoutingAPI against API Gateway REST APIs.
type RoutingClient struct {
	api    *apigateway.Client
	region string
	logger *slog.Logger
}

// NewRoutingClient wraps an SDK client. The region is needed to build
// integration URIs.
func NewRoutingClient(api *apigateway.Client, region string, logger *slog.Logger) *RoutingClient {
	return &RoutingClient{api: api, region: region, logger: logger.With("client", "apigateway")}
}

// ProbeAPI finds an API container by name. Names are not unique on the
// provider side; the first match wins, which is stable as long as the
// deployer is the only writer.
func (c *RoutingClient) ProbeAPI(ctx context.Context, name string) (string, bool, error) {
	out, err := c.api.GetRestApis(ctx, &apigateway.GetRestApisInput{Limit: aws.Int32(500)})
	if err != nil {
		return "", false, classify("GetRestApis", name, err)
	}
	for _, item := range out.Items {
		if aws.ToString(item.Name) == name {
			return aws.ToString(item.Id), true, nil
		}
	}
	return "", false, nil
}

// CreateAPI creates a regional API container.
func (c *RoutingClient) CreateAPI(ctx context.Context, name string) (string, error) {
	out, err := c.api.CreateRestApi(ctx, &apigateway.CreateRestApiInput{
		Name: aws.String(name),
		EndpointConfiguration: &apitypes.EndpointConfiguration{
			Types: []apitypes.EndpointType{apitypes.EndpointTypeRegional},
		},
	})
	if err != nil {
		return "", classify("CreateRestApi", name, err)
	}
	id := aws.ToString(out.Id)
	c.logger.Info("api created", "api", name, "api_id", id)
	return id, nil
}

// ListNodes returns the observed resource tree keyed by full path.
func (c *RoutingClient) ListNodes(ctx context.Context, apiID string) (map[string]domain.RouteNode, error) {
	out, err := c.api.GetResources(ctx, &apigateway.GetResourcesInput{
		RestApiId: aws.String(apiID),
		Limit:     aws.Int32(500),
	})
	if err != nil {
		return nil, classify("GetResources", apiID, err)
	}

	nodes := make(map[string]domain.RouteNode, len(out.Items))
	for _, item := range out.Items {
		node := domain.RouteNode{
			ID:       aws.ToString(item.Id),
			ParentID: aws.ToString(item.ParentId),
			PathPart: aws.ToString(item.PathPart),
			FullPath: aws.ToString(item.Path),
		}
		if len(item.ResourceMethods) != 0 {
			node.Methods = make(map[string]bool, len(item.ResourceMethods))
			for verb := range item.ResourceMethods {
				node.Methods[verb] = true
			}
		}
		nodes[node.FullPath] = node
	}
	return nodes, nil
}

// CreateNode creates one path segment under an existing parent.
func (c *RoutingClient) CreateNode(ctx context.Context, apiID, parentID, pathPart string) (domain.RouteNode, error) {
	out, err := c.api.CreateResource(ctx, &apigateway.CreateResourceInput{
		RestApiId: aws.String(apiID),
		ParentId:  aws.String(parentID),
		PathPart:  aws.String(pathPart),
	})
	if err != nil {
		return domain.RouteNode{}, classify("CreateResource", pathPart, err)
	}
	node := domain.RouteNode{
		ID:       aws.ToString(out.Id),
		ParentID: aws.ToString(out.ParentId),
		PathPart: aws.ToString(out.PathPart),
		FullPath: aws.ToString(out.Path),
	}
	c.logger.Debug("route node created", "path", node.FullPath, "resource_id", node.ID)
	return node, nil
}

// PutProxyMethod attaches a method that proxies the full request to the
// compute target, with the CORS allow-list on its responses.
func (c *RoutingClient) PutProxyMethod(ctx context.Context, apiID, resourceID string, m domain.MethodSpec, functionARN string, cors map[string]string) error {
	verb := m.Verb
	auth := m.AuthMode
	if auth == "" {
		auth = "NONE"
	}

	_, err := c.api.PutMethod(ctx, &apigateway.PutMethodInput{
		RestApiId:         aws.String(apiID),
		ResourceId:        aws.String(resourceID),
		HttpMethod:        aws.String(verb),
		AuthorizationType: aws.String(auth),
		ApiKeyRequired:    m.KeyRequired,
	})
	if err != nil {
		f := classify("PutMethod", verb, err)
		if f.Kind != fault.KindAlreadyExists {
			return f
		}
	}

	uri := fmt.Sprintf(
		"arn:aws:apigateway:%s:lambda:path/2015-03-31/functions/%s/invocations",
		c.region, functionARN,
	)
	// Lambda proxy integrations are always invoked with POST regardless
	// of the client-facing verb.
	_, err = c.api.PutIntegration(ctx, &apigateway.PutIntegrationInput{
		RestApiId:             aws.String(apiID),
		ResourceId:            aws.String(resourceID),
		HttpMethod:            aws.String(verb),
		Type:                  apitypes.IntegrationTypeAwsProxy,
		IntegrationHttpMethod: aws.String("POST"),
		Uri:                   aws.String(uri),
	})
	if err != nil {
		return classify("PutIntegration", verb, err)
	}

	if err := c.putCORSResponses(ctx, apiID, resourceID, verb, cors, false); err != nil {
		return err
	}
	return nil
}

// PutMockMethod attaches a static preflight method: a mock integration
// answering 200 with the CORS headers, never invoking compute.
func (c *RoutingClient) PutMockMethod(ctx context.Context, apiID, resourceID, verb string, cors map[string]string) error {
	_, err := c.api.PutMethod(ctx, &apigateway.PutMethodInput{
		RestApiId:         aws.String(apiID),
		ResourceId:        aws.String(resourceID),
		HttpMethod:        aws.String(verb),
		AuthorizationType: aws.String("NONE"),
	})
	if err != nil {
		f := classify("PutMethod", verb, err)
		if f.Kind != fault.KindAlreadyExists {
			return f
		}
	}

	_, err = c.api.PutIntegration(ctx, &apigateway.PutIntegrationInput{
		RestApiId:  aws.String(apiID),
		ResourceId: aws.String(resourceID),
		HttpMethod: aws.String(verb),
		Type:       apitypes.IntegrationTypeMock,
		RequestTemplates: map[string]string{
			"application/json": `{"statusCode": 200}`,
		},
	})
	if err != nil {
		return classify("PutIntegration", verb, err)
	}

	return c.putCORSResponses(ctx, apiID, resourceID, verb, cors, true)
}

// putCORSResponses declares the 200 method response with the CORS header
// allow-list and, for mock integrations, the static integration response
// carrying the header values.
func (c *RoutingClient) putCORSResponses(ctx context.Context, apiID, resourceID, verb string, cors map[string]string, mock bool) error {
	responseParams := make(map[string]bool, len(cors))
	for header := range cors {
		responseParams["method.response.header."+header] = true
	}

	_, err := c.api.PutMethodResponse(ctx, &apigateway.PutMethodResponseInput{
		RestApiId:          aws.String(apiID),
		ResourceId:         aws.String(resourceID),
		HttpMethod:         aws.String(verb),
		StatusCode:         aws.String("200"),
		ResponseParameters: responseParams,
	})
	if err != nil {
		f := classify("PutMethodResponse", verb, err)
		if f.Kind != fault.KindAlreadyExists {
			return f
		}
	}

	if !mock {
		// Proxy integrations pass headers through from the function; only
		// the method response declaration is needed.
		return nil
	}

	integrationParams := make(map[string]string, len(cors))
	for header, value := range cors {
		integrationParams["method.response.header."+header] = value
	}
	_, err = c.api.PutIntegrationResponse(ctx, &apigateway.PutIntegrationResponseInput{
		RestApiId:          aws.String(apiID),
		ResourceId:         aws.String(resourceID),
		HttpMethod:         aws.String(verb),
		StatusCode:         aws.String("200"),
		ResponseParameters: integrationParams,
		ResponseTemplates:  map[string]string{"application/json": ""},
	})
	if err != nil {
		f := classify("PutIntegrationResponse", verb, err)
		if f.Kind != fault.KindAlreadyExists {
			return f
		}
	}
	return nil
}

// DeployStage publishes the current resource tree to a stage.
func (c *RoutingClient) DeployStage(ctx context.Context, apiID, stage string) error {
	_, err := c.api.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId: aws.String(apiID),
		StageName: aws.String(stage),
	})
	if err != nil {
		return classify("CreateDeployment", stage, err)
	}
	c.logger.Info("stage deployed", "api_id", apiID, "stage", stage)
	return nil
}

// InvokeURL is the public endpoint of a deployed stage.
func (c *RoutingClient) InvokeURL(apiID, stage string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, c.region, stage)
}

// ExecuteARN is the source ARN pattern used for invoke permission grants,
// covering every method and path of the API.
func ExecuteARN(region, accountID, apiID string) string {
	return fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/*/*/*", region, accountID, apiID)
}
