package cloud

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// =============================================================================
// Client Factory
// =============================================================================

// Credentials are the static provider credentials for one run.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Clients bundles the typed clients the pipeline needs, all targeting
// one region with one set of credentials.
type Clients struct {
	Compute  *LambdaClient
	Routing  *RoutingClient
	Policy   *PolicyClient
	Domains  *CertDomainClient
	Artifact *S3Store
	Region   string
}

// NewClients builds the full client set.
func NewClients(region string, creds Credentials, bucket, prefix string, logger *slog.Logger) *Clients {
	provider := credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")

	lambdaAPI := lambda.New(lambda.Options{Region: region, Credentials: provider})
	gatewayAPI := apigateway.New(apigateway.Options{Region: region, Credentials: provider})
	acmAPI := acm.New(acm.Options{Region: region, Credentials: provider})
	s3API := s3.New(s3.Options{Region: region, Credentials: provider})

	return &Clients{
		Compute:  NewLambdaClient(lambdaAPI, logger),
		Routing:  NewRoutingClient(gatewayAPI, region, logger),
		Policy:   NewPolicyClient(gatewayAPI, logger),
		Domains:  NewCertDomainClient(acmAPI, gatewayAPI, logger),
		Artifact: NewS3Store(s3API, bucket, prefix, logger),
		Region:   region,
	}
}
