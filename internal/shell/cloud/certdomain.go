package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/skylift/skylift/internal/core/domain"
	"github.com/skylift/skylift/internal/core/fault"
)

// =============================================================================
// Certificate / Domain Client (CertDomainAPI)
// =============================================================================

// CertDomainClient implements CertDomainAPI against ACM and API Gateway
// custom domains. It never issues or validates certificates; those are
// external prerequisites.
type CertDomainClient struct {
	acm    *acm.Client
	api    *apigateway.Client
	logger *slog.Logger
}

// NewCertDomainClient wraps the two SDK clients.
func NewCertDomainClient(acmClient *acm.Client, apiClient *apigateway.Client, logger *slog.Logger) *CertDomainClient {
	return &CertDomainClient{acm: acmClient, api: apiClient, logger: logger.With("client", "certdomain")}
}

// LookupCertificate finds the certificate covering domainName, exactly
// or via a wildcard on the parent domain. Returns the certificate with
// its status; the caller decides whether a non-issued certificate is
// acceptable (for binding it is not).
func (c *CertDomainClient) LookupCertificate(ctx context.Context, domainName string) (domain.CertificateDescriptor, error) {
	out, err := c.acm.ListCertificates(ctx, &acm.ListCertificatesInput{
		CertificateStatuses: []acmtypes.CertificateStatus{
			acmtypes.CertificateStatusIssued,
			acmtypes.CertificateStatusPendingValidation,
		},
	})
	if err != nil {
		return domain.CertificateDescriptor{}, classify("ListCertificates", domainName, err)
	}

	for _, summary := range out.CertificateSummaryList {
		if !certCovers(aws.ToString(summary.DomainName), domainName) {
			continue
		}
		desc, err := c.acm.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: summary.CertificateArn,
		})
		if err != nil {
			return domain.CertificateDescriptor{}, classify("DescribeCertificate", domainName, err)
		}
		return domain.CertificateDescriptor{
			ARN:        aws.ToString(summary.CertificateArn),
			DomainName: aws.ToString(summary.DomainName),
			Status:     string(desc.Certificate.Status),
		}, nil
	}

	return domain.CertificateDescriptor{}, fault.New(fault.KindNotFound, "LookupCertificate", domainName, domain.ErrCertificateNotFound)
}

// DescribeCertificate reads back one certificate by reference.
func (c *CertDomainClient) DescribeCertificate(ctx context.Context, arn string) (domain.CertificateDescriptor, error) {
	out, err := c.acm.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return domain.CertificateDescriptor{}, classify("DescribeCertificate", arn, err)
	}
	return domain.CertificateDescriptor{
		ARN:        arn,
		DomainName: aws.ToString(out.Certificate.DomainName),
		Status:     string(out.Certificate.Status),
	}, nil
}

// certCovers reports whether certDomain covers target, either exactly or
// as a wildcard over the immediate parent.
func certCovers(certDomain, target string) bool {
	if certDomain == target {
		return true
	}
	if strings.HasPrefix(certDomain, "*.") {
		parent := strings.TrimPrefix(certDomain, "*.")
		if idx := strings.Index(target, "."); idx > 0 && target[idx+1:] == parent {
			return true
		}
	}
	return false
}

// ProbeDomain looks up an existing custom domain.
func (c *CertDomainClient) ProbeDomain(ctx context.Context, domainName string) (domain.DomainBinding, bool, error) {
	out, err := c.api.GetDomainName(ctx, &apigateway.GetDomainNameInput{
		DomainName: aws.String(domainName),
	})
	if err != nil {
		f := classify("GetDomainName", domainName, err)
		if f.Kind == fault.KindNotFound {
			return domain.DomainBinding{}, false, nil
		}
		return domain.DomainBinding{}, false, f
	}
	return domain.DomainBinding{
		DomainName:   aws.ToString(out.DomainName),
		TargetDomain: targetDomainOf(aws.ToString(out.RegionalDomainName), aws.ToString(out.DistributionDomainName)),
	}, true, nil
}

// CreateDomain creates the custom domain bound to the certificate and
// reads back the provider-assigned target domain (the CNAME target the
// operator must publish).
func (c *CertDomainClient) CreateDomain(ctx context.Context, spec domain.DomainBindingSpec) (domain.DomainBinding, error) {
	out, err := c.api.CreateDomainName(ctx, &apigateway.CreateDomainNameInput{
		DomainName:             aws.String(spec.DomainName),
		RegionalCertificateArn: aws.String(spec.CertificateARN),
		EndpointConfiguration: &apitypes.EndpointConfiguration{
			Types: []apitypes.EndpointType{apitypes.EndpointTypeRegional},
		},
	})
	if err != nil {
		return domain.DomainBinding{}, classify("CreateDomainName", spec.DomainName, err)
	}

	binding := domain.DomainBinding{
		DomainName:   aws.ToString(out.DomainName),
		TargetDomain: targetDomainOf(aws.ToString(out.RegionalDomainName), aws.ToString(out.DistributionDomainName)),
		BasePath:     spec.BasePath,
	}
	c.logger.Info("custom domain created",
		"domain", binding.DomainName,
		"target_domain", binding.TargetDomain,
	)
	return binding, nil
}

// CreateBasePathMapping maps the custom domain onto the deployed stage.
// An existing identical mapping is success.
func (c *CertDomainClient) CreateBasePathMapping(ctx context.Context, domainName, basePath, apiID, stage string) error {
	input := &apigateway.CreateBasePathMappingInput{
		DomainName: aws.String(domainName),
		RestApiId:  aws.String(apiID),
		Stage:      aws.String(stage),
	}
	if basePath != "" {
		input.BasePath = aws.String(basePath)
	}
	_, err := c.api.CreateBasePathMapping(ctx, input)
	if err != nil {
		f := classify("CreateBasePathMapping", domainName, err)
		if f.Kind == fault.KindAlreadyExists {
			c.logger.Debug("base path mapping already exists", "domain", domainName, "base_path", basePath)
			return nil
		}
		return f
	}
	c.logger.Info("base path mapping created",
		"domain", domainName,
		"base_path", basePath,
		"api_id", apiID,
		"stage", stage,
	)
	return nil
}

func targetDomainOf(regional, distribution string) string {
	if regional != "" {
		return regional
	}
	return distribution
}

// CNAMEInstruction renders the one-line DNS instruction shown to the
// operator after binding.
func CNAMEInstruction(b domain.DomainBinding) string {
	return fmt.Sprintf("CNAME %s -> %s", b.DomainName, b.TargetDomain)
}
