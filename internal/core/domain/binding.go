package domain

import "errors"

// =============================================================================
// Domain Binding
// =============================================================================

var (
	// ErrCertificateNotIssued means the certificate exists but has not
	// finished validation. Binding must not create any domain resource
	// in this state.
	ErrCertificateNotIssued = errors.New("certificate is not in issued state")

	// ErrCertificateNotFound means no certificate covers the requested
	// domain name.
	ErrCertificateNotFound = errors.New("no certificate found for domain")
)

// DomainBindingSpec is the desired custom-domain binding. Certificate
// issuance and DNS validation are external prerequisites; the binding
// only consumes an already-validated certificate.
type DomainBindingSpec struct {
	DomainName     string
	CertificateARN string // resolved from CertificateDomain when empty
	BasePath       string // "" maps the domain root
}

// DomainBinding is the observed binding. TargetDomain is the
// provider-assigned hostname the operator publishes as a CNAME.
type DomainBinding struct {
	DomainName   string
	TargetDomain string
	BasePath     string
}

// CertificateDescriptor is an observed certificate.
type CertificateDescriptor struct {
	ARN        string
	DomainName string
	Status     string
}

// Issued reports whether the certificate finished validation.
func (c CertificateDescriptor) Issued() bool {
	return c.Status == "ISSUED"
}
