package domain

// =============================================================================
// Usage Plan & Keys
// =============================================================================

// UsagePlanSpec is the desired plan-level throttle and quota policy.
type UsagePlanSpec struct {
	Name        string
	BurstLimit  int32
	RateLimit   float64
	QuotaLimit  int32
	QuotaPeriod string // DAY, WEEK or MONTH
}

// APIKeySpec is the desired access key. The opaque credential value is
// generated by the provider; only the name is chosen here.
type APIKeySpec struct {
	Name string
}

// MethodThrottle is a per-method burst/rate override for one leaf path.
// It is an independent numeric pair applied directly to the method; it is
// deliberately not derived from or clamped to the plan-level ceiling.
type MethodThrottle struct {
	Path       string
	Verb       string
	BurstLimit int32
	RateLimit  float64
}

// ExceedsPlan reports whether the override is looser than the plan
// ceiling. Allowed, but worth a warning in the stage log.
func (m MethodThrottle) ExceedsPlan(plan UsagePlanSpec) bool {
	return m.BurstLimit > plan.BurstLimit || m.RateLimit > plan.RateLimit
}

// PolicyDescriptor is the observed policy state after APPLY_POLICY.
type PolicyDescriptor struct {
	PlanID   string
	KeyID    string
	KeyValue string
}
