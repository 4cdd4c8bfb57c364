package plan

import (
	"sort"
	"strings"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// CORS Response Headers
// =============================================================================

const (
	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
)

// DefaultCORS matches the deployed application's own CORS middleware, so
// gateway responses and application responses advertise the same policy.
func DefaultCORS() domain.CORSConfig {
	return domain.CORSConfig{
		AllowOrigin:  "*",
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}
}

// AllowedMethods lists the verbs advertised on a leaf's preflight
// response: every declared verb plus OPTIONS, deduplicated and sorted.
func AllowedMethods(methods []domain.MethodSpec) string {
	set := map[string]bool{"OPTIONS": true}
	for _, m := range methods {
		set[strings.ToUpper(m.Verb)] = true
	}
	verbs := make([]string, 0, len(set))
	for v := range set {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return strings.Join(verbs, ",")
}

// ResponseHeaderValues renders the CORS header values attached to a
// method's integration response.
func ResponseHeaderValues(cfg domain.CORSConfig, methods []domain.MethodSpec) map[string]string {
	return map[string]string{
		HeaderAllowOrigin:  quote(cfg.AllowOrigin),
		HeaderAllowHeaders: quote(strings.Join(cfg.AllowHeaders, ",")),
		HeaderAllowMethods: quote(AllowedMethods(methods)),
	}
}

// quote wraps a static mapping value the way the gateway expects
// (single-quoted literal, as opposed to a request-derived expression).
func quote(v string) string {
	return "'" + v + "'"
}
