package plan

import (
	"strings"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// API Surface Expansion
// =============================================================================

// NodeOp creates one route node. Ops are emitted parent-first; an op for
// a given path appears at most once even when several leaves share the
// prefix. Execution probes for the node before creating it.
type NodeOp struct {
	Path       string // full rooted path, e.g. "/ai/tailor"
	ParentPath string // "/" for top-level segments
	PathPart   string
}

// MethodOp attaches one method to an already-created leaf node.
type MethodOp struct {
	Path   string
	Method domain.MethodSpec
}

// Surface is the ordered operation list for one desired route set.
// All node ops for a leaf's ancestor chain precede that leaf's method
// ops; node ops themselves are strictly parent-before-child.
type Surface struct {
	Nodes   []NodeOp
	Methods []MethodOp
}

// ExpandSurface decomposes every desired path into its segment chain and
// emits creation ops top-down, deduplicating shared prefixes. For every
// leaf it emits the declared methods plus one synthesized OPTIONS
// preflight method backed by a mock integration, so browser preflight
// checks never reach the compute target. Leaves that already declare
// OPTIONS keep their own.
func ExpandSurface(routes []domain.RouteSpec) (Surface, error) {
	if err := domain.ValidateRoutes(routes); err != nil {
		return Surface{}, err
	}

	var s Surface
	seen := make(map[string]bool)

	for _, r := range routes {
		segs := domain.SegmentChain(r.Path)
		parent := "/"
		full := ""
		for _, seg := range segs {
			full = full + "/" + seg
			if !seen[full] {
				seen[full] = true
				s.Nodes = append(s.Nodes, NodeOp{
					Path:       full,
					ParentPath: parent,
					PathPart:   seg,
				})
			}
			parent = full
		}

		leaf := domain.NormalizePath(r.Path)
		hasOptions := false
		for _, m := range r.Methods {
			if strings.EqualFold(m.Verb, "OPTIONS") {
				hasOptions = true
			}
			s.Methods = append(s.Methods, MethodOp{Path: leaf, Method: m})
		}
		if !hasOptions {
			s.Methods = append(s.Methods, MethodOp{Path: leaf, Method: PreflightMethod()})
		}
	}

	return s, nil
}

// PreflightMethod is the synthesized CORS preflight: a mock integration
// answering a fixed success status without invoking the compute target.
func PreflightMethod() domain.MethodSpec {
	return domain.MethodSpec{
		Verb:        "OPTIONS",
		AuthMode:    "NONE",
		Integration: domain.IntegrationMock,
	}
}
