package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Route Errors
// =============================================================================

var (
	ErrEmptyPath      = errors.New("route path is empty")
	ErrDuplicateRoute = errors.New("duplicate route path")
	ErrNoMethods      = errors.New("leaf route declares no methods")
)

// =============================================================================
// Methods
// =============================================================================

// IntegrationKind selects how a method is backed.
type IntegrationKind string

const (
	// IntegrationProxy forwards the full request to the compute target.
	IntegrationProxy IntegrationKind = "proxy"

	// IntegrationMock answers from a static template without invoking
	// anything. Used for synthesized CORS preflight methods.
	IntegrationMock IntegrationKind = "mock"
)

// MethodSpec is one HTTP method attached to a route node.
type MethodSpec struct {
	Verb        string
	AuthMode    string // e.g. "NONE", "AWS_IAM"
	Integration IntegrationKind
	KeyRequired bool
}

// =============================================================================
// Route Specs
// =============================================================================

// RouteSpec is one desired leaf path with its methods. Paths are
// slash-delimited and rooted ("/ai/tailor").
type RouteSpec struct {
	Path    string
	Methods []MethodSpec
}

// SegmentChain splits a rooted path into its ordered path parts.
// The root itself ("/") yields an empty chain.
func SegmentChain(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// NormalizePath canonicalizes a route path to rooted form with no
// trailing slash.
func NormalizePath(path string) string {
	segs := SegmentChain(path)
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// ValidateRoutes checks a desired route set: non-empty paths, no
// duplicate leaves, and at least one method per leaf.
func ValidateRoutes(routes []RouteSpec) error {
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		p := NormalizePath(r.Path)
		if r.Path == "" {
			return ErrEmptyPath
		}
		if seen[p] {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, p)
		}
		seen[p] = true
		if len(r.Methods) == 0 {
			return fmt.Errorf("%w: %s", ErrNoMethods, p)
		}
	}
	return nil
}

// =============================================================================
// Route Nodes
// =============================================================================

// RouteNode is one segment of the deployed routing tree, observed or
// planned. A node's lifetime is bound to its parent: the provider removes
// the subtree when the parent is removed, and a child can only be created
// once its parent exists.
type RouteNode struct {
	ID       string // provider-assigned resource id, empty until created
	ParentID string
	PathPart string
	FullPath string
	Methods  map[string]bool // verbs already attached, uppercased
}
