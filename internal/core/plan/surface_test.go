package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// Surface Expansion Tests
// =============================================================================

func TestExpandSurface_ParentBeforeChild(t *testing.T) {
	routes := []domain.RouteSpec{
		{Path: "/a/b/c", Methods: []domain.MethodSpec{
			{Verb: "POST", AuthMode: "NONE", Integration: domain.IntegrationProxy},
		}},
	}

	s, err := ExpandSurface(routes)
	require.NoError(t, err)

	require.Len(t, s.Nodes, 3)
	assert.Equal(t, NodeOp{Path: "/a", ParentPath: "/", PathPart: "a"}, s.Nodes[0])
	assert.Equal(t, NodeOp{Path: "/a/b", ParentPath: "/a", PathPart: "b"}, s.Nodes[1])
	assert.Equal(t, NodeOp{Path: "/a/b/c", ParentPath: "/a/b", PathPart: "c"}, s.Nodes[2])

	// Exactly one POST and one synthesized OPTIONS, both on the leaf only.
	require.Len(t, s.Methods, 2)
	assert.Equal(t, "/a/b/c", s.Methods[0].Path)
	assert.Equal(t, "POST", s.Methods[0].Method.Verb)
	assert.Equal(t, "/a/b/c", s.Methods[1].Path)
	assert.Equal(t, "OPTIONS", s.Methods[1].Method.Verb)
	assert.Equal(t, domain.IntegrationMock, s.Methods[1].Method.Integration)
}

func TestExpandSurface_SharedPrefixCreatedOnce(t *testing.T) {
	post := []domain.MethodSpec{{Verb: "POST", Integration: domain.IntegrationProxy}}
	routes := []domain.RouteSpec{
		{Path: "/ai/tailor", Methods: post},
		{Path: "/ai/rephrase-section", Methods: post},
		{Path: "/ai/recommend-template", Methods: post},
	}

	s, err := ExpandSurface(routes)
	require.NoError(t, err)

	var aiNodes int
	for _, n := range s.Nodes {
		if n.Path == "/ai" {
			aiNodes++
		}
	}
	assert.Equal(t, 1, aiNodes, "shared prefix node must be planned exactly once")
	assert.Len(t, s.Nodes, 4) // /ai + three leaves
}

func TestExpandSurface_DeclaredOptionsNotDuplicated(t *testing.T) {
	routes := []domain.RouteSpec{
		{Path: "/hook", Methods: []domain.MethodSpec{
			{Verb: "POST", Integration: domain.IntegrationProxy},
			{Verb: "options", Integration: domain.IntegrationProxy},
		}},
	}

	s, err := ExpandSurface(routes)
	require.NoError(t, err)

	var options int
	for _, m := range s.Methods {
		if m.Method.Verb == "OPTIONS" || m.Method.Verb == "options" {
			options++
		}
	}
	assert.Equal(t, 1, options)
}

func TestExpandSurface_RootPathHasNoNodes(t *testing.T) {
	routes := []domain.RouteSpec{
		{Path: "/", Methods: []domain.MethodSpec{{Verb: "GET", Integration: domain.IntegrationProxy}}},
	}

	s, err := ExpandSurface(routes)
	require.NoError(t, err)

	assert.Empty(t, s.Nodes)
	require.Len(t, s.Methods, 2)
	assert.Equal(t, "/", s.Methods[0].Path)
}

func TestExpandSurface_RejectsInvalidRoutes(t *testing.T) {
	_, err := ExpandSurface([]domain.RouteSpec{{Path: "/x"}})
	assert.ErrorIs(t, err, domain.ErrNoMethods)
}

// =============================================================================
// Decision Tests
// =============================================================================

func TestDecide(t *testing.T) {
	assert.Equal(t, ActionCreate, Decide(false))
	assert.Equal(t, ActionUpdate, Decide(true))
}

// =============================================================================
// CORS Tests
// =============================================================================

func TestAllowedMethods(t *testing.T) {
	methods := []domain.MethodSpec{
		{Verb: "post"},
		{Verb: "GET"},
		{Verb: "POST"},
	}
	assert.Equal(t, "GET,OPTIONS,POST", AllowedMethods(methods))
}

func TestResponseHeaderValues(t *testing.T) {
	cfg := domain.CORSConfig{AllowOrigin: "*", AllowHeaders: []string{"Content-Type", "Authorization"}}
	values := ResponseHeaderValues(cfg, []domain.MethodSpec{{Verb: "POST"}})

	assert.Equal(t, "'*'", values[HeaderAllowOrigin])
	assert.Equal(t, "'Content-Type,Authorization'", values[HeaderAllowHeaders])
	assert.Equal(t, "'OPTIONS,POST'", values[HeaderAllowMethods])
}
