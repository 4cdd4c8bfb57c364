package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Path Helpers
// =============================================================================

func TestSegmentChain(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{"root", "/", nil},
		{"single", "/health", []string{"health"}},
		{"nested", "/ai/tailor", []string{"ai", "tailor"}},
		{"trailing slash", "/ai/tailor/", []string{"ai", "tailor"}},
		{"no leading slash", "ai/tailor", []string{"ai", "tailor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentChain(tt.path))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", NormalizePath("/"))
	assert.Equal(t, "/ai/tailor", NormalizePath("ai/tailor/"))
}

// =============================================================================
// Route Validation
// =============================================================================

func TestValidateRoutes(t *testing.T) {
	post := MethodSpec{Verb: "POST", AuthMode: "NONE", Integration: IntegrationProxy}

	err := ValidateRoutes([]RouteSpec{
		{Path: "/ai/tailor", Methods: []MethodSpec{post}},
		{Path: "/health", Methods: []MethodSpec{{Verb: "GET", Integration: IntegrationProxy}}},
	})
	assert.NoError(t, err)

	err = ValidateRoutes([]RouteSpec{
		{Path: "/ai/tailor", Methods: []MethodSpec{post}},
		{Path: "ai/tailor/", Methods: []MethodSpec{post}},
	})
	assert.ErrorIs(t, err, ErrDuplicateRoute)

	err = ValidateRoutes([]RouteSpec{{Path: "/ai/tailor"}})
	assert.ErrorIs(t, err, ErrNoMethods)

	err = ValidateRoutes([]RouteSpec{{Path: "", Methods: []MethodSpec{post}}})
	assert.ErrorIs(t, err, ErrEmptyPath)
}
