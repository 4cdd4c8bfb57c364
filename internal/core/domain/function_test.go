package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Validate Tests
// =============================================================================

func TestFunctionSpecValidate(t *testing.T) {
	valid := FunctionSpec{
		Name:    "svc-a",
		Runtime: "python3.11",
		Handler: "app.main.handler",
		RoleARN: "arn:aws:iam::123456789012:role/svc-a-exec",
	}

	tests := []struct {
		name    string
		mutate  func(*FunctionSpec)
		wantErr error
	}{
		{"valid", func(s *FunctionSpec) {}, nil},
		{"missing name", func(s *FunctionSpec) { s.Name = "" }, ErrMissingName},
		{"missing runtime", func(s *FunctionSpec) { s.Runtime = "" }, ErrMissingRuntime},
		{"missing handler", func(s *FunctionSpec) { s.Handler = "" }, ErrMissingHandler},
		{"missing role", func(s *FunctionSpec) { s.RoleARN = "" }, ErrMissingRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_OmittedFieldsKeepObservedValues(t *testing.T) {
	observed := FunctionSpec{
		Name:       "svc-a",
		Runtime:    "python3.11",
		Handler:    "app.main.handler",
		MemoryMB:   512,
		TimeoutSec: 30,
		RoleARN:    "arn:aws:iam::123456789012:role/svc-a-exec",
		Env:        map[string]string{"LOG_LEVEL": "info"},
	}

	desired := FunctionSpec{
		Name:     "svc-a",
		MemoryMB: 1024,
	}

	merged := desired.Merge(observed)

	assert.Equal(t, int32(1024), merged.MemoryMB)
	// Everything the desired spec omitted stays as observed.
	assert.Equal(t, "python3.11", merged.Runtime)
	assert.Equal(t, "app.main.handler", merged.Handler)
	assert.Equal(t, int32(30), merged.TimeoutSec)
	assert.Equal(t, "arn:aws:iam::123456789012:role/svc-a-exec", merged.RoleARN)
	assert.Equal(t, "info", merged.Env["LOG_LEVEL"])
}

func TestMerge_EnvIsMergedKeyByKey(t *testing.T) {
	observed := FunctionSpec{
		Name: "svc-a",
		Env:  map[string]string{"LOG_LEVEL": "info", "REGION": "eu-west-1"},
	}
	desired := FunctionSpec{
		Name: "svc-a",
		Env:  map[string]string{"LOG_LEVEL": "debug", "MODEL": "gpt-4"},
	}

	merged := desired.Merge(observed)

	assert.Equal(t, "debug", merged.Env["LOG_LEVEL"])
	assert.Equal(t, "eu-west-1", merged.Env["REGION"])
	assert.Equal(t, "gpt-4", merged.Env["MODEL"])

	// The observed map must not be mutated by the merge.
	assert.Equal(t, "info", observed.Env["LOG_LEVEL"])
	assert.NotContains(t, observed.Env, "MODEL")
}

func TestMerge_LayersReplacedWhenSpecified(t *testing.T) {
	observed := FunctionSpec{
		Name:   "svc-a",
		Layers: []LayerRef{{Name: "deps", VersionARN: "arn:aws:lambda:eu-west-1:123456789012:layer:deps:1"}},
	}
	desired := FunctionSpec{
		Name:   "svc-a",
		Layers: []LayerRef{{Name: "deps", VersionARN: "arn:aws:lambda:eu-west-1:123456789012:layer:deps:2"}},
	}

	merged := desired.Merge(observed)
	require.Len(t, merged.Layers, 1)
	assert.Equal(t, "arn:aws:lambda:eu-west-1:123456789012:layer:deps:2", merged.Layers[0].VersionARN)
}

// =============================================================================
// Update Policy Tests
// =============================================================================

func TestParseUpdatePolicy(t *testing.T) {
	p, err := ParseUpdatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, UpdateInPlace, p)

	p, err = ParseUpdatePolicy("destructive_recreate")
	require.NoError(t, err)
	assert.Equal(t, UpdateDestructiveRecreate, p)

	_, err = ParseUpdatePolicy("yolo")
	assert.Error(t, err)
}
