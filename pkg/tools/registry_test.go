package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name    string
	caps    []string
	healthy bool
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Capabilities() []string  { return f.caps }
func (f *fakeTool) Manifest() Manifest {
	return Manifest{Name: f.name, Capabilities: f.caps}
}
func (f *fakeTool) HealthCheck(context.Context) error {
	if !f.healthy {
		return errors.New("down")
	}
	return nil
}
func (f *fakeTool) Invoke(context.Context, Call) (*Result, error) {
	return &Result{Text: f.name}, nil
}

func TestRegistryRegisterDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "a", caps: []string{CapReasoning}}))
	err := r.Register(&fakeTool{name: "a", caps: []string{CapVision}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "brain", caps: []string{CapReasoning, CapSynthesis}}))
	require.NoError(t, r.Register(&fakeTool{name: "search", caps: []string{CapWebSearch}}))

	resolved, err := r.Resolve([]string{CapReasoning, CapWebSearch}, []string{CapAnalysis})
	require.NoError(t, err)
	assert.Equal(t, "brain", resolved[CapReasoning].Name())
	assert.Equal(t, "search", resolved[CapWebSearch].Name())
	// Optional capability with no provider is omitted, not an error.
	_, ok := resolved[CapAnalysis]
	assert.False(t, ok)
}

func TestRegistryResolveMissingRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "brain", caps: []string{CapReasoning}}))

	_, err := r.Resolve([]string{CapReasoning, CapVision, CapWebSearch}, nil)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, []string{CapVision, CapWebSearch}, capErr.Missing)
}

func TestRegistryFirstRegisteredWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "first", caps: []string{CapReasoning}}))
	require.NoError(t, r.Register(&fakeTool{name: "second", caps: []string{CapReasoning}}))

	assert.Equal(t, "first", r.GetByCapability(CapReasoning).Name())

	resolved, err := r.ResolveWithPreference([]string{CapReasoning}, nil, map[string]string{CapReasoning: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", resolved[CapReasoning].Name())
}

func TestRegistryHealthProbe(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "up", caps: []string{CapReasoning}, healthy: true}))
	require.NoError(t, r.Register(&fakeTool{name: "down", caps: []string{CapWebSearch}}))

	health := r.HealthProbe(context.Background())
	assert.True(t, health["up"])
	assert.False(t, health["down"])
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "zeta", caps: []string{CapVision}}))
	require.NoError(t, r.Register(&fakeTool{name: "alpha", caps: []string{CapReasoning}}))
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}
