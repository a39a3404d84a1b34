package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsWs/internal/platform/broker"
	"eventsWs/internal/platform/broker/brokertest"
	"eventsWs/internal/shared/auth"
)

func TestRegistryAttachAndDetach(t *testing.T) {
	table, err := NewCommandTable(DefaultCommands()...)
	require.NoError(t, err)
	bridge := broker.NewBridge(brokertest.NewConnection())
	signer := auth.NewSigner("salt", "secret")

	registry := NewRegistry()
	a := NewSession(nil, bridge, signer, table, SessionConfig{})
	b := NewSession(nil, bridge, signer, table, SessionConfig{})
	registry.Attach(a)
	registry.Attach(b)
	assert.Equal(t, 2, registry.Count())

	got, ok := registry.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	a.Close()
	assert.Equal(t, 1, registry.Count())
	_, ok = registry.Get(a.ID())
	assert.False(t, ok)

	registry.CloseAll()
	assert.Equal(t, 0, registry.Count())
	assert.True(t, b.closed())

	// Closing again after CloseAll is harmless.
	b.Close()
	registry.CloseAll()
	assert.Equal(t, 0, registry.Count())
}
