package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareEventForwardsForeignEvents(t *testing.T) {
	out, outcome, err := PrepareEvent([]byte(`{"session_id":"xyz"}`), "projects.1", "abc")
	require.NoError(t, err)
	assert.Equal(t, EventForward, outcome)
	assert.JSONEq(t, `{"session_id":"xyz","routing_key":"projects.1"}`, string(out))
}

func TestPrepareEventSuppressesOwnEvents(t *testing.T) {
	out, outcome, err := PrepareEvent([]byte(`{"session_id":"abc","data":{"id":1}}`), "projects.1", "abc")
	require.NoError(t, err)
	assert.Equal(t, EventSuppressed, outcome)
	assert.Nil(t, out)
}

func TestPrepareEventWithoutOrigin(t *testing.T) {
	out, outcome, err := PrepareEvent([]byte(`{"type":"change"}`), "projects.1.userstories", "abc")
	require.NoError(t, err)
	assert.Equal(t, EventForward, outcome)
	assert.JSONEq(t, `{"type":"change","routing_key":"projects.1.userstories"}`, string(out))
}

func TestPrepareEventNonStringOriginIsForwarded(t *testing.T) {
	_, outcome, err := PrepareEvent([]byte(`{"session_id":123}`), "k", "123")
	require.NoError(t, err)
	assert.Equal(t, EventForward, outcome)
}

func TestPrepareEventOverridesRoutingKey(t *testing.T) {
	out, _, err := PrepareEvent([]byte(`{"routing_key":"stale"}`), "fresh", "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"routing_key":"fresh"}`, string(out))
}

func TestPrepareEventRejectsMalformedBodies(t *testing.T) {
	for _, body := range []string{``, `nope`, `[1,2]`, `"text"`} {
		_, _, err := PrepareEvent([]byte(body), "k", "abc")
		assert.True(t, errors.Is(err, ErrMalformedEvent), "body %q: %v", body, err)
	}
}

func TestValidateRoutingKey(t *testing.T) {
	assert.NoError(t, ValidateRoutingKey("projects.*.issues.#"))
	assert.NoError(t, ValidateRoutingKey(""))
	assert.NoError(t, ValidateRoutingKey(strings.Repeat("a", MaxRoutingKeyLength)))
	assert.ErrorIs(t, ValidateRoutingKey(strings.Repeat("a", MaxRoutingKeyLength+1)), ErrInvalidArgument)
}

func TestPrepareEventDuplicateSessionIDLastWins(t *testing.T) {
	_, outcome, err := PrepareEvent([]byte(`{"session_id":"other","session_id":"abc"}`), "k", "abc")
	require.NoError(t, err)
	assert.Equal(t, EventSuppressed, outcome)

	_, outcome, err = PrepareEvent([]byte(`{"session_id":"abc","session_id":"other"}`), "k", "abc")
	require.NoError(t, err)
	assert.Equal(t, EventForward, outcome)
}
