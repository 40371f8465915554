package director

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstanceID(t *testing.T) {
	id, err := ParseInstanceID("nats/0")
	require.NoError(t, err)
	assert.Equal(t, "nats", id.Job())
	assert.Equal(t, 0, id.Index())
	assert.Equal(t, "nats/0", id.String())

	for _, bad := range []string{"", "nats", "nats/", "/0", "nats/-1", "nats/zero", "a/b/c"} {
		_, err := ParseInstanceID(bad)
		assert.Error(t, err, "input %q", bad)
		assert.Equal(t, ErrInvalidInstanceID, errors.Cause(err), "input %q", bad)
	}
}

func TestInstanceIDTextRoundTrip(t *testing.T) {
	id := MakeInstanceID("router", 3)
	text, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "router/3", string(text))

	var back InstanceID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestErrorJSONRoundTrip(t *testing.T) {
	orig := UnknownDeployment("mycloud")
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Error
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Missing, back.Type)
	assert.Equal(t, CodeUnknownDeployment, back.Code)
	assert.Equal(t, orig.Help, back.Help)
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsMissing(UnknownDeployment("x")))
	assert.False(t, IsUser(UnknownDeployment("x")))

	userErr := &Error{Type: User, Code: CodeDeploymentMismatch, Err: errors.New("wrong deployment")}
	assert.True(t, IsUser(userErr))
	assert.True(t, IsUser(errors.WithMessage(userErr, "wrapped")))
}
