package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("operator")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, r)

	r, err = ParseRole("client")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, r)

	_, err = ParseRole("visitor")
	assert.Error(t, err)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "operator", RoleOperator.String())
	assert.Equal(t, "client", RoleClient.String())
	assert.Equal(t, "unknown", Role(7).String())
}
