package cinderlink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopic(t *testing.T) {
	require.NoError(t, ValidateTopic("identity/resolve/request"))
	require.ErrorIs(t, ValidateTopic(""), ErrInvalidTopic)
	require.ErrorIs(t, ValidateTopic("has space"), ErrInvalidTopic)
	require.ErrorIs(t, ValidateTopic("tab\there"), ErrInvalidTopic)
}

func TestValidateTopics(t *testing.T) {
	require.NoError(t, ValidateTopics([]string{"a", "b/c"}))
	require.NoError(t, ValidateTopics(nil))
	require.ErrorIs(t, ValidateTopics([]string{"a", ""}), ErrInvalidTopic)
}

func TestValidateSchemaName(t *testing.T) {
	for _, ok := range []string{"profile", "social.posts", "v2_contacts-list"} {
		assert.NoError(t, ValidateSchemaName(ok), ok)
	}
	for _, bad := range []string{"", "with space", "slash/name", strings.Repeat("x", MaxSchemaNameLength+1)} {
		assert.ErrorIs(t, ValidateSchemaName(bad), ErrInvalidSchemaName, bad)
	}
	assert.NoError(t, ValidateSchemaName(strings.Repeat("x", MaxSchemaNameLength)))
}
