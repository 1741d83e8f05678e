package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "entitle/pkg/domain-errors"
)

func TestParseRequestID(t *testing.T) {
	id, err := ParseRequestID("42")
	require.NoError(t, err)
	assert.Equal(t, RequestID(42), id)

	for _, bad := range []string{"", "abc", "-1", "0", "1.5"} {
		_, err := ParseRequestID(bad)
		assert.Error(t, err, "input %q", bad)
		assert.True(t, dErrors.IsCode(err, dErrors.CodeValidation))
	}
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID("7")
	require.NoError(t, err)
	assert.Equal(t, UserID(7), id)
	assert.False(t, id.IsNil())
	assert.True(t, UserID(0).IsNil())
}
