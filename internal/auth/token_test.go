package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")

	token, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestExtractTokenFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc.def.ghi", nil)

	token, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestExtractTokenHeaderWinsOverQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")

	token, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "from-header", token)
}

func TestExtractTokenMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	_, err := ExtractToken(r)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestExtractTokenMalformedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err := ExtractToken(r)
	require.ErrorIs(t, err, ErrInvalidToken)
}
