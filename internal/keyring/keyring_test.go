package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestTokenLifecycle(t *testing.T) {
	keyring.MockInit()
	server := "http://localhost:8080"

	assert.False(t, HasToken(server))
	_, err := GetToken(server)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SaveToken(server, "tok"))
	assert.True(t, HasToken(server))
	token, err := GetToken(server)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, DeleteToken(server))
	assert.False(t, HasToken(server))
	assert.NoError(t, DeleteToken(server))
}
