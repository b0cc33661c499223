package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("secret", 1)

	tk, err := m.GenerateToken(42, "alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tk)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.True(t, claims.IsAdmin())

	_, err = NewJWTManager("other", 1).VerifyToken(tk)
	assert.Error(t, err)

	_, err = m.VerifyToken("not-a-token")
	assert.Error(t, err)
}
