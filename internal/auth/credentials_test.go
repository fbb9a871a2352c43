package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndInspect(t *testing.T) {
	minted, err := Mint("secret", "user-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "user-1", minted.UserID)
	assert.False(t, minted.ExpiresAt.IsZero())

	creds, err := FromToken(minted.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", creds.UserID)
	assert.WithinDuration(t, minted.ExpiresAt, creds.ExpiresAt, time.Second)
}

func TestFromTokenExpired(t *testing.T) {
	minted, err := Mint("secret", "user-1", -time.Minute)
	require.NoError(t, err)

	creds, err := FromToken(minted.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	// The subject is still extracted for logging.
	assert.Equal(t, "user-1", creds.UserID)
}

func TestFromTokenMalformed(t *testing.T) {
	_, err := FromToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = FromToken("")
	assert.ErrorIs(t, err, ErrMalformedToken)
}
