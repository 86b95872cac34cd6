package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyToken(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)

	token, err := a.IssueToken("dr-smith", "clinician")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dr-smith", claims.Subject)
	assert.Equal(t, "clinician", claims.Role)
	assert.Equal(t, "healthguard", claims.Issuer)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthenticator("secret-a", time.Hour)
	verifier := NewAuthenticator("secret-b", time.Hour)

	token, err := issuer.IssueToken("dr-smith", "clinician")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Nanosecond)

	token, err := a.IssueToken("dr-smith", "clinician")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = a.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	_, err := a.VerifyToken("not-a-token")
	assert.Error(t, err)
}

func TestClaimsContextRoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	token, err := a.IssueToken("dr-smith", "clinician")
	require.NoError(t, err)
	claims, err := a.VerifyToken(token)
	require.NoError(t, err)

	ctx := WithClaims(context.Background(), claims)
	got, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "dr-smith", got.Subject)

	_, ok = ClaimsFromContext(context.Background())
	assert.False(t, ok)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}
