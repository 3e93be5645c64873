package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseUserToken(t *testing.T) {
	issuer := NewIssuer("test-secret-value")

	tok, err := issuer.IssueUserToken("alice", 5, 20, time.Hour)
	require.NoError(t, err)

	claims, err := issuer.ParseUserToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, 5, claims.MaxQueueSongs)
	assert.Equal(t, 20, claims.MaxAddRequests)
}

func TestUserAndLivestreamTokensAreNotInterchangeable(t *testing.T) {
	issuer := NewIssuer("test-secret-value")

	userTok, err := issuer.IssueUserToken("alice", 5, 20, time.Hour)
	require.NoError(t, err)
	_, err = issuer.ParseLivestreamToken(userTok)
	assert.Error(t, err, "a user token must not parse as a livestream token")

	liveTok, err := issuer.IssueLivestreamToken("alice", 3600, "Morning Show", 10, 2*time.Hour)
	require.NoError(t, err)
	_, err = issuer.ParseUserToken(liveTok)
	assert.Error(t, err, "a livestream token must not parse as a user token")
}

func TestParseExpiredToken(t *testing.T) {
	issuer := NewIssuer("test-secret-value")

	tok, err := issuer.IssueUserToken("bob", 1, 1, -time.Minute)
	require.NoError(t, err)

	_, err = issuer.ParseUserToken(tok)
	assert.Error(t, err)
}

func TestParseTokenWrongSecret(t *testing.T) {
	issuer := NewIssuer("test-secret-value")
	other := NewIssuer("a-different-secret")

	tok, err := issuer.IssueUserToken("carol", 1, 1, time.Hour)
	require.NoError(t, err)

	_, err = other.ParseUserToken(tok)
	assert.Error(t, err)
}

func TestIsAdminToken(t *testing.T) {
	configured := []string{"admin-token-one", "admin-token-two"}
	assert.True(t, IsAdminToken("admin-token-one", configured))
	assert.True(t, IsAdminToken("admin-token-two", configured))
	assert.False(t, IsAdminToken("not-a-token", configured))
	assert.False(t, IsAdminToken("", configured))
}

func TestIsInternalToken(t *testing.T) {
	assert.True(t, IsInternalToken("svc-token", "svc-token"))
	assert.False(t, IsInternalToken("svc-token", "other"))
	assert.False(t, IsInternalToken("anything", ""))
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	_, err = ExtractBearerToken("")
	assert.Error(t, err)

	_, err = ExtractBearerToken("Basic abc123")
	assert.Error(t, err)

	_, err = ExtractBearerToken("Bearer ")
	assert.Error(t, err)
}

func TestMinTokenTTL(t *testing.T) {
	assert.Equal(t, 7200*time.Second, MinTokenTTL(3600))
}
