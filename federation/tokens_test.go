package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewerTestClaims(expiresAt time.Time) ViewerClaims {
	return ViewerClaims{
		ViewerPUID: "p-viewer",
		Origin:     "home.example",
		Resource:   "c-post1",
		ExpiresAt:  expiresAt.Unix(),
	}
}

func TestViewerTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := IssueViewerToken("secret", viewerTestClaims(now.Add(time.Minute)))
	require.NoError(t, err)

	claims, err := VerifyViewerToken("secret", token, now)
	require.NoError(t, err)
	assert.Equal(t, "p-viewer", claims.ViewerPUID)
	assert.Equal(t, "home.example", claims.Origin)
	assert.Equal(t, "c-post1", claims.Resource)
}

func TestViewerTokenWrongSecret(t *testing.T) {
	now := time.Now()
	token, err := IssueViewerToken("secret", viewerTestClaims(now.Add(time.Minute)))
	require.NoError(t, err)

	_, err = VerifyViewerToken("other-secret", token, now)
	assert.ErrorIs(t, err, ErrViewerTokenInvalid)
}

func TestViewerTokenExpired(t *testing.T) {
	now := time.Now()
	token, err := IssueViewerToken("secret", viewerTestClaims(now.Add(-time.Minute)))
	require.NoError(t, err)

	_, err = VerifyViewerToken("secret", token, now)
	assert.ErrorIs(t, err, ErrViewerTokenExpired)
}

func TestViewerTokenMalformed(t *testing.T) {
	now := time.Now()
	_, err := VerifyViewerToken("secret", "garbage", now)
	assert.ErrorIs(t, err, ErrViewerTokenInvalid)

	_, err = VerifyViewerToken("secret", "notbase64!.deadbeef", now)
	assert.ErrorIs(t, err, ErrViewerTokenInvalid)
}

func TestTokenRedeemerSingleUse(t *testing.T) {
	now := time.Now()
	token, err := IssueViewerToken("secret", viewerTestClaims(now.Add(time.Minute)))
	require.NoError(t, err)

	redeemer := NewTokenRedeemer()

	claims, err := redeemer.Redeem("secret", token, now)
	require.NoError(t, err)
	assert.Equal(t, "p-viewer", claims.ViewerPUID)

	_, err = redeemer.Redeem("secret", token, now)
	assert.ErrorIs(t, err, ErrViewerTokenRedeemed)
}
