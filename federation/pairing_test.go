package federation

import (
	"testing"
	"time"

	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingHandshake(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	token, err := pairer.IssueToken(domain.NodeScopeFull, "", "", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	resp, err := pairer.Pair(PairRequest{
		Hostname:     testSenderHost,
		Token:        token.Token,
		RemoteNodeId: "peer-id",
	}, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SharedSecret)
	assert.Equal(t, pairer.NodeId(), resp.RemoteNodeId)

	err, node := database.ReadNodeByHostname(testSenderHost)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.Connected())
	assert.Equal(t, resp.SharedSecret, node.SharedSecret)
	assert.Equal(t, "peer-id", node.RemoteNodeId)
}

func TestPairingTokenSingleUse(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	token, err := pairer.IssueToken(domain.NodeScopeFull, "", "", time.Hour)
	require.NoError(t, err)

	_, err = pairer.Pair(PairRequest{Hostname: "a.example", Token: token.Token}, time.Now())
	require.NoError(t, err)

	_, err = pairer.Pair(PairRequest{Hostname: "b.example", Token: token.Token}, time.Now())
	assert.ErrorIs(t, err, ErrTokenUsed)
}

func TestPairingTokenExpired(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	token, err := pairer.IssueToken(domain.NodeScopeFull, "", "", time.Minute)
	require.NoError(t, err)

	_, err = pairer.Pair(PairRequest{Hostname: testSenderHost, Token: token.Token}, time.Now().Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPairingUnknownToken(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	_, err := pairer.Pair(PairRequest{Hostname: testSenderHost, Token: "nope"}, time.Now())
	assert.ErrorIs(t, err, ErrTokenUnknown)
}

func TestRepairingRotatesSecret(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	first, err := pairer.IssueToken(domain.NodeScopeFull, "", "", time.Hour)
	require.NoError(t, err)
	resp1, err := pairer.Pair(PairRequest{Hostname: testSenderHost, Token: first.Token}, time.Now())
	require.NoError(t, err)

	second, err := pairer.IssueToken(domain.NodeScopeFull, "", "", time.Hour)
	require.NoError(t, err)
	resp2, err := pairer.Pair(PairRequest{Hostname: testSenderHost, Token: second.Token}, time.Now())
	require.NoError(t, err)

	assert.NotEqual(t, resp1.SharedSecret, resp2.SharedSecret)

	// Still a single full connection, carrying the new secret
	err, node := database.ReadNodeByHostname(testSenderHost)
	require.NoError(t, err)
	assert.Equal(t, resp2.SharedSecret, node.SharedSecret)
}

func TestIssueTokenTargetedScope(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	token, err := pairer.IssueToken(domain.NodeScopeTargeted, "group", "p-group1", time.Hour)
	require.NoError(t, err)

	resp, err := pairer.Pair(PairRequest{Hostname: testSenderHost, Token: token.Token}, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, resp.SharedSecret)

	// No full connection exists, but the targeted one is reachable
	err, full := database.ReadNodeByHostname(testSenderHost)
	assert.Nil(t, full)

	err, any := database.ReadAnyNodeByHostname(testSenderHost)
	require.NoError(t, err)
	require.NotNil(t, any)
	assert.Equal(t, domain.NodeScopeTargeted, any.Scope)
	assert.Equal(t, "group", any.ResourceType)
	assert.Equal(t, "p-group1", any.ResourceId)
}

func TestIssueTokenRejectsBadScope(t *testing.T) {
	database := newTestDB(t)
	pairer := NewPairer(database, testLocalHost)

	_, err := pairer.IssueToken("everything", "", "", time.Hour)
	assert.Error(t, err)
}
