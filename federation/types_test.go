package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelopeComplete(t *testing.T) {
	body := []byte(`{
		"type": "post_create",
		"actor": {"puid": "p-1", "hostname": "a.example"},
		"cuid": "c-1",
		"privacy": "public"
	}`)

	envType, missing, err := ValidateEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, TypePostCreate, envType)
	assert.Empty(t, missing)
}

func TestValidateEnvelopeReportsMissingFieldsSorted(t *testing.T) {
	body := []byte(`{"type": "post_create"}`)

	envType, missing, err := ValidateEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, TypePostCreate, envType)
	assert.Equal(t, []string{"actor", "cuid", "privacy"}, missing)
}

func TestValidateEnvelopeNullAndEmptyCountAsMissing(t *testing.T) {
	body := []byte(`{
		"type": "comment_create",
		"actor": {"puid": "p-1"},
		"cuid": null,
		"post_cuid": ""
	}`)

	_, missing, err := ValidateEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"cuid", "post_cuid"}, missing)
}

func TestValidateEnvelopeUnknownType(t *testing.T) {
	body := []byte(`{"type": "post_boost", "actor": {"puid": "p-1"}}`)

	_, _, err := ValidateEnvelope(body)
	assert.Error(t, err)
}

func TestValidateEnvelopeMalformedJSON(t *testing.T) {
	_, _, err := ValidateEnvelope([]byte(`{"type": `))
	assert.Error(t, err)
}

func TestKnownTypeCoversFullEnumeration(t *testing.T) {
	all := []EnvelopeType{
		TypePostCreate, TypePostUpdate, TypePostDelete, TypeEventPostCreate,
		TypeCommentCreate, TypeCommentUpdate, TypeCommentDelete,
		TypeMediaCommentCreate, TypeMediaCommentUpdate, TypeMediaCommentDelete,
		TypePostCommentStatusUpdate,
		TypeEventInvite, TypeEventUpdate, TypeEventCancel, TypeEventResponse,
		TypeProfileUpdate,
		TypeTagRemoval, TypeMentionRemovalPost, TypeMentionRemovalComment,
		TypeMentionRemovalMediaComm, TypeMediaTagsUpdate, TypeMediaTagRemoval,
		TypePollCreate, TypePollVote, TypePollUnvote, TypePollOptionAdd, TypePollOptionDelete,
	}
	for _, envType := range all {
		assert.True(t, KnownType(envType), "type %s should be known", envType)
	}
	assert.False(t, KnownType("like_create"))
}

func TestPlaceholderHandle(t *testing.T) {
	handle := placeholderHandle("p-a1b2c3d4e5", "peer.example")
	assert.Equal(t, "remote-a1b2c3d4@peer.example", handle)

	// Degenerate ids still produce something usable
	assert.Equal(t, "remote-x@peer.example", placeholderHandle("x", "peer.example"))
}
