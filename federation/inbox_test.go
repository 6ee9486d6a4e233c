package federation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocalHost = "local.example"
const testSenderHost = "peer.example"

func newTestDB(t *testing.T) *db.DB {
	database, err := db.Open(fmt.Sprintf("file:fed_%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations())
	return database
}

func newTestInbox(t *testing.T) (*Inbox, *db.DB) {
	database := newTestDB(t)
	distributor := NewDistributor(database, nil, testLocalHost)
	return NewInbox(database, distributor), database
}

func marshalEnvelope(t *testing.T, env interface{}) []byte {
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func remoteActor(puid string) ActorRef {
	return ActorRef{PUID: puid, DisplayName: "Remote Person", Hostname: testSenderHost}
}

func TestInboxPostCreateIdempotent(t *testing.T) {
	inbox, database := newTestInbox(t)

	body := marshalEnvelope(t, PostEnvelope{
		Type:      TypePostCreate,
		Actor:     remoteActor("p-author1"),
		CUID:      "c-post1",
		Content:   "hello from afar",
		Privacy:   domain.PrivacyPublic,
		CreatedAt: time.Now(),
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	// Exact re-delivery must acknowledge without duplicating
	status, err = inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	err, post := database.ReadPostByCUID("c-post1")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "p-author1", post.AuthorPUID)
	assert.Equal(t, "hello from afar", post.Content)
}

func TestInboxPostCreateBuildsPrivateStub(t *testing.T) {
	inbox, database := newTestInbox(t)

	body := marshalEnvelope(t, PostEnvelope{
		Type:    TypePostCreate,
		Actor:   ActorRef{PUID: "p-author2", DisplayName: "Jane", AvatarPath: "/a.png", Hostname: testSenderHost},
		CUID:    "c-post2",
		Content: "stub me",
		Privacy: domain.PrivacyPublic,
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	err, stub := database.ReadUserByPUID("p-author2")
	require.NoError(t, err)
	require.NotNil(t, stub)
	assert.True(t, stub.IsRemote())
	assert.Equal(t, "Jane", stub.DisplayName)
	// The handle is generated locally, never taken from the wire
	assert.Contains(t, stub.Username, "remote-")
	assert.Contains(t, stub.Username, "@"+testSenderHost)
}

func TestInboxMissingFieldsRejected(t *testing.T) {
	inbox, _ := newTestInbox(t)

	status, err := inbox.Receive(testSenderHost, []byte(`{"type":"post_create"}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, err.Error(), "actor")
	assert.Contains(t, err.Error(), "cuid")
	assert.Contains(t, err.Error(), "privacy")
}

func TestInboxUnknownTypeRejected(t *testing.T) {
	inbox, _ := newTestInbox(t)

	status, err := inbox.Receive(testSenderHost, []byte(`{"type":"post_boost","actor":{"puid":"p-1"}}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInboxCommentOnUnknownPostAcknowledged(t *testing.T) {
	inbox, database := newTestInbox(t)

	body := marshalEnvelope(t, CommentEnvelope{
		Type:     TypeCommentCreate,
		Actor:    remoteActor("p-commenter"),
		CUID:     "c-comment1",
		PostCUID: "c-never-seen",
		Content:  "orphaned",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	_, comment := database.ReadCommentByCUID("c-comment1")
	assert.Nil(t, comment)
}

func TestInboxUpdateOfAbsentPostAcknowledged(t *testing.T) {
	inbox, _ := newTestInbox(t)

	body := marshalEnvelope(t, PostEnvelope{
		Type:    TypePostUpdate,
		Actor:   remoteActor("p-author1"),
		CUID:    "c-never-seen",
		Content: "edited",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestInboxCommentRejectedWhenCommentsClosed(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemotePost(t, database, "c-closed", "p-author1")
	require.NoError(t, database.UpdatePostCommentsClosed("c-closed", true))

	body := marshalEnvelope(t, CommentEnvelope{
		Type:     TypeCommentCreate,
		Actor:    remoteActor("p-commenter"),
		CUID:     "c-comment2",
		PostCUID: "c-closed",
		Content:  "too late",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestInboxEventCancelByNonCreatorForbidden(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemoteEvent(t, database, "p-event1", "p-creator")

	body := marshalEnvelope(t, EventEnvelope{
		Type:      TypeEventCancel,
		Actor:     remoteActor("p-mallory"),
		EventPUID: "p-event1",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)

	err, event := database.ReadEventByPUID("p-event1")
	require.NoError(t, err)
	assert.False(t, event.Cancelled)
}

func TestInboxEventCancelByCreator(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemoteEvent(t, database, "p-event2", "p-creator")

	body := marshalEnvelope(t, EventEnvelope{
		Type:      TypeEventCancel,
		Actor:     remoteActor("p-creator"),
		EventPUID: "p-event2",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	err, event := database.ReadEventByPUID("p-event2")
	require.NoError(t, err)
	assert.True(t, event.Cancelled)
}

func TestInboxEventResponseUpserts(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemoteEvent(t, database, "p-event3", "p-creator")

	respond := func(response string) {
		body := marshalEnvelope(t, EventEnvelope{
			Type:      TypeEventResponse,
			Actor:     remoteActor("p-guest"),
			EventPUID: "p-event3",
			Response:  response,
		})
		status, err := inbox.Receive(testSenderHost, body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
	}

	respond(domain.EventResponseTentative)
	respond(domain.EventResponseAccepted)

	err, attendees := database.ReadAttendees("p-event3")
	require.NoError(t, err)
	require.Len(t, *attendees, 1)
	assert.Equal(t, domain.EventResponseAccepted, (*attendees)[0].Response)
}

func TestInboxPollVoteMatchesOptionByText(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemotePost(t, database, "c-pollpost", "p-author1")

	poll := &domain.Poll{Id: uuid.New(), PostCUID: "c-pollpost", Question: "Lunch?", CreatedAt: time.Now()}
	options := []domain.PollOption{
		{Id: uuid.New(), PollId: poll.Id, Text: "Pizza"},
		{Id: uuid.New(), PollId: poll.Id, Text: "Sushi"},
	}
	require.NoError(t, database.CreatePoll(poll, options))

	body := marshalEnvelope(t, PollEnvelope{
		Type:       TypePollVote,
		Actor:      remoteActor("p-voter"),
		PostCUID:   "c-pollpost",
		OptionText: "Sushi",
	})

	status, err := inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	// A vote for an option text we do not have is acknowledged and skipped
	body = marshalEnvelope(t, PollEnvelope{
		Type:       TypePollVote,
		Actor:      remoteActor("p-voter"),
		PostCUID:   "c-pollpost",
		OptionText: "Tacos",
	})
	status, err = inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestInboxMentionRemovalAppliesPrecomputedContent(t *testing.T) {
	inbox, database := newTestInbox(t)
	seedRemotePost(t, database, "c-mentioned", "p-author1")
	require.NoError(t, database.ReplacePostMentions("c-mentioned", []string{"p-victim"}))

	// Someone other than the mentioned person may not strip the mention
	body := marshalEnvelope(t, RemovalEnvelope{
		Type:       TypeMentionRemovalPost,
		Actor:      remoteActor("p-mallory"),
		CUID:       "c-mentioned",
		PUID:       "p-victim",
		NewContent: "hello [removed]",
	})
	status, err := inbox.Receive(testSenderHost, body)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)

	body = marshalEnvelope(t, RemovalEnvelope{
		Type:       TypeMentionRemovalPost,
		Actor:      remoteActor("p-victim"),
		CUID:       "c-mentioned",
		PUID:       "p-victim",
		NewContent: "hello [removed]",
	})
	status, err = inbox.Receive(testSenderHost, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	err, post := database.ReadPostByCUID("c-mentioned")
	require.NoError(t, err)
	assert.Equal(t, "hello [removed]", post.Content)

	err, mentions := database.ReadPostMentions("c-mentioned")
	require.NoError(t, err)
	assert.Empty(t, mentions)
}

func TestInboxProfileUpdateRefreshesStubDisplayOnly(t *testing.T) {
	inbox, database := newTestInbox(t)

	create := marshalEnvelope(t, PostEnvelope{
		Type:    TypePostCreate,
		Actor:   ActorRef{PUID: "p-author3", DisplayName: "Old Name", Hostname: testSenderHost},
		CUID:    "c-post3",
		Content: "x",
		Privacy: domain.PrivacyPublic,
	})
	_, err := inbox.Receive(testSenderHost, create)
	require.NoError(t, err)

	err, before := database.ReadUserByPUID("p-author3")
	require.NoError(t, err)
	placeholder := before.Username

	update := marshalEnvelope(t, ProfileEnvelope{
		Type:  TypeProfileUpdate,
		Actor: ActorRef{PUID: "p-author3", DisplayName: "New Name", AvatarPath: "/new.png", Hostname: testSenderHost},
	})
	status, err := inbox.Receive(testSenderHost, update)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	err, after := database.ReadUserByPUID("p-author3")
	require.NoError(t, err)
	assert.Equal(t, "New Name", after.DisplayName)
	assert.Equal(t, "/new.png", after.AvatarPath)
	assert.Equal(t, placeholder, after.Username)
}

// seedRemotePost stores a post as if a post_create from the sender had
// already been processed.
func seedRemotePost(t *testing.T, database *db.DB, cuid, authorPUID string) {
	_, err := GetOrCreateUserStub(database, remoteActor(authorPUID))
	require.NoError(t, err)
	require.NoError(t, database.CreatePost(&domain.Post{
		Id:         uuid.New(),
		CUID:       cuid,
		AuthorPUID: authorPUID,
		Content:    "hello",
		Privacy:    domain.PrivacyPublic,
		CreatedAt:  time.Now(),
	}))
}

func seedRemoteEvent(t *testing.T, database *db.DB, puid, creatorPUID string) {
	require.NoError(t, database.CreateEvent(&domain.Event{
		Id:          uuid.New(),
		PUID:        puid,
		Title:       "Gathering",
		StartsAt:    time.Now().Add(24 * time.Hour),
		EndsAt:      time.Now().Add(26 * time.Hour),
		CreatorPUID: creatorPUID,
		Hostname:    testSenderHost,
		CreatedAt:   time.Now(),
	}))
}

func TestInboxCommentRedeliveredAfterPostArrives(t *testing.T) {
	inbox, database := newTestInbox(t)

	comment := marshalEnvelope(t, CommentEnvelope{
		Type:      TypeCommentCreate,
		Actor:     remoteActor("p-commenter"),
		CUID:      "c-early",
		PostCUID:  "c-post8",
		Content:   "arrived first",
		CreatedAt: time.Now(),
	})

	// First delivery outruns its post and is skipped without error
	status, err := inbox.Receive(testSenderHost, comment)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	_, missing := database.ReadCommentByCUID("c-early")
	require.Nil(t, missing)

	seedRemotePost(t, database, "c-post8", "p-author1")

	// The sender's retry lands once the post exists
	status, err = inbox.Receive(testSenderHost, comment)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	err, stored := database.ReadCommentByCUID("c-early")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "arrived first", stored.Content)
}
