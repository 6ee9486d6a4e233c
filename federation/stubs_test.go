package federation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStubRefreshesDisplayAttributes(t *testing.T) {
	database := newTestDB(t)

	first, err := GetOrCreateUserStub(database, ActorRef{
		PUID: "p-1", DisplayName: "Old", Hostname: testSenderHost,
	})
	require.NoError(t, err)
	placeholder := first.Username

	second, err := GetOrCreateUserStub(database, ActorRef{
		PUID: "p-1", DisplayName: "New", AvatarPath: "/a.png", Hostname: testSenderHost,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, "New", second.DisplayName)
	assert.Equal(t, "/a.png", second.AvatarPath)
	assert.Equal(t, placeholder, second.Username)
}

func TestUserStubNeverTouchesLocalUsers(t *testing.T) {
	database := newTestDB(t)

	local := &domain.User{
		Id:          uuid.New(),
		PUID:        "p-local",
		Username:    "alice",
		DisplayName: "Alice",
		Kind:        domain.ActorKindPerson,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, database.CreateUser(local))

	// A remote envelope claiming a local PUID must not rewrite the account
	got, err := GetOrCreateUserStub(database, ActorRef{
		PUID: "p-local", DisplayName: "Impostor", Hostname: testSenderHost,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.False(t, got.IsRemote())

	err, reread := database.ReadUserByPUID("p-local")
	require.NoError(t, err)
	assert.Equal(t, "Alice", reread.DisplayName)
	assert.Equal(t, "alice", reread.Username)
}

func TestGroupStubKeepsOrigin(t *testing.T) {
	database := newTestDB(t)

	group, err := GetOrCreateGroupStub(database, GroupDescriptor{
		PUID: "p-group1", Name: "Gardeners", Hostname: testSenderHost,
	})
	require.NoError(t, err)
	assert.True(t, group.IsRemote())
	assert.Equal(t, testSenderHost, group.Hostname)

	refreshed, err := GetOrCreateGroupStub(database, GroupDescriptor{
		PUID: "p-group1", Name: "Urban Gardeners", Hostname: "other.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "Urban Gardeners", refreshed.Name)
	// Origin is immutable once the stub exists
	assert.Equal(t, testSenderHost, refreshed.Hostname)
}

func TestEventStubIsImmutableOnRepeat(t *testing.T) {
	database := newTestDB(t)

	desc := EventDescriptor{
		PUID:        "p-event1",
		Title:       "Picnic",
		StartsAt:    time.Now().Add(time.Hour),
		EndsAt:      time.Now().Add(2 * time.Hour),
		CreatorPUID: "p-creator",
		Hostname:    testSenderHost,
	}
	first, err := GetOrCreateEventStub(database, desc)
	require.NoError(t, err)

	desc.Title = "Changed"
	second, err := GetOrCreateEventStub(database, desc)
	require.NoError(t, err)

	// Descriptor repeats do not update; only event_update does
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, "Picnic", second.Title)
}
