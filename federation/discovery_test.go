package federation

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryClientSignsQueries(t *testing.T) {
	database := newTestDB(t)
	secret := "search-secret"

	var gotPath, gotHostname, gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHostname = r.Header.Get(HeaderNodeHostname)
		gotSignature = r.Header.Get(HeaderNodeSignature)
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode([]DirectoryUser{
			{PUID: "p-found", DisplayName: "Found Person"},
		})
	}))
	defer server.Close()

	dest := server.Listener.Addr().String()
	require.NoError(t, database.CreateNode(&domain.Node{
		Hostname:     dest,
		Status:       domain.NodeStatusConnected,
		SharedSecret: secret,
		Scope:        domain.NodeScopeFull,
		CreatedAt:    time.Now(),
	}))

	client := NewDiscoveryClient(database, testLocalHost)
	client.scheme = "http"

	results, err := client.SearchUsers(dest, "found")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p-found", results[0].PUID)

	assert.Equal(t, "/federation/search/users", gotPath)
	assert.Equal(t, testLocalHost, gotHostname)
	// The query travels signed like any other federation request
	assert.True(t, VerifyBody(secret, gotBody, gotSignature))

	var req SearchRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	assert.Equal(t, "found", req.Query)
}

func TestDiscoveryClientRejectsUnpairedHost(t *testing.T) {
	database := newTestDB(t)

	client := NewDiscoveryClient(database, testLocalHost)
	client.scheme = "http"

	_, err := client.SearchGroups("stranger.example", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestSearchLocalEventsOnlyPublic(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateEvent(&domain.Event{
		Id:          uuid.New(),
		PUID:        "p-fair",
		Title:       "Street Fair",
		StartsAt:    time.Now().Add(24 * time.Hour),
		EndsAt:      time.Now().Add(26 * time.Hour),
		CreatorPUID: "p-host",
		Public:      true,
		CreatedAt:   time.Now(),
	}))
	require.NoError(t, database.CreateEvent(&domain.Event{
		Id:          uuid.New(),
		PUID:        "p-dinner",
		Title:       "Street Dinner",
		StartsAt:    time.Now().Add(24 * time.Hour),
		EndsAt:      time.Now().Add(26 * time.Hour),
		CreatorPUID: "p-host",
		Public:      false,
		CreatedAt:   time.Now(),
	}))

	results, err := SearchLocalEvents(database, testLocalHost, SearchRequest{Query: "Street"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p-fair", results[0].PUID)
	assert.True(t, results[0].Public)
}
