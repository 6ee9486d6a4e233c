package db

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

// setupTestDB creates an isolated in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func testUser(puid, username, hostname string) *domain.User {
	return &domain.User{
		Id:          uuid.New(),
		PUID:        puid,
		Username:    username,
		DisplayName: username,
		Hostname:    hostname,
		Kind:        domain.ActorKindPerson,
		CreatedAt:   time.Now(),
	}
}

func TestNodeLifecycle(t *testing.T) {
	db := setupTestDB(t)

	node := &domain.Node{
		Hostname:  "peer.example",
		Status:    domain.NodeStatusPending,
		Scope:     domain.NodeScopeFull,
		CreatedAt: time.Now(),
	}
	if err := db.CreateNode(node); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	err, read := db.ReadNodeByHostname("peer.example")
	if err != nil || read == nil {
		t.Fatalf("ReadNodeByHostname failed: %v", err)
	}
	if read.Connected() {
		t.Error("Pending node without secret should not be connected")
	}

	node.Status = domain.NodeStatusConnected
	node.SharedSecret = "s3cret"
	node.RemoteNodeId = "remote-id"
	if err := db.UpdateNode(node); err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}

	err, read = db.ReadNodeByHostname("peer.example")
	if err != nil || read == nil {
		t.Fatalf("ReadNodeByHostname after update failed: %v", err)
	}
	if !read.Connected() {
		t.Error("Updated node should be connected")
	}
	if read.SharedSecret != "s3cret" {
		t.Errorf("Expected secret s3cret, got %q", read.SharedSecret)
	}

	if err := db.DeleteNode("peer.example", domain.NodeScopeFull, "", ""); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	err, read = db.ReadNodeByHostname("peer.example")
	if read != nil {
		t.Error("Deleted node should not be readable")
	}
}

func TestDuplicateFullNodeRejected(t *testing.T) {
	db := setupTestDB(t)

	node := &domain.Node{
		Hostname:  "peer.example",
		Status:    domain.NodeStatusConnected,
		Scope:     domain.NodeScopeFull,
		CreatedAt: time.Now(),
	}
	if err := db.CreateNode(node); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	dup := *node
	err := db.CreateNode(&dup)
	if err == nil {
		t.Fatal("Second full connection for the same hostname should fail")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("Expected a uniqueness violation, got %v", err)
	}
}

func TestReadAnyNodePrefersFullScope(t *testing.T) {
	db := setupTestDB(t)

	targeted := &domain.Node{
		Hostname:     "peer.example",
		Status:       domain.NodeStatusConnected,
		SharedSecret: "targeted-secret",
		Scope:        domain.NodeScopeTargeted,
		ResourceType: "group",
		ResourceId:   "p-123",
		CreatedAt:    time.Now(),
	}
	if err := db.CreateNode(targeted); err != nil {
		t.Fatalf("CreateNode targeted failed: %v", err)
	}

	err, read := db.ReadAnyNodeByHostname("peer.example")
	if err != nil || read == nil {
		t.Fatalf("ReadAnyNodeByHostname failed: %v", err)
	}
	if read.Scope != domain.NodeScopeTargeted {
		t.Errorf("Expected targeted scope, got %q", read.Scope)
	}

	full := &domain.Node{
		Hostname:     "peer.example",
		Status:       domain.NodeStatusConnected,
		SharedSecret: "full-secret",
		Scope:        domain.NodeScopeFull,
		CreatedAt:    time.Now(),
	}
	if err := db.CreateNode(full); err != nil {
		t.Fatalf("CreateNode full failed: %v", err)
	}

	err, read = db.ReadAnyNodeByHostname("peer.example")
	if err != nil || read == nil {
		t.Fatalf("ReadAnyNodeByHostname failed: %v", err)
	}
	if read.Scope != domain.NodeScopeFull {
		t.Errorf("Full connection should win, got scope %q", read.Scope)
	}
	if read.SharedSecret != "full-secret" {
		t.Errorf("Expected full-secret, got %q", read.SharedSecret)
	}
}

func TestPairTokenConsumedOnce(t *testing.T) {
	db := setupTestDB(t)

	token := NewPairToken("tok-abc", domain.NodeScopeFull, "", "", time.Hour)
	if err := db.CreatePairToken(token); err != nil {
		t.Fatalf("CreatePairToken failed: %v", err)
	}

	consumed, err := db.ConsumePairToken("tok-abc")
	if err != nil {
		t.Fatalf("ConsumePairToken failed: %v", err)
	}
	if !consumed {
		t.Fatal("First consumption should succeed")
	}

	consumed, err = db.ConsumePairToken("tok-abc")
	if err != nil {
		t.Fatalf("Second ConsumePairToken errored: %v", err)
	}
	if consumed {
		t.Error("Second consumption should fail")
	}

	err, read := db.ReadPairToken("tok-abc")
	if err != nil || read == nil {
		t.Fatalf("ReadPairToken failed: %v", err)
	}
	if !read.Used {
		t.Error("Token should be marked used")
	}
}

func TestSearchLocalUsersExcludesStubs(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateUser(testUser("p-local", "alice", "")); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := db.CreateUser(testUser("p-remote", "alice-remote", "peer.example")); err != nil {
		t.Fatalf("CreateUser remote failed: %v", err)
	}

	err, users := db.SearchLocalUsers("alice", 10)
	if err != nil {
		t.Fatalf("SearchLocalUsers failed: %v", err)
	}
	if len(*users) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(*users))
	}
	if (*users)[0].PUID != "p-local" {
		t.Errorf("Expected local user, got %s", (*users)[0].PUID)
	}
}

func TestDeletePostCascades(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateUser(testUser("p-author", "bob", "")); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	post := &domain.Post{
		Id:         uuid.New(),
		CUID:       "c-post1",
		AuthorPUID: "p-author",
		Content:    "hello",
		Privacy:    domain.PrivacyPublic,
		CreatedAt:  time.Now(),
	}
	if err := db.CreatePost(post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	comment := &domain.Comment{
		Id:         uuid.New(),
		CUID:       "c-comment1",
		PostCUID:   "c-post1",
		AuthorPUID: "p-author",
		Content:    "first",
		CreatedAt:  time.Now(),
	}
	if err := db.CreateComment(comment); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	if err := db.ReplacePostMentions("c-post1", []string{"p-friend"}); err != nil {
		t.Fatalf("ReplacePostMentions failed: %v", err)
	}
	if err := db.ReplacePostMedia("c-post1", []domain.MediaItem{{
		Id:       uuid.New(),
		MUID:     "m-pic1",
		PostCUID: "c-post1",
		Path:     "/media/pic1.jpg",
	}}); err != nil {
		t.Fatalf("ReplacePostMedia failed: %v", err)
	}

	if err := db.DeletePost("c-post1"); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}

	if err, read := db.ReadPostByCUID("c-post1"); err == nil && read != nil {
		t.Error("Post should be gone")
	}
	if err, read := db.ReadCommentByCUID("c-comment1"); err == nil && read != nil {
		t.Error("Comment should be gone with its post")
	}
	if err, mentions := db.ReadPostMentions("c-post1"); err == nil && len(mentions) != 0 {
		t.Error("Mentions should be gone with their post")
	}
	if err, item := db.ReadMediaItemByMUID("m-pic1"); err == nil && item != nil {
		t.Error("Media should be gone with its post")
	}
}

func TestUpsertAttendee(t *testing.T) {
	db := setupTestDB(t)

	att := &domain.EventAttendee{
		EventPUID: "p-event1",
		UserPUID:  "p-guest",
		Response:  domain.EventResponseTentative,
		CreatedAt: time.Now(),
	}
	if err := db.UpsertAttendee(att); err != nil {
		t.Fatalf("UpsertAttendee failed: %v", err)
	}

	att.Response = domain.EventResponseAccepted
	if err := db.UpsertAttendee(att); err != nil {
		t.Fatalf("Second UpsertAttendee failed: %v", err)
	}

	err, attendees := db.ReadAttendees("p-event1")
	if err != nil {
		t.Fatalf("ReadAttendees failed: %v", err)
	}
	if len(*attendees) != 1 {
		t.Fatalf("Expected 1 attendee, got %d", len(*attendees))
	}
	if (*attendees)[0].Response != domain.EventResponseAccepted {
		t.Errorf("Expected accepted, got %q", (*attendees)[0].Response)
	}
}

func TestPollVoteIdempotent(t *testing.T) {
	db := setupTestDB(t)

	poll := &domain.Poll{
		Id:        uuid.New(),
		PostCUID:  "c-post1",
		Question:  "Lunch?",
		CreatedAt: time.Now(),
	}
	options := []domain.PollOption{
		{Id: uuid.New(), PollId: poll.Id, Text: "Pizza"},
		{Id: uuid.New(), PollId: poll.Id, Text: "Sushi"},
	}
	if err := db.CreatePoll(poll, options); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	vote := &domain.PollVote{OptionId: options[0].Id, VoterPUID: "p-voter", CreatedAt: time.Now()}
	if err := db.CreatePollVote(vote); err != nil {
		t.Fatalf("CreatePollVote failed: %v", err)
	}
	// Re-delivery of the same vote must not error or double-count
	if err := db.CreatePollVote(vote); err != nil {
		t.Fatalf("Duplicate CreatePollVote failed: %v", err)
	}

	if err := db.DeletePollOption(options[0].Id); err != nil {
		t.Fatalf("DeletePollOption failed: %v", err)
	}
	err, remaining := db.ReadPollOptions(poll.Id)
	if err != nil {
		t.Fatalf("ReadPollOptions failed: %v", err)
	}
	if len(*remaining) != 1 || (*remaining)[0].Text != "Sushi" {
		t.Errorf("Expected only Sushi to remain, got %v", *remaining)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)

	user := testUser("p-ghost", "ghost", "")
	wantErr := errors.New("handler failed mid-transaction")
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertUser,
			user.Id.String(),
			user.PUID,
			user.Username,
			user.DisplayName,
			user.AvatarPath,
			user.Hostname,
			user.Kind,
			user.CreatedAt,
		); err != nil {
			t.Fatalf("Insert inside transaction failed: %v", err)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected the handler error back, got: %v", err)
	}

	// The failed attempt's transaction must have been rolled back
	err, found := db.ReadUserByPUID("p-ghost")
	if err == nil && found != nil {
		t.Error("Row from a rolled-back transaction is visible")
	}
}
