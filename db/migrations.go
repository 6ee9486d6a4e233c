package db

import (
	"database/sql"
	"log"
)

const (
	// Trust store
	sqlCreateNodesTable = `CREATE TABLE IF NOT EXISTS nodes (
		hostname TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		shared_secret TEXT,
		remote_node_id TEXT,
		scope TEXT NOT NULL DEFAULT 'full',
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(hostname, scope, resource_type, resource_id)
	)`

	sqlCreateNodesIndices = `
		CREATE INDEX IF NOT EXISTS idx_nodes_hostname ON nodes(hostname);
		CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
	`

	sqlCreatePairTokensTable = `CREATE TABLE IF NOT EXISTS pair_tokens (
		token TEXT NOT NULL PRIMARY KEY,
		scope TEXT NOT NULL DEFAULT 'full',
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP NOT NULL,
		used INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Users covers local people/pages and remote stubs (hostname <> '').
	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		puid TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		display_name TEXT,
		avatar_path TEXT,
		hostname TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'person',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUsersIndices = `
		CREATE INDEX IF NOT EXISTS idx_users_puid ON users(puid);
		CREATE INDEX IF NOT EXISTS idx_users_hostname ON users(hostname);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`

	// "groups" is a sqlite keyword, so the table is social_groups
	sqlCreateGroupsTable = `CREATE TABLE IF NOT EXISTS social_groups (
		id TEXT NOT NULL PRIMARY KEY,
		puid TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		owner_puid TEXT,
		hostname TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventsTable = `CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		puid TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		starts_at TIMESTAMP,
		ends_at TIMESTAMP,
		creator_puid TEXT NOT NULL,
		hostname TEXT NOT NULL DEFAULT '',
		public INTEGER DEFAULT 0,
		cancelled INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventAttendeesTable = `CREATE TABLE IF NOT EXISTS event_attendees (
		event_puid TEXT NOT NULL,
		user_puid TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_puid, user_puid)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		cuid TEXT UNIQUE NOT NULL,
		author_puid TEXT NOT NULL,
		profile_puid TEXT NOT NULL DEFAULT '',
		group_puid TEXT NOT NULL DEFAULT '',
		event_puid TEXT NOT NULL DEFAULT '',
		content TEXT,
		privacy TEXT NOT NULL DEFAULT 'friends',
		location TEXT,
		repost_of_cuid TEXT NOT NULL DEFAULT '',
		comments_closed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_cuid ON posts(cuid);
		CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_puid);
		CREATE INDEX IF NOT EXISTS idx_posts_group ON posts(group_puid);
		CREATE INDEX IF NOT EXISTS idx_posts_event ON posts(event_puid);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
	`

	sqlCreateMediaItemsTable = `CREATE TABLE IF NOT EXISTS media_items (
		id TEXT NOT NULL PRIMARY KEY,
		muid TEXT UNIQUE NOT NULL,
		post_cuid TEXT NOT NULL,
		path TEXT,
		description TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		cuid TEXT UNIQUE NOT NULL,
		post_cuid TEXT NOT NULL,
		parent_cuid TEXT NOT NULL DEFAULT '',
		author_puid TEXT NOT NULL,
		content TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_cuid);
		CREATE INDEX IF NOT EXISTS idx_comments_cuid ON comments(cuid);
	`

	sqlCreateMediaCommentsTable = `CREATE TABLE IF NOT EXISTS media_comments (
		id TEXT NOT NULL PRIMARY KEY,
		cuid TEXT UNIQUE NOT NULL,
		muid TEXT NOT NULL,
		parent_cuid TEXT NOT NULL DEFAULT '',
		author_puid TEXT NOT NULL,
		content TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePostMentionsTable = `CREATE TABLE IF NOT EXISTS post_mentions (
		post_cuid TEXT NOT NULL,
		user_puid TEXT NOT NULL,
		UNIQUE(post_cuid, user_puid)
	)`

	sqlCreatePostTagsTable = `CREATE TABLE IF NOT EXISTS post_tags (
		post_cuid TEXT NOT NULL,
		user_puid TEXT NOT NULL,
		UNIQUE(post_cuid, user_puid)
	)`

	sqlCreateMediaTagsTable = `CREATE TABLE IF NOT EXISTS media_tags (
		muid TEXT NOT NULL,
		user_puid TEXT NOT NULL,
		UNIQUE(muid, user_puid)
	)`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		id TEXT NOT NULL PRIMARY KEY,
		post_cuid TEXT UNIQUE NOT NULL,
		question TEXT NOT NULL,
		allow_multiple INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePollOptionsTable = `CREATE TABLE IF NOT EXISTS poll_options (
		id TEXT NOT NULL PRIMARY KEY,
		poll_id TEXT NOT NULL,
		option_text TEXT NOT NULL
	)`

	sqlCreatePollVotesTable = `CREATE TABLE IF NOT EXISTS poll_votes (
		option_id TEXT NOT NULL,
		voter_puid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(option_id, voter_puid)
	)`

	// Social graph
	sqlCreateFriendsTable = `CREATE TABLE IF NOT EXISTS friends (
		user_puid TEXT NOT NULL,
		friend_puid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_puid, friend_puid)
	)`

	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		page_puid TEXT NOT NULL,
		follower_puid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(page_puid, follower_puid)
	)`

	sqlCreateGroupMembersTable = `CREATE TABLE IF NOT EXISTS group_members (
		group_puid TEXT NOT NULL,
		member_puid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(group_puid, member_puid)
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		user_puid TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref_id TEXT,
		message TEXT,
		read INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_puid);
	`

	// Received envelope log (debugging, not the idempotency source of truth)
	sqlCreateEnvelopeLogTable = `CREATE TABLE IF NOT EXISTS envelope_log (
		id TEXT NOT NULL PRIMARY KEY,
		envelope_type TEXT NOT NULL,
		actor_puid TEXT,
		object_id TEXT,
		sender_host TEXT,
		raw_json TEXT,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"nodes", sqlCreateNodesTable},
			{"pair_tokens", sqlCreatePairTokensTable},
			{"users", sqlCreateUsersTable},
			{"social_groups", sqlCreateGroupsTable},
			{"events", sqlCreateEventsTable},
			{"event_attendees", sqlCreateEventAttendeesTable},
			{"posts", sqlCreatePostsTable},
			{"media_items", sqlCreateMediaItemsTable},
			{"comments", sqlCreateCommentsTable},
			{"media_comments", sqlCreateMediaCommentsTable},
			{"post_mentions", sqlCreatePostMentionsTable},
			{"post_tags", sqlCreatePostTagsTable},
			{"media_tags", sqlCreateMediaTagsTable},
			{"polls", sqlCreatePollsTable},
			{"poll_options", sqlCreatePollOptionsTable},
			{"poll_votes", sqlCreatePollVotesTable},
			{"friends", sqlCreateFriendsTable},
			{"followers", sqlCreateFollowersTable},
			{"group_members", sqlCreateGroupMembersTable},
			{"notifications", sqlCreateNotificationsTable},
			{"envelope_log", sqlCreateEnvelopeLogTable},
		}

		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateNodesIndices,
			sqlCreateUsersIndices,
			sqlCreatePostsIndices,
			sqlCreateCommentsIndices,
			sqlCreateNotificationsIndices,
		}
		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}
