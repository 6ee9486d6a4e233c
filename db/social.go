package db

import (
	"database/sql"
	"time"
)

// Social graph queries. The resolver only ever needs PUIDs and hostnames,
// so these return slim projections instead of full entities.
const (
	sqlInsertFriend = `INSERT OR IGNORE INTO friends(user_puid, friend_puid, created_at) VALUES (?, ?, ?)`
	sqlDeleteFriend = `DELETE FROM friends WHERE user_puid = ? AND friend_puid = ?`

	sqlSelectFriendHostnames = `SELECT DISTINCT users.hostname FROM friends
									INNER JOIN users ON users.puid = friends.friend_puid
									WHERE friends.user_puid = ? AND users.hostname <> ''`

	sqlInsertFollower = `INSERT OR IGNORE INTO followers(page_puid, follower_puid, created_at) VALUES (?, ?, ?)`
	sqlDeleteFollower = `DELETE FROM followers WHERE page_puid = ? AND follower_puid = ?`

	sqlSelectFollowerHostnames = `SELECT DISTINCT users.hostname FROM followers
									INNER JOIN users ON users.puid = followers.follower_puid
									WHERE followers.page_puid = ? AND users.hostname <> ''`

	sqlInsertGroupMember = `INSERT OR IGNORE INTO group_members(group_puid, member_puid, created_at) VALUES (?, ?, ?)`
	sqlDeleteGroupMember = `DELETE FROM group_members WHERE group_puid = ? AND member_puid = ?`

	sqlSelectGroupMemberHostnames = `SELECT DISTINCT users.hostname FROM group_members
									INNER JOIN users ON users.puid = group_members.member_puid
									WHERE group_members.group_puid = ? AND users.hostname <> ''`

	sqlSelectAttendeeHostnames = `SELECT DISTINCT users.hostname FROM event_attendees
									INNER JOIN users ON users.puid = event_attendees.user_puid
									WHERE event_attendees.event_puid = ? AND users.hostname <> ''`

	sqlSelectLocalGroupMemberPUIDs = `SELECT group_members.member_puid FROM group_members
									INNER JOIN users ON users.puid = group_members.member_puid
									WHERE group_members.group_puid = ? AND users.hostname = ''`

	sqlSelectLocalAttendeePUIDs = `SELECT event_attendees.user_puid FROM event_attendees
									INNER JOIN users ON users.puid = event_attendees.user_puid
									WHERE event_attendees.event_puid = ? AND users.hostname = ''`

	sqlSelectLocalFollowerPUIDs = `SELECT followers.follower_puid FROM followers
									INNER JOIN users ON users.puid = followers.follower_puid
									WHERE followers.page_puid = ? AND users.hostname = ''`
)

func (db *DB) CreateFriendship(userPUID, friendPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		now := time.Now()
		if _, err := tx.Exec(sqlInsertFriend, userPUID, friendPUID, now); err != nil {
			return err
		}
		_, err := tx.Exec(sqlInsertFriend, friendPUID, userPUID, now)
		return err
	})
}

func (db *DB) DeleteFriendship(userPUID, friendPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteFriend, userPUID, friendPUID); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteFriend, friendPUID, userPUID)
		return err
	})
}

// ReadFriendHostnames returns the distinct remote hostnames of a user's
// friends.
func (db *DB) ReadFriendHostnames(userPUID string) (error, []string) {
	return db.readCollection(sqlSelectFriendHostnames, userPUID)
}

func (db *DB) CreateFollower(pagePUID, followerPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollower, pagePUID, followerPUID, time.Now())
		return err
	})
}

func (db *DB) DeleteFollower(pagePUID, followerPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, pagePUID, followerPUID)
		return err
	})
}

func (db *DB) ReadFollowerHostnames(pagePUID string) (error, []string) {
	return db.readCollection(sqlSelectFollowerHostnames, pagePUID)
}

func (db *DB) CreateGroupMember(groupPUID, memberPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertGroupMember, groupPUID, memberPUID, time.Now())
		return err
	})
}

func (db *DB) DeleteGroupMember(groupPUID, memberPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteGroupMember, groupPUID, memberPUID)
		return err
	})
}

func (db *DB) ReadGroupMemberHostnames(groupPUID string) (error, []string) {
	return db.readCollection(sqlSelectGroupMemberHostnames, groupPUID)
}

func (db *DB) ReadAttendeeHostnames(eventPUID string) (error, []string) {
	return db.readCollection(sqlSelectAttendeeHostnames, eventPUID)
}

// Local projections, used when the reconciler notifies this node's own
// users about federated activity.

func (db *DB) ReadLocalGroupMemberPUIDs(groupPUID string) (error, []string) {
	return db.readCollection(sqlSelectLocalGroupMemberPUIDs, groupPUID)
}

func (db *DB) ReadLocalAttendeePUIDs(eventPUID string) (error, []string) {
	return db.readCollection(sqlSelectLocalAttendeePUIDs, eventPUID)
}

func (db *DB) ReadLocalFollowerPUIDs(pagePUID string) (error, []string) {
	return db.readCollection(sqlSelectLocalFollowerPUIDs, pagePUID)
}
