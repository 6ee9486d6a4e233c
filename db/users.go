package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

// User queries (local users and remote stubs share the table; a stub has a
// non-empty hostname)
const (
	sqlInsertUser = `INSERT INTO users(id, puid, username, display_name, avatar_path, hostname, kind, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectUserByPUID     = `SELECT id, puid, username, display_name, avatar_path, hostname, kind, created_at FROM users WHERE puid = ?`
	sqlSelectUserByUsername = `SELECT id, puid, username, display_name, avatar_path, hostname, kind, created_at FROM users WHERE username = ? AND hostname = ''`

	sqlUpdateUserDisplay = `UPDATE users SET display_name = ?, avatar_path = ? WHERE puid = ?`
)

func (db *DB) CreateUser(user *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser,
			user.Id.String(),
			user.PUID,
			user.Username,
			user.DisplayName,
			user.AvatarPath,
			user.Hostname,
			user.Kind,
			user.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadUserByPUID(puid string) (error, *domain.User) {
	return db.scanUser(db.db.QueryRow(sqlSelectUserByPUID, puid))
}

func (db *DB) ReadUserByUsername(username string) (error, *domain.User) {
	return db.scanUser(db.db.QueryRow(sqlSelectUserByUsername, username))
}

// UpdateUserDisplay refreshes the mutable display attributes only. The
// PUID, username and hostname of a stub are immutable once created.
func (db *DB) UpdateUserDisplay(puid, displayName, avatarPath string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateUserDisplay, displayName, avatarPath, puid)
		return err
	})
}

func (db *DB) scanUser(row *sql.Row) (error, *domain.User) {
	var user domain.User
	var idStr string
	var displayName, avatarPath sql.NullString
	err := row.Scan(
		&idStr,
		&user.PUID,
		&user.Username,
		&displayName,
		&avatarPath,
		&user.Hostname,
		&user.Kind,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	user.Id, _ = uuid.Parse(idStr)
	user.DisplayName = displayName.String
	user.AvatarPath = avatarPath.String
	return nil, &user
}

// SearchUsers finds local users whose username or display name contains
// the query, for the signed discovery endpoint.
const sqlSearchLocalUsers = `SELECT id, puid, username, display_name, avatar_path, hostname, kind, created_at FROM users
								WHERE hostname = '' AND (username LIKE ? OR display_name LIKE ?)
								ORDER BY username LIMIT ?`

func (db *DB) SearchLocalUsers(query string, limit int) (error, *[]domain.User) {
	pattern := "%" + query + "%"
	rows, err := db.db.Query(sqlSearchLocalUsers, pattern, pattern, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		var idStr string
		var displayName, avatarPath sql.NullString
		if err := rows.Scan(&idStr, &user.PUID, &user.Username, &displayName, &avatarPath, &user.Hostname, &user.Kind, &user.CreatedAt); err != nil {
			return err, &users
		}
		user.Id, _ = uuid.Parse(idStr)
		user.DisplayName = displayName.String
		user.AvatarPath = avatarPath.String
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return err, &users
	}
	return nil, &users
}
