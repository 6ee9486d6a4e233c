package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertComment = `INSERT INTO comments(id, cuid, post_cuid, parent_cuid, author_puid, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlSelectCommentByCUID = `SELECT id, cuid, post_cuid, parent_cuid, author_puid, content, created_at, edited_at FROM comments WHERE cuid = ?`

	sqlSelectCommentsByPost = `SELECT id, cuid, post_cuid, parent_cuid, author_puid, content, created_at, edited_at FROM comments
									WHERE post_cuid = ? ORDER BY created_at ASC`

	sqlUpdateCommentContent = `UPDATE comments SET content = ?, edited_at = ? WHERE cuid = ?`

	sqlDeleteComment = `DELETE FROM comments WHERE cuid = ?`
)

func (db *DB) CreateComment(comment *domain.Comment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertComment,
			comment.Id.String(),
			comment.CUID,
			comment.PostCUID,
			comment.ParentCUID,
			comment.AuthorPUID,
			comment.Content,
			comment.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadCommentByCUID(cuid string) (error, *domain.Comment) {
	row := db.db.QueryRow(sqlSelectCommentByCUID, cuid)
	var comment domain.Comment
	var idStr string
	var content sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(&idStr, &comment.CUID, &comment.PostCUID, &comment.ParentCUID, &comment.AuthorPUID, &content, &comment.CreatedAt, &editedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	comment.Id, _ = uuid.Parse(idStr)
	comment.Content = content.String
	if editedAt.Valid {
		comment.EditedAt = &editedAt.Time
	}
	return nil, &comment
}

func (db *DB) ReadCommentsByPost(postCUID string) (error, *[]domain.Comment) {
	rows, err := db.db.Query(sqlSelectCommentsByPost, postCUID)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		var idStr string
		var content sql.NullString
		var editedAt sql.NullTime
		if err := rows.Scan(&idStr, &comment.CUID, &comment.PostCUID, &comment.ParentCUID, &comment.AuthorPUID, &content, &comment.CreatedAt, &editedAt); err != nil {
			return err, &comments
		}
		comment.Id, _ = uuid.Parse(idStr)
		comment.Content = content.String
		if editedAt.Valid {
			comment.EditedAt = &editedAt.Time
		}
		comments = append(comments, comment)
	}
	if err = rows.Err(); err != nil {
		return err, &comments
	}
	return nil, &comments
}

func (db *DB) UpdateCommentContent(cuid, content string, editedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateCommentContent, content, editedAt, cuid)
		return err
	})
}

func (db *DB) DeleteComment(cuid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteComment, cuid)
		return err
	})
}

// Media comment queries
const (
	sqlInsertMediaComment = `INSERT INTO media_comments(id, cuid, muid, parent_cuid, author_puid, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlSelectMediaCommentByCUID = `SELECT id, cuid, muid, parent_cuid, author_puid, content, created_at, edited_at FROM media_comments WHERE cuid = ?`

	sqlUpdateMediaCommentContent = `UPDATE media_comments SET content = ?, edited_at = ? WHERE cuid = ?`

	sqlDeleteMediaComment = `DELETE FROM media_comments WHERE cuid = ?`
)

func (db *DB) CreateMediaComment(comment *domain.MediaComment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMediaComment,
			comment.Id.String(),
			comment.CUID,
			comment.MUID,
			comment.ParentCUID,
			comment.AuthorPUID,
			comment.Content,
			comment.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadMediaCommentByCUID(cuid string) (error, *domain.MediaComment) {
	row := db.db.QueryRow(sqlSelectMediaCommentByCUID, cuid)
	var comment domain.MediaComment
	var idStr string
	var content sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(&idStr, &comment.CUID, &comment.MUID, &comment.ParentCUID, &comment.AuthorPUID, &content, &comment.CreatedAt, &editedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	comment.Id, _ = uuid.Parse(idStr)
	comment.Content = content.String
	if editedAt.Valid {
		comment.EditedAt = &editedAt.Time
	}
	return nil, &comment
}

func (db *DB) UpdateMediaCommentContent(cuid, content string, editedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateMediaCommentContent, content, editedAt, cuid)
		return err
	})
}

func (db *DB) DeleteMediaComment(cuid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteMediaComment, cuid)
		return err
	})
}
