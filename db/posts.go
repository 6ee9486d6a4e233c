package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertPost = `INSERT INTO posts(id, cuid, author_puid, profile_puid, group_puid, event_puid, content, privacy, location, repost_of_cuid, comments_closed, created_at)
						VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectPostByCUID = `SELECT id, cuid, author_puid, profile_puid, group_puid, event_puid, content, privacy, location, repost_of_cuid, comments_closed, created_at, edited_at FROM posts WHERE cuid = ?`

	sqlUpdatePost = `UPDATE posts SET content = ?, privacy = ?, location = ?, edited_at = ? WHERE cuid = ?`

	sqlUpdatePostContent = `UPDATE posts SET content = ?, edited_at = ? WHERE cuid = ?`

	sqlUpdatePostCommentsClosed = `UPDATE posts SET comments_closed = ? WHERE cuid = ?`

	sqlDeletePost = `DELETE FROM posts WHERE cuid = ?`

	sqlSelectPublicLocalPosts = `SELECT posts.id, posts.cuid, posts.author_puid, posts.profile_puid, posts.group_puid, posts.event_puid, posts.content, posts.privacy, posts.location, posts.repost_of_cuid, posts.comments_closed, posts.created_at, posts.edited_at FROM posts
									INNER JOIN users ON users.puid = posts.author_puid
									WHERE posts.privacy = 'public' AND users.hostname = ''
									ORDER BY posts.created_at DESC LIMIT ?`
)

func (db *DB) CreatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.CUID,
			post.AuthorPUID,
			post.ProfilePUID,
			post.GroupPUID,
			post.EventPUID,
			post.Content,
			post.Privacy,
			post.Location,
			post.RepostOfCUID,
			post.CommentsClosed,
			post.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPostByCUID(cuid string) (error, *domain.Post) {
	row := db.db.QueryRow(sqlSelectPostByCUID, cuid)
	return db.scanPost(row)
}

func (db *DB) scanPost(row *sql.Row) (error, *domain.Post) {
	var post domain.Post
	var idStr string
	var content, location sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(
		&idStr,
		&post.CUID,
		&post.AuthorPUID,
		&post.ProfilePUID,
		&post.GroupPUID,
		&post.EventPUID,
		&content,
		&post.Privacy,
		&location,
		&post.RepostOfCUID,
		&post.CommentsClosed,
		&post.CreatedAt,
		&editedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	post.Id, _ = uuid.Parse(idStr)
	post.Content = content.String
	post.Location = location.String
	if editedAt.Valid {
		post.EditedAt = &editedAt.Time
	}
	return nil, &post
}

func (db *DB) UpdatePost(cuid, content, privacy, location string, editedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePost, content, privacy, location, editedAt, cuid)
		return err
	})
}

// UpdatePostContent replaces the text only; used by the mention removal
// handlers which apply a sender-precomputed replacement.
func (db *DB) UpdatePostContent(cuid, content string, editedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePostContent, content, editedAt, cuid)
		return err
	})
}

func (db *DB) UpdatePostCommentsClosed(cuid string, closed bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePostCommentsClosed, closed, cuid)
		return err
	})
}

// DeletePost removes the post and its dependents. Deleting an absent post
// is a no-op, not an error.
func (db *DB) DeletePost(cuid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM comments WHERE post_cuid = ?`, cuid); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM post_mentions WHERE post_cuid = ?`, cuid); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM post_tags WHERE post_cuid = ?`, cuid); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM media_items WHERE post_cuid = ?`, cuid); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeletePost, cuid)
		return err
	})
}

func (db *DB) ReadPublicLocalPosts(limit int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPublicLocalPosts, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		var idStr string
		var content, location sql.NullString
		var editedAt sql.NullTime
		if err := rows.Scan(&idStr, &post.CUID, &post.AuthorPUID, &post.ProfilePUID, &post.GroupPUID, &post.EventPUID, &content, &post.Privacy, &location, &post.RepostOfCUID, &post.CommentsClosed, &post.CreatedAt, &editedAt); err != nil {
			return err, &posts
		}
		post.Id, _ = uuid.Parse(idStr)
		post.Content = content.String
		post.Location = location.String
		if editedAt.Valid {
			post.EditedAt = &editedAt.Time
		}
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}

// Media item queries
const (
	sqlInsertMediaItem     = `INSERT INTO media_items(id, muid, post_cuid, path, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectMediaItem     = `SELECT id, muid, post_cuid, path, description, created_at FROM media_items WHERE muid = ?`
	sqlSelectPostMedia     = `SELECT id, muid, post_cuid, path, description, created_at FROM media_items WHERE post_cuid = ?`
	sqlDeleteMediaByPost   = `DELETE FROM media_items WHERE post_cuid = ?`
)

func (db *DB) CreateMediaItem(item *domain.MediaItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMediaItem,
			item.Id.String(),
			item.MUID,
			item.PostCUID,
			item.Path,
			item.Description,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadMediaItemByMUID(muid string) (error, *domain.MediaItem) {
	row := db.db.QueryRow(sqlSelectMediaItem, muid)
	var item domain.MediaItem
	var idStr string
	var path, description sql.NullString
	err := row.Scan(&idStr, &item.MUID, &item.PostCUID, &path, &description, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	item.Id, _ = uuid.Parse(idStr)
	item.Path = path.String
	item.Description = description.String
	return nil, &item
}

func (db *DB) ReadMediaByPost(postCUID string) (error, *[]domain.MediaItem) {
	rows, err := db.db.Query(sqlSelectPostMedia, postCUID)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.MediaItem
	for rows.Next() {
		var item domain.MediaItem
		var idStr string
		var path, description sql.NullString
		if err := rows.Scan(&idStr, &item.MUID, &item.PostCUID, &path, &description, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.Path = path.String
		item.Description = description.String
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) ReplacePostMedia(postCUID string, items []domain.MediaItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteMediaByPost, postCUID); err != nil {
			return err
		}
		for _, item := range items {
			if _, err := tx.Exec(sqlInsertMediaItem, item.Id.String(), item.MUID, item.PostCUID, item.Path, item.Description, item.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Mention and tag collections
const (
	sqlInsertPostMention  = `INSERT OR IGNORE INTO post_mentions(post_cuid, user_puid) VALUES (?, ?)`
	sqlSelectPostMentions = `SELECT user_puid FROM post_mentions WHERE post_cuid = ?`
	sqlDeletePostMention  = `DELETE FROM post_mentions WHERE post_cuid = ? AND user_puid = ?`
	sqlDeletePostMentions = `DELETE FROM post_mentions WHERE post_cuid = ?`

	sqlInsertPostTag  = `INSERT OR IGNORE INTO post_tags(post_cuid, user_puid) VALUES (?, ?)`
	sqlSelectPostTags = `SELECT user_puid FROM post_tags WHERE post_cuid = ?`
	sqlDeletePostTag  = `DELETE FROM post_tags WHERE post_cuid = ? AND user_puid = ?`
	sqlDeletePostTags = `DELETE FROM post_tags WHERE post_cuid = ?`

	sqlInsertMediaTag  = `INSERT OR IGNORE INTO media_tags(muid, user_puid) VALUES (?, ?)`
	sqlSelectMediaTags = `SELECT user_puid FROM media_tags WHERE muid = ?`
	sqlDeleteMediaTag  = `DELETE FROM media_tags WHERE muid = ? AND user_puid = ?`
	sqlDeleteMediaTags = `DELETE FROM media_tags WHERE muid = ?`
)

func (db *DB) ReplacePostMentions(postCUID string, puids []string) error {
	return db.replaceCollection(sqlDeletePostMentions, sqlInsertPostMention, postCUID, puids)
}

func (db *DB) ReadPostMentions(postCUID string) (error, []string) {
	return db.readCollection(sqlSelectPostMentions, postCUID)
}

func (db *DB) DeletePostMention(postCUID, puid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostMention, postCUID, puid)
		return err
	})
}

func (db *DB) ReplacePostTags(postCUID string, puids []string) error {
	return db.replaceCollection(sqlDeletePostTags, sqlInsertPostTag, postCUID, puids)
}

func (db *DB) ReadPostTags(postCUID string) (error, []string) {
	return db.readCollection(sqlSelectPostTags, postCUID)
}

func (db *DB) DeletePostTag(postCUID, puid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostTag, postCUID, puid)
		return err
	})
}

func (db *DB) ReplaceMediaTags(muid string, puids []string) error {
	return db.replaceCollection(sqlDeleteMediaTags, sqlInsertMediaTag, muid, puids)
}

func (db *DB) ReadMediaTags(muid string) (error, []string) {
	return db.readCollection(sqlSelectMediaTags, muid)
}

func (db *DB) DeleteMediaTag(muid, puid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteMediaTag, muid, puid)
		return err
	})
}

func (db *DB) replaceCollection(deleteSQL, insertSQL, key string, puids []string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(deleteSQL, key); err != nil {
			return err
		}
		for _, puid := range puids {
			if _, err := tx.Exec(insertSQL, key, puid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) readCollection(query, key string) (error, []string) {
	rows, err := db.db.Query(query, key)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var puids []string
	for rows.Next() {
		var puid string
		if err := rows.Scan(&puid); err != nil {
			return err, puids
		}
		puids = append(puids, puid)
	}
	if err = rows.Err(); err != nil {
		return err, puids
	}
	return nil, puids
}
