package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(id, user_puid, kind, ref_id, message, read, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`

	sqlSelectNotificationsByUser = `SELECT id, user_puid, kind, ref_id, message, read, created_at FROM notifications
										WHERE user_puid = ? ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateNotification(n *domain.Notification) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.Id.String(),
			n.UserPUID,
			n.Kind,
			n.RefId,
			n.Message,
			n.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadNotificationsByUser(userPUID string, limit int) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotificationsByUser, userPUID, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var idStr string
		var refId, message sql.NullString
		if err := rows.Scan(&idStr, &n.UserPUID, &n.Kind, &refId, &message, &n.Read, &n.CreatedAt); err != nil {
			return err, &notifications
		}
		n.Id, _ = uuid.Parse(idStr)
		n.RefId = refId.String
		n.Message = message.String
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return err, &notifications
	}
	return nil, &notifications
}

// Envelope log
const (
	sqlInsertEnvelopeLog = `INSERT INTO envelope_log(id, envelope_type, actor_puid, object_id, sender_host, raw_json, processed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlMarkEnvelopeDone  = `UPDATE envelope_log SET processed = 1 WHERE id = ?`
)

func (db *DB) CreateReceivedEnvelope(env *domain.ReceivedEnvelope) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEnvelopeLog,
			env.Id.String(),
			env.Type,
			env.ActorPUID,
			env.ObjectId,
			env.SenderHost,
			env.RawJSON,
			env.Processed,
			env.CreatedAt,
		)
		return err
	})
}

func (db *DB) MarkEnvelopeProcessed(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkEnvelopeDone, id.String())
		return err
	})
}
