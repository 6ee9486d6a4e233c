package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertEvent = `INSERT INTO events(id, puid, title, description, location, starts_at, ends_at, creator_puid, hostname, public, cancelled, created_at)
						VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectEventByPUID = `SELECT id, puid, title, description, location, starts_at, ends_at, creator_puid, hostname, public, cancelled, created_at FROM events WHERE puid = ?`

	sqlUpdateEvent = `UPDATE events SET title = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, public = ? WHERE puid = ?`

	sqlCancelEvent = `UPDATE events SET cancelled = 1 WHERE puid = ?`

	sqlSearchPublicEvents = `SELECT id, puid, title, description, location, starts_at, ends_at, creator_puid, hostname, public, cancelled, created_at FROM events
								WHERE hostname = '' AND public = 1 AND cancelled = 0 AND title LIKE ? ORDER BY starts_at LIMIT ?`
)

func (db *DB) CreateEvent(event *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEvent,
			event.Id.String(),
			event.PUID,
			event.Title,
			event.Description,
			event.Location,
			event.StartsAt,
			event.EndsAt,
			event.CreatorPUID,
			event.Hostname,
			event.Public,
			event.Cancelled,
			event.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadEventByPUID(puid string) (error, *domain.Event) {
	row := db.db.QueryRow(sqlSelectEventByPUID, puid)
	return db.scanEvent(row)
}

func (db *DB) scanEvent(row *sql.Row) (error, *domain.Event) {
	var event domain.Event
	var idStr string
	var description, location sql.NullString
	err := row.Scan(
		&idStr,
		&event.PUID,
		&event.Title,
		&description,
		&location,
		&event.StartsAt,
		&event.EndsAt,
		&event.CreatorPUID,
		&event.Hostname,
		&event.Public,
		&event.Cancelled,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	event.Id, _ = uuid.Parse(idStr)
	event.Description = description.String
	event.Location = location.String
	return nil, &event
}

func (db *DB) UpdateEvent(event *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateEvent,
			event.Title,
			event.Description,
			event.Location,
			event.StartsAt,
			event.EndsAt,
			event.Public,
			event.PUID,
		)
		return err
	})
}

func (db *DB) CancelEvent(puid string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlCancelEvent, puid)
		return err
	})
}

func (db *DB) SearchPublicEvents(query string, limit int) (error, *[]domain.Event) {
	rows, err := db.db.Query(sqlSearchPublicEvents, "%"+query+"%", limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var idStr string
		var description, location sql.NullString
		if err := rows.Scan(&idStr, &event.PUID, &event.Title, &description, &location, &event.StartsAt, &event.EndsAt, &event.CreatorPUID, &event.Hostname, &event.Public, &event.Cancelled, &event.CreatedAt); err != nil {
			return err, &events
		}
		event.Id, _ = uuid.Parse(idStr)
		event.Description = description.String
		event.Location = location.String
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return err, &events
	}
	return nil, &events
}

// Attendance queries
const (
	sqlUpsertAttendee = `INSERT INTO event_attendees(event_puid, user_puid, response, created_at) VALUES (?, ?, ?, ?)
							ON CONFLICT(event_puid, user_puid) DO UPDATE SET response = excluded.response`

	sqlSelectAttendees = `SELECT event_puid, user_puid, response, created_at FROM event_attendees WHERE event_puid = ?`
)

func (db *DB) UpsertAttendee(att *domain.EventAttendee) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertAttendee,
			att.EventPUID,
			att.UserPUID,
			att.Response,
			att.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAttendees(eventPUID string) (error, *[]domain.EventAttendee) {
	rows, err := db.db.Query(sqlSelectAttendees, eventPUID)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var attendees []domain.EventAttendee
	for rows.Next() {
		var att domain.EventAttendee
		if err := rows.Scan(&att.EventPUID, &att.UserPUID, &att.Response, &att.CreatedAt); err != nil {
			return err, &attendees
		}
		attendees = append(attendees, att)
	}
	if err = rows.Err(); err != nil {
		return err, &attendees
	}
	return nil, &attendees
}
