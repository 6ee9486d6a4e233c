package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertGroup = `INSERT INTO social_groups(id, puid, name, description, owner_puid, hostname, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlSelectGroupByPUID = `SELECT id, puid, name, description, owner_puid, hostname, created_at FROM social_groups WHERE puid = ?`

	sqlUpdateGroupDisplay = `UPDATE social_groups SET name = ?, description = ? WHERE puid = ?`

	sqlSearchLocalGroups = `SELECT id, puid, name, description, owner_puid, hostname, created_at FROM social_groups
								WHERE hostname = '' AND name LIKE ? ORDER BY name LIMIT ?`
)

func (db *DB) CreateGroup(group *domain.Group) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertGroup,
			group.Id.String(),
			group.PUID,
			group.Name,
			group.Description,
			group.OwnerPUID,
			group.Hostname,
			group.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadGroupByPUID(puid string) (error, *domain.Group) {
	row := db.db.QueryRow(sqlSelectGroupByPUID, puid)
	var group domain.Group
	var idStr string
	var description, ownerPUID sql.NullString
	err := row.Scan(
		&idStr,
		&group.PUID,
		&group.Name,
		&description,
		&ownerPUID,
		&group.Hostname,
		&group.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	group.Id, _ = uuid.Parse(idStr)
	group.Description = description.String
	group.OwnerPUID = ownerPUID.String
	return nil, &group
}

func (db *DB) UpdateGroupDisplay(puid, name, description string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateGroupDisplay, name, description, puid)
		return err
	})
}

func (db *DB) SearchLocalGroups(query string, limit int) (error, *[]domain.Group) {
	rows, err := db.db.Query(sqlSearchLocalGroups, "%"+query+"%", limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var group domain.Group
		var idStr string
		var description, ownerPUID sql.NullString
		if err := rows.Scan(&idStr, &group.PUID, &group.Name, &description, &ownerPUID, &group.Hostname, &group.CreatedAt); err != nil {
			return err, &groups
		}
		group.Id, _ = uuid.Parse(idStr)
		group.Description = description.String
		group.OwnerPUID = ownerPUID.String
		groups = append(groups, group)
	}
	if err = rows.Err(); err != nil {
		return err, &groups
	}
	return nil, &groups
}
