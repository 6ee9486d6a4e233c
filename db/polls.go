package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

const (
	sqlInsertPoll       = `INSERT INTO polls(id, post_cuid, question, allow_multiple, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectPollByPost = `SELECT id, post_cuid, question, allow_multiple, created_at FROM polls WHERE post_cuid = ?`

	sqlInsertPollOption  = `INSERT INTO poll_options(id, poll_id, option_text) VALUES (?, ?, ?)`
	sqlSelectPollOptions = `SELECT id, poll_id, option_text FROM poll_options WHERE poll_id = ?`
	sqlDeletePollOption  = `DELETE FROM poll_options WHERE id = ?`

	sqlInsertPollVote = `INSERT OR IGNORE INTO poll_votes(option_id, voter_puid, created_at) VALUES (?, ?, ?)`
	sqlDeletePollVote = `DELETE FROM poll_votes WHERE option_id = ? AND voter_puid = ?`
)

func (db *DB) CreatePoll(poll *domain.Poll, options []domain.PollOption) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPoll,
			poll.Id.String(),
			poll.PostCUID,
			poll.Question,
			poll.AllowMultiple,
			poll.CreatedAt,
		)
		if err != nil {
			return err
		}
		for _, opt := range options {
			if _, err := tx.Exec(sqlInsertPollOption, opt.Id.String(), opt.PollId.String(), opt.Text); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) ReadPollByPost(postCUID string) (error, *domain.Poll) {
	row := db.db.QueryRow(sqlSelectPollByPost, postCUID)
	var poll domain.Poll
	var idStr string
	err := row.Scan(&idStr, &poll.PostCUID, &poll.Question, &poll.AllowMultiple, &poll.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	poll.Id, _ = uuid.Parse(idStr)
	return nil, &poll
}

func (db *DB) ReadPollOptions(pollId uuid.UUID) (error, *[]domain.PollOption) {
	rows, err := db.db.Query(sqlSelectPollOptions, pollId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var options []domain.PollOption
	for rows.Next() {
		var opt domain.PollOption
		var idStr, pollIdStr string
		if err := rows.Scan(&idStr, &pollIdStr, &opt.Text); err != nil {
			return err, &options
		}
		opt.Id, _ = uuid.Parse(idStr)
		opt.PollId, _ = uuid.Parse(pollIdStr)
		options = append(options, opt)
	}
	if err = rows.Err(); err != nil {
		return err, &options
	}
	return nil, &options
}

func (db *DB) CreatePollOption(opt *domain.PollOption) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPollOption, opt.Id.String(), opt.PollId.String(), opt.Text)
		return err
	})
}

// DeletePollOption removes the option and any votes attached to it.
func (db *DB) DeletePollOption(optionId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM poll_votes WHERE option_id = ?`, optionId.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeletePollOption, optionId.String())
		return err
	})
}

func (db *DB) CreatePollVote(vote *domain.PollVote) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPollVote, vote.OptionId.String(), vote.VoterPUID, vote.CreatedAt)
		return err
	})
}

func (db *DB) DeletePollVote(optionId uuid.UUID, voterPUID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePollVote, optionId.String(), voterPUID)
		return err
	})
}
