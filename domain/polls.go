package domain

import (
	"github.com/google/uuid"
	"time"
)

// Poll hangs off a post. Options are matched by text across nodes (each
// node assigns its own option ids), so two options with identical text on
// one poll are indistinguishable remotely.
type Poll struct {
	Id            uuid.UUID
	PostCUID      string
	Question      string
	AllowMultiple bool
	CreatedAt     time.Time
}

type PollOption struct {
	Id     uuid.UUID
	PollId uuid.UUID
	Text   string
}

type PollVote struct {
	OptionId  uuid.UUID
	VoterPUID string
	CreatedAt time.Time
}
