package domain

import (
	"github.com/google/uuid"
	"time"
)

// ReceivedEnvelope logs one inbound envelope for debugging. Envelopes
// themselves are not durable; the reconciled entities are.
type ReceivedEnvelope struct {
	Id         uuid.UUID
	Type       string
	ActorPUID  string
	ObjectId   string // global id of the envelope's subject, if any
	SenderHost string
	RawJSON    string
	Processed  bool
	CreatedAt  time.Time
}
