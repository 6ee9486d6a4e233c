package domain

import (
	"github.com/google/uuid"
	"time"
)

// Notification kinds emitted by the inbox reconciler for local users.
const (
	NotifyMention     = "mention"
	NotifyGroupPost   = "group_post"
	NotifyEventInvite = "event_invite"
	NotifyEventChange = "event_change"
	NotifyComment     = "comment"
	NotifyFollowPost  = "follow_post"
)

// Notification is shown to a local user; RefId is the global id of the
// item that caused it.
type Notification struct {
	Id        uuid.UUID
	UserPUID  string
	Kind      string
	RefId     string
	Message   string
	Read      bool
	CreatedAt time.Time
}
