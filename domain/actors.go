package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Actor kinds
const (
	ActorKindPerson = "person"
	ActorKindPage   = "page"
)

// User is a person or public page. Local users have an empty Hostname;
// a non-empty Hostname marks the row as a stub for a foreign user whose
// canonical copy lives on that node. A stub's PUID never changes, only its
// display attributes may be refreshed.
type User struct {
	Id          uuid.UUID
	PUID        string
	Username    string // local handle; stubs get a generated placeholder
	DisplayName string
	AvatarPath  string
	Hostname    string
	Kind        string
	CreatedAt   time.Time
}

func (u *User) IsRemote() bool {
	return u.Hostname != ""
}

func (u *User) ToString() string {
	return fmt.Sprintf("\n\tPUID: %s \n\tUsername: %s \n\tHostname: %s \n\tKind: %s)", u.PUID, u.Username, u.Hostname, u.Kind)
}

// Group is a shared space. Remote stubs carry the origin Hostname; the
// origin node is the single source of truth for a group's membership.
type Group struct {
	Id          uuid.UUID
	PUID        string
	Name        string
	Description string
	OwnerPUID   string
	Hostname    string
	CreatedAt   time.Time
}

func (g *Group) IsRemote() bool {
	return g.Hostname != ""
}

// Event is a calendar entry, possibly announced by a public page.
// CreatorPUID is the only identity allowed to update or cancel it.
type Event struct {
	Id          uuid.UUID
	PUID        string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	CreatorPUID string
	Hostname    string
	Public      bool // public visibility (page announcements broadcast)
	Cancelled   bool
	CreatedAt   time.Time
}

func (e *Event) IsRemote() bool {
	return e.Hostname != ""
}

// Event attendance responses
const (
	EventResponseAccepted  = "accepted"
	EventResponseDeclined  = "declined"
	EventResponseTentative = "tentative"
)

// EventAttendee links a user to an event with their response.
type EventAttendee struct {
	EventPUID string
	UserPUID  string
	Response  string
	CreatedAt time.Time
}
