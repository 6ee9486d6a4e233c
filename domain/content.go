package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Post privacy levels
const (
	PrivacyPublic  = "public"
	PrivacyFriends = "friends"
	PrivacyPrivate = "private"
)

// Post is a timeline item. AuthorPUID wrote it; ProfilePUID is the profile
// it sits on (differs from the author for wall posts). At most one of
// GroupPUID / EventPUID is set.
type Post struct {
	Id             uuid.UUID
	CUID           string
	AuthorPUID     string
	ProfilePUID    string
	GroupPUID      string
	EventPUID      string
	Content        string
	Privacy        string
	Location       string
	RepostOfCUID   string
	CommentsClosed bool
	CreatedAt      time.Time
	EditedAt       *time.Time
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tCUID: %s \n\tAuthor: %s \n\tPrivacy: %s \n\tCreatedAt: %s)", p.CUID, p.AuthorPUID, p.Privacy, p.CreatedAt)
}

// MediaItem is an uploaded file attached to a post.
type MediaItem struct {
	Id          uuid.UUID
	MUID        string
	PostCUID    string
	Path        string
	Description string
	CreatedAt   time.Time
}

// Comment replies to a post; ParentCUID is set for nested replies.
type Comment struct {
	Id         uuid.UUID
	CUID       string
	PostCUID   string
	ParentCUID string
	AuthorPUID string
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time
}

// MediaComment replies to a media item rather than a post.
type MediaComment struct {
	Id         uuid.UUID
	CUID       string
	MUID       string
	ParentCUID string
	AuthorPUID string
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time
}
