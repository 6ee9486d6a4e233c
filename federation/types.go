package federation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EnvelopeType is the closed enumeration of wire mutations. Adding a kind
// means adding it here, to requiredFields, and to the dispatch switch in
// inbox.go.
type EnvelopeType string

const (
	TypePostCreate      EnvelopeType = "post_create"
	TypePostUpdate      EnvelopeType = "post_update"
	TypePostDelete      EnvelopeType = "post_delete"
	TypeEventPostCreate EnvelopeType = "event_post_create"

	TypeCommentCreate EnvelopeType = "comment_create"
	TypeCommentUpdate EnvelopeType = "comment_update"
	TypeCommentDelete EnvelopeType = "comment_delete"

	TypeMediaCommentCreate EnvelopeType = "media_comment_create"
	TypeMediaCommentUpdate EnvelopeType = "media_comment_update"
	TypeMediaCommentDelete EnvelopeType = "media_comment_delete"

	TypePostCommentStatusUpdate EnvelopeType = "post_comment_status_update"

	TypeEventInvite   EnvelopeType = "event_invite"
	TypeEventUpdate   EnvelopeType = "event_update"
	TypeEventCancel   EnvelopeType = "event_cancel"
	TypeEventResponse EnvelopeType = "event_response"

	TypeProfileUpdate EnvelopeType = "profile_update"

	TypeTagRemoval                EnvelopeType = "tag_removal"
	TypeMentionRemovalPost        EnvelopeType = "mention_removal_post"
	TypeMentionRemovalComment     EnvelopeType = "mention_removal_comment"
	TypeMentionRemovalMediaComm   EnvelopeType = "mention_removal_media_comment"
	TypeMediaTagsUpdate           EnvelopeType = "media_tags_update"
	TypeMediaTagRemoval           EnvelopeType = "media_tag_removal"

	TypePollCreate       EnvelopeType = "poll_create"
	TypePollVote         EnvelopeType = "poll_vote"
	TypePollUnvote       EnvelopeType = "poll_unvote"
	TypePollOptionAdd    EnvelopeType = "poll_option_add"
	TypePollOptionDelete EnvelopeType = "poll_option_delete"
)

// requiredFields lists the top-level JSON fields each type must carry,
// beyond "type" and "actor" which every envelope needs.
var requiredFields = map[EnvelopeType][]string{
	TypePostCreate:      {"cuid", "privacy"},
	TypePostUpdate:      {"cuid"},
	TypePostDelete:      {"cuid"},
	TypeEventPostCreate: {"cuid", "privacy", "event_puid"},

	TypeCommentCreate: {"cuid", "post_cuid"},
	TypeCommentUpdate: {"cuid"},
	TypeCommentDelete: {"cuid"},

	TypeMediaCommentCreate: {"cuid", "muid"},
	TypeMediaCommentUpdate: {"cuid"},
	TypeMediaCommentDelete: {"cuid"},

	TypePostCommentStatusUpdate: {"cuid", "closed"},

	TypeEventInvite:   {"event"},
	TypeEventUpdate:   {"event"},
	TypeEventCancel:   {"event_puid"},
	TypeEventResponse: {"event_puid", "response"},

	TypeProfileUpdate: {},

	TypeTagRemoval:              {"cuid", "puid"},
	TypeMentionRemovalPost:      {"cuid", "puid", "new_content"},
	TypeMentionRemovalComment:   {"cuid", "puid", "new_content"},
	TypeMentionRemovalMediaComm: {"cuid", "puid", "new_content"},
	TypeMediaTagsUpdate:         {"muid", "tags"},
	TypeMediaTagRemoval:         {"muid", "puid"},

	TypePollCreate:       {"post_cuid", "question", "options"},
	TypePollVote:         {"post_cuid", "option_text"},
	TypePollUnvote:       {"post_cuid", "option_text"},
	TypePollOptionAdd:    {"post_cuid", "option_text"},
	TypePollOptionDelete: {"post_cuid", "option_text"},
}

// KnownType reports whether t is part of the closed set.
func KnownType(t EnvelopeType) bool {
	_, ok := requiredFields[t]
	return ok
}

// ValidateEnvelope checks the required-field contract for the declared
// type before any mutation is attempted. Returns the sorted list of
// missing fields.
func ValidateEnvelope(body []byte) (EnvelopeType, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	var head struct {
		Type EnvelopeType `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", nil, fmt.Errorf("failed to parse envelope type: %w", err)
	}

	required, ok := requiredFields[head.Type]
	if !ok {
		return head.Type, nil, fmt.Errorf("unknown envelope type: %q", head.Type)
	}

	var missing []string
	check := append([]string{"actor"}, required...)
	for _, field := range check {
		raw, present := fields[field]
		if !present || string(raw) == "null" || string(raw) == `""` {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return head.Type, missing, nil
}

// ActorRef inlines the acting identity so a receiver can materialize a
// stub without a follow-up round trip.
type ActorRef struct {
	PUID        string `json:"puid"`
	DisplayName string `json:"display_name"`
	AvatarPath  string `json:"avatar_path,omitempty"`
	Hostname    string `json:"hostname"`
	Kind        string `json:"kind,omitempty"`
}

// GroupDescriptor carries everything needed to materialize a group stub.
type GroupDescriptor struct {
	PUID        string `json:"puid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerPUID   string `json:"owner_puid,omitempty"`
	Hostname    string `json:"hostname"`
}

// EventDescriptor carries the full descriptive attribute set of an event,
// including its own origin hostname so a receiver can tell whether it is
// the canonical node or a downstream recipient.
type EventDescriptor struct {
	PUID        string    `json:"puid"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatorPUID string    `json:"creator_puid"`
	Hostname    string    `json:"hostname"`
	Public      bool      `json:"public"`
}

// MediaDescriptor describes one attached media item.
type MediaDescriptor struct {
	MUID        string `json:"muid"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// PostEnvelope carries post_create, post_update, post_delete and
// event_post_create payloads.
type PostEnvelope struct {
	Type        EnvelopeType      `json:"type"`
	Actor       ActorRef          `json:"actor"`
	CUID        string            `json:"cuid"`
	ProfilePUID string            `json:"profile_puid,omitempty"`
	GroupPUID   string            `json:"group_puid,omitempty"`
	EventPUID   string            `json:"event_puid,omitempty"`
	Content     string            `json:"content"`
	Privacy     string            `json:"privacy"`
	Location    string            `json:"location,omitempty"`
	RepostOf    string            `json:"repost_of,omitempty"`
	Media       []MediaDescriptor `json:"media,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Group       *GroupDescriptor  `json:"group,omitempty"`
	Event       *EventDescriptor  `json:"event,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CommentEnvelope carries comment_* and media_comment_* payloads. For
// media comments MUID is set instead of PostCUID.
type CommentEnvelope struct {
	Type       EnvelopeType      `json:"type"`
	Actor      ActorRef          `json:"actor"`
	CUID       string            `json:"cuid"`
	PostCUID   string            `json:"post_cuid,omitempty"`
	MUID       string            `json:"muid,omitempty"`
	ParentCUID string            `json:"parent_cuid,omitempty"`
	Content    string            `json:"content"`
	Media      []MediaDescriptor `json:"media,omitempty"`
	Mentions   []string          `json:"mentions,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CommentStatusEnvelope toggles commenting on a post.
type CommentStatusEnvelope struct {
	Type   EnvelopeType `json:"type"`
	Actor  ActorRef     `json:"actor"`
	CUID   string       `json:"cuid"`
	Closed bool         `json:"closed"`
}

// EventEnvelope carries event_invite, event_update, event_cancel and
// event_response payloads.
type EventEnvelope struct {
	Type      EnvelopeType     `json:"type"`
	Actor     ActorRef         `json:"actor"`
	Event     *EventDescriptor `json:"event,omitempty"`
	EventPUID string           `json:"event_puid,omitempty"`
	Invitees  []string         `json:"invitees,omitempty"`
	Response  string           `json:"response,omitempty"`
}

// ProfileEnvelope refreshes a stub's display attributes.
type ProfileEnvelope struct {
	Type  EnvelopeType `json:"type"`
	Actor ActorRef     `json:"actor"`
}

// RemovalEnvelope carries tag_removal, mention_removal_* and
// media_tag_removal. NewContent, when set, is the sender-precomputed
// replacement text; the receiver applies it verbatim.
type RemovalEnvelope struct {
	Type       EnvelopeType `json:"type"`
	Actor      ActorRef     `json:"actor"`
	CUID       string       `json:"cuid,omitempty"`
	MUID       string       `json:"muid,omitempty"`
	PUID       string       `json:"puid"`
	NewContent string       `json:"new_content,omitempty"`
}

// MediaTagsEnvelope replaces the tag collection of a media item.
type MediaTagsEnvelope struct {
	Type  EnvelopeType `json:"type"`
	Actor ActorRef     `json:"actor"`
	MUID  string       `json:"muid"`
	Tags  []string     `json:"tags"`
}

// PollEnvelope carries all poll_* payloads. Options travel as text;
// option ids are node-local.
type PollEnvelope struct {
	Type          EnvelopeType `json:"type"`
	Actor         ActorRef     `json:"actor"`
	PostCUID      string       `json:"post_cuid"`
	Question      string       `json:"question,omitempty"`
	AllowMultiple bool         `json:"allow_multiple,omitempty"`
	Options       []string     `json:"options,omitempty"`
	OptionText    string       `json:"option_text,omitempty"`
}

// placeholderHandle builds a locally-generated stand-in username for a
// person stub. Sender-supplied handles are never persisted; they may leak
// sensitive identifiers from the origin node.
func placeholderHandle(puid, hostname string) string {
	short := puid
	if idx := strings.IndexByte(puid, '-'); idx >= 0 && len(puid) > idx+9 {
		short = puid[idx+1 : idx+9]
	}
	return fmt.Sprintf("remote-%s@%s", short, hostname)
}
