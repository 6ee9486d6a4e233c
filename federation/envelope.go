package federation

import (
	"log"
	"time"

	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
)

// EnvelopeBuilder serializes local entities into self-contained envelopes.
// The local hostname is passed in explicitly so building is testable
// without request context.
type EnvelopeBuilder struct {
	database *db.DB
	hostname string
}

func NewEnvelopeBuilder(database *db.DB, hostname string) *EnvelopeBuilder {
	return &EnvelopeBuilder{database: database, hostname: hostname}
}

// ActorRefFor inlines a user's identity. Local actors get the local
// node's own hostname so receivers always see a resolvable origin.
func (b *EnvelopeBuilder) ActorRefFor(user *domain.User) ActorRef {
	hostname := user.Hostname
	if hostname == "" {
		hostname = b.hostname
	}
	return ActorRef{
		PUID:        user.PUID,
		DisplayName: user.DisplayName,
		AvatarPath:  user.AvatarPath,
		Hostname:    hostname,
		Kind:        user.Kind,
	}
}

// BuildPostEnvelope produces a post_create/update/delete or
// event_post_create envelope. The group/event descriptor is always
// inlined when the post is bound to one, so any receiver can materialize
// the stub without a second round trip.
func (b *EnvelopeBuilder) BuildPostEnvelope(t EnvelopeType, post *domain.Post, author *domain.User) *PostEnvelope {
	env := &PostEnvelope{
		Type:        t,
		Actor:       b.ActorRefFor(author),
		CUID:        post.CUID,
		ProfilePUID: post.ProfilePUID,
		GroupPUID:   post.GroupPUID,
		EventPUID:   post.EventPUID,
		Content:     post.Content,
		Privacy:     post.Privacy,
		Location:    post.Location,
		RepostOf:    post.RepostOfCUID,
		CreatedAt:   post.CreatedAt,
	}

	if t == TypePostDelete {
		// Deletes only need the reference.
		return env
	}

	if err, media := b.database.ReadMediaByPost(post.CUID); err == nil && media != nil {
		for _, item := range *media {
			env.Media = append(env.Media, MediaDescriptor{MUID: item.MUID, Path: item.Path, Description: item.Description})
		}
	}
	if err, mentions := b.database.ReadPostMentions(post.CUID); err == nil {
		env.Mentions = mentions
	}
	if err, tags := b.database.ReadPostTags(post.CUID); err == nil {
		env.Tags = tags
	}

	if post.GroupPUID != "" {
		if err, group := b.database.ReadGroupByPUID(post.GroupPUID); err == nil && group != nil {
			env.Group = b.groupDescriptor(group)
		}
	}
	if post.EventPUID != "" {
		if err, event := b.database.ReadEventByPUID(post.EventPUID); err == nil && event != nil {
			env.Event = b.EventDescriptorFor(event)
		}
	}

	return env
}

// BuildCommentEnvelope produces comment_* payloads.
func (b *EnvelopeBuilder) BuildCommentEnvelope(t EnvelopeType, comment *domain.Comment, author *domain.User) *CommentEnvelope {
	env := &CommentEnvelope{
		Type:       t,
		Actor:      b.ActorRefFor(author),
		CUID:       comment.CUID,
		PostCUID:   comment.PostCUID,
		ParentCUID: comment.ParentCUID,
		Content:    comment.Content,
		CreatedAt:  comment.CreatedAt,
	}
	return env
}

// BuildMediaCommentEnvelope produces media_comment_* payloads.
func (b *EnvelopeBuilder) BuildMediaCommentEnvelope(t EnvelopeType, comment *domain.MediaComment, author *domain.User) *CommentEnvelope {
	return &CommentEnvelope{
		Type:       t,
		Actor:      b.ActorRefFor(author),
		CUID:       comment.CUID,
		MUID:       comment.MUID,
		ParentCUID: comment.ParentCUID,
		Content:    comment.Content,
		CreatedAt:  comment.CreatedAt,
	}
}

// BuildEventEnvelope produces event_invite/update/cancel/response
// payloads. The descriptor always carries the event's own origin hostname
// so a receiver can tell canonical from downstream.
func (b *EnvelopeBuilder) BuildEventEnvelope(t EnvelopeType, event *domain.Event, actor *domain.User) *EventEnvelope {
	env := &EventEnvelope{
		Type:      t,
		Actor:     b.ActorRefFor(actor),
		EventPUID: event.PUID,
	}
	if t == TypeEventInvite || t == TypeEventUpdate {
		env.Event = b.EventDescriptorFor(event)
	}
	return env
}

// BuildProfileEnvelope refreshes the actor's display attributes on
// remote stubs.
func (b *EnvelopeBuilder) BuildProfileEnvelope(user *domain.User) *ProfileEnvelope {
	return &ProfileEnvelope{Type: TypeProfileUpdate, Actor: b.ActorRefFor(user)}
}

func (b *EnvelopeBuilder) groupDescriptor(group *domain.Group) *GroupDescriptor {
	hostname := group.Hostname
	if hostname == "" {
		hostname = b.hostname
	}
	return &GroupDescriptor{
		PUID:        group.PUID,
		Name:        group.Name,
		Description: group.Description,
		OwnerPUID:   group.OwnerPUID,
		Hostname:    hostname,
	}
}

// EventDescriptorFor inlines the full descriptive attribute set.
func (b *EnvelopeBuilder) EventDescriptorFor(event *domain.Event) *EventDescriptor {
	hostname := event.Hostname
	if hostname == "" {
		hostname = b.hostname
	}
	return &EventDescriptor{
		PUID:        event.PUID,
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartsAt:    event.StartsAt,
		EndsAt:      event.EndsAt,
		CreatorPUID: event.CreatorPUID,
		Hostname:    hostname,
		Public:      event.Public,
	}
}

// replayTimestamp keeps replayed history envelopes stamped with their
// original creation time, not the replay time.
func replayTimestamp(created time.Time) time.Time {
	if created.IsZero() {
		log.Printf("Envelope: Missing creation timestamp, stamping now")
		return time.Now()
	}
	return created
}
