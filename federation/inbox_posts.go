package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

// handlePostCreate materializes a remote post. The actor and any inlined
// group or event become stubs first; a reference to a group or event we
// cannot materialize is tolerated by acknowledging without persisting.
func (ib *Inbox) handlePostCreate(senderHost string, env PostEnvelope) error {
	err, existing := ib.database.ReadPostByCUID(env.CUID)
	if err == nil && existing != nil {
		return nil // duplicate delivery
	}

	author, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}

	if env.GroupPUID != "" {
		if env.Group != nil {
			if _, err := GetOrCreateGroupStub(ib.database, *env.Group); err != nil {
				return err
			}
		} else if err, group := ib.database.ReadGroupByPUID(env.GroupPUID); err != nil || group == nil {
			log.Printf("Inbox: Skipping post %s, group %s unknown", env.CUID, env.GroupPUID)
			return nil
		}
	}
	if env.EventPUID != "" {
		if env.Event != nil {
			if _, err := GetOrCreateEventStub(ib.database, *env.Event); err != nil {
				return err
			}
		} else if err, event := ib.database.ReadEventByPUID(env.EventPUID); err != nil || event == nil {
			log.Printf("Inbox: Skipping post %s, event %s unknown", env.CUID, env.EventPUID)
			return nil
		}
	}

	if env.ProfilePUID != "" && env.ProfilePUID != env.Actor.PUID {
		// Wall post on a profile we do not know is a referential gap.
		if err, owner := ib.database.ReadUserByPUID(env.ProfilePUID); err != nil || owner == nil {
			log.Printf("Inbox: Skipping post %s, profile %s unknown", env.CUID, env.ProfilePUID)
			return nil
		}
	}

	post := &domain.Post{
		Id:           uuid.New(),
		CUID:         env.CUID,
		AuthorPUID:   author.PUID,
		ProfilePUID:  env.ProfilePUID,
		GroupPUID:    env.GroupPUID,
		EventPUID:    env.EventPUID,
		Content:      env.Content,
		Privacy:      env.Privacy,
		Location:     env.Location,
		RepostOfCUID: env.RepostOf,
		CreatedAt:    postTimestamp(env.CreatedAt),
	}

	if err := ib.database.CreatePost(post); err != nil {
		return fmt.Errorf("failed to store post %s: %w", env.CUID, err)
	}
	ib.storePostAttachments(env)
	ib.notifyPostAudience(post, author)

	if ib.isCanonicalForPost(post) {
		createType := TypePostCreate
		if post.EventPUID != "" {
			createType = TypeEventPostCreate
		}
		if err := ib.distributor.DistributePost(createType, post, author, senderHost, author.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of post %s failed: %v", post.CUID, err)
		}
	}
	return nil
}

func (ib *Inbox) storePostAttachments(env PostEnvelope) {
	if len(env.Media) > 0 {
		items := make([]domain.MediaItem, 0, len(env.Media))
		for _, m := range env.Media {
			items = append(items, domain.MediaItem{
				Id:          uuid.New(),
				MUID:        m.MUID,
				PostCUID:    env.CUID,
				Path:        m.Path,
				Description: m.Description,
				CreatedAt:   time.Now(),
			})
		}
		if err := ib.database.ReplacePostMedia(env.CUID, items); err != nil {
			log.Printf("Inbox: Failed to store media of %s: %v", env.CUID, err)
		}
	}
	if len(env.Mentions) > 0 {
		if err := ib.database.ReplacePostMentions(env.CUID, env.Mentions); err != nil {
			log.Printf("Inbox: Failed to store mentions of %s: %v", env.CUID, err)
		}
	}
	if len(env.Tags) > 0 {
		if err := ib.database.ReplacePostTags(env.CUID, env.Tags); err != nil {
			log.Printf("Inbox: Failed to store tags of %s: %v", env.CUID, err)
		}
	}
}

// notifyPostAudience emits local notifications exactly once per user:
// mentioned users, members of a local group, local followers of a page,
// and the owner of the wall the post landed on.
func (ib *Inbox) notifyPostAudience(post *domain.Post, author *domain.User) {
	notified := make(map[string]bool)
	notify := func(puid, kind string) {
		if puid == "" || puid == author.PUID || notified[puid] {
			return
		}
		notified[puid] = true
		ib.distributor.NotifyLocal(puid, author.PUID, kind, post.CUID)
	}

	if err, mentions := ib.database.ReadPostMentions(post.CUID); err == nil {
		for _, puid := range mentions {
			notify(puid, domain.NotifyMention)
		}
	}
	if post.GroupPUID != "" {
		if err, members := ib.database.ReadLocalGroupMemberPUIDs(post.GroupPUID); err == nil {
			for _, puid := range members {
				notify(puid, domain.NotifyGroupPost)
			}
		}
	}
	if author.Kind == domain.ActorKindPage {
		if err, followers := ib.database.ReadLocalFollowerPUIDs(author.PUID); err == nil {
			for _, puid := range followers {
				notify(puid, domain.NotifyFollowPost)
			}
		}
	}
	if post.ProfilePUID != "" && post.ProfilePUID != author.PUID {
		notify(post.ProfilePUID, domain.NotifyMention)
	}
}

// handlePostUpdate applies edits. An update for a post we never stored is
// acknowledged without effect so retries and misordered deliveries stay
// harmless. Newly mentioned local users are notified once.
func (ib *Inbox) handlePostUpdate(senderHost string, env PostEnvelope) error {
	err, post := ib.database.ReadPostByCUID(env.CUID)
	if err != nil || post == nil {
		return nil
	}

	author, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}
	if author.PUID != post.AuthorPUID {
		return fmt.Errorf("%w: %s does not own post %s", ErrForbidden, author.PUID, post.CUID)
	}

	err, oldMentions := ib.database.ReadPostMentions(post.CUID)
	if err != nil {
		oldMentions = nil
	}

	oldPrivacy := post.Privacy
	privacy := env.Privacy
	if privacy == "" {
		privacy = post.Privacy
	}
	if err := ib.database.UpdatePost(post.CUID, env.Content, privacy, env.Location, time.Now()); err != nil {
		return fmt.Errorf("failed to update post %s: %w", post.CUID, err)
	}
	post.Content = env.Content
	post.Privacy = privacy
	post.Location = env.Location
	ib.storePostAttachments(env)

	ib.notifyNewMentions(oldMentions, env.Mentions, author.PUID, post.CUID)

	if ib.isCanonicalForPost(post) {
		// A privacy change moves hosts in and out of the audience: removed
		// hosts must retract their copy, added hosts need the post and its
		// history, not an update they would skip.
		if privacy != oldPrivacy {
			if err := ib.distributor.RefanoutPrivacyChange(post, author, oldPrivacy, senderHost, author.Hostname); err != nil {
				log.Printf("Inbox: Audience re-fanout of post %s failed: %v", post.CUID, err)
			}
		} else if err := ib.distributor.DistributePost(TypePostUpdate, post, author, senderHost, author.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of post %s failed: %v", post.CUID, err)
		}
	}
	return nil
}

func (ib *Inbox) notifyNewMentions(oldMentions, newMentions []string, actorPUID, refId string) {
	old := make(map[string]bool, len(oldMentions))
	for _, puid := range oldMentions {
		old[puid] = true
	}
	seen := make(map[string]bool)
	for _, puid := range newMentions {
		if old[puid] || seen[puid] || puid == actorPUID {
			continue
		}
		seen[puid] = true
		ib.distributor.NotifyLocal(puid, actorPUID, domain.NotifyMention, refId)
	}
}

func (ib *Inbox) handlePostDelete(senderHost string, env PostEnvelope) error {
	err, post := ib.database.ReadPostByCUID(env.CUID)
	if err != nil || post == nil {
		return nil
	}
	if env.Actor.PUID != post.AuthorPUID && !ib.actorOwnsProfile(env.Actor.PUID, post) {
		return fmt.Errorf("%w: %s may not delete post %s", ErrForbidden, env.Actor.PUID, post.CUID)
	}

	canonical := ib.isCanonicalForPost(post)
	var recipients []string
	if canonical {
		if err, author := ib.database.ReadUserByPUID(post.AuthorPUID); err == nil && author != nil {
			recipients, _ = ib.distributor.PostRecipients(post, author)
		}
	}

	if err := ib.database.DeletePost(post.CUID); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", post.CUID, err)
	}

	if canonical && len(recipients) > 0 {
		author, err := GetOrCreateUserStub(ib.database, env.Actor)
		if err == nil {
			delEnv := ib.distributor.Builder().BuildPostEnvelope(TypePostDelete, post, author)
			ib.distributor.deliverer.Deliver(methodFor(TypePostDelete), delEnv, withoutHosts(recipients, []string{senderHost, env.Actor.Hostname}))
		}
	}
	return nil
}

// actorOwnsProfile allows the wall owner to remove a post from their own
// profile even though someone else wrote it.
func (ib *Inbox) actorOwnsProfile(actorPUID string, post *domain.Post) bool {
	return post.ProfilePUID != "" && post.ProfilePUID == actorPUID
}

func (ib *Inbox) handleCommentStatus(senderHost string, env CommentStatusEnvelope) error {
	err, post := ib.database.ReadPostByCUID(env.CUID)
	if err != nil || post == nil {
		return nil
	}
	if env.Actor.PUID != post.AuthorPUID {
		return fmt.Errorf("%w: %s may not change comment status of %s", ErrForbidden, env.Actor.PUID, post.CUID)
	}
	if err := ib.database.UpdatePostCommentsClosed(post.CUID, env.Closed); err != nil {
		return fmt.Errorf("failed to update comment status of %s: %w", post.CUID, err)
	}
	post.CommentsClosed = env.Closed

	if ib.isCanonicalForPost(post) {
		if err, author := ib.database.ReadUserByPUID(post.AuthorPUID); err == nil && author != nil {
			if err := ib.distributor.DistributeCommentStatus(post, author, env.Closed, senderHost, env.Actor.Hostname); err != nil {
				log.Printf("Inbox: Re-fanout of comment status %s failed: %v", post.CUID, err)
			}
		}
	}
	return nil
}

func postTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
