package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

// handleCommentCreate materializes a remote comment. A comment on a post
// we never received is acknowledged and skipped; the sender's copy stays
// authoritative and a retry after the post arrives will land.
func (ib *Inbox) handleCommentCreate(senderHost string, env CommentEnvelope) error {
	err, existing := ib.database.ReadCommentByCUID(env.CUID)
	if err == nil && existing != nil {
		return nil
	}

	err, post := ib.database.ReadPostByCUID(env.PostCUID)
	if err != nil || post == nil {
		log.Printf("Inbox: Skipping comment %s, post %s unknown", env.CUID, env.PostCUID)
		return nil
	}
	if post.CommentsClosed {
		return fmt.Errorf("%w: comments on %s are closed", ErrForbidden, post.CUID)
	}

	author, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}

	comment := &domain.Comment{
		Id:         uuid.New(),
		CUID:       env.CUID,
		PostCUID:   env.PostCUID,
		ParentCUID: env.ParentCUID,
		AuthorPUID: author.PUID,
		Content:    env.Content,
		CreatedAt:  postTimestamp(env.CreatedAt),
	}
	if err := ib.database.CreateComment(comment); err != nil {
		return fmt.Errorf("failed to store comment %s: %w", env.CUID, err)
	}

	ib.notifyCommentAudience(post, comment.ParentCUID, author.PUID, comment.CUID, comment.Content)

	if ib.isCanonicalForPost(post) {
		if err := ib.distributor.DistributeComment(TypeCommentCreate, comment, author, senderHost, author.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of comment %s failed: %v", comment.CUID, err)
		}
	}
	return nil
}

// notifyCommentAudience notifies the post author, the parent comment's
// author and locally mentioned users, each at most once.
func (ib *Inbox) notifyCommentAudience(post *domain.Post, parentCUID, actorPUID, refId, content string) {
	notified := map[string]bool{actorPUID: true}
	notify := func(puid string) {
		if puid == "" || notified[puid] {
			return
		}
		notified[puid] = true
		ib.distributor.NotifyLocal(puid, actorPUID, domain.NotifyComment, refId)
	}

	notify(post.AuthorPUID)
	if parentCUID != "" {
		if err, parent := ib.database.ReadCommentByCUID(parentCUID); err == nil && parent != nil {
			notify(parent.AuthorPUID)
		}
	}
	ib.distributor.NotifyLocalMentions(content, actorPUID, refId)
}

func (ib *Inbox) handleCommentUpdate(senderHost string, env CommentEnvelope) error {
	err, comment := ib.database.ReadCommentByCUID(env.CUID)
	if err != nil || comment == nil {
		return nil
	}
	if env.Actor.PUID != comment.AuthorPUID {
		return fmt.Errorf("%w: %s does not own comment %s", ErrForbidden, env.Actor.PUID, comment.CUID)
	}
	if err := ib.database.UpdateCommentContent(comment.CUID, env.Content, time.Now()); err != nil {
		return fmt.Errorf("failed to update comment %s: %w", comment.CUID, err)
	}
	comment.Content = env.Content

	ib.refanoutComment(TypeCommentUpdate, comment, env.Actor, senderHost)
	return nil
}

func (ib *Inbox) handleCommentDelete(senderHost string, env CommentEnvelope) error {
	err, comment := ib.database.ReadCommentByCUID(env.CUID)
	if err != nil || comment == nil {
		return nil
	}
	if env.Actor.PUID != comment.AuthorPUID && !ib.actorOwnsCommentedPost(env.Actor.PUID, comment.PostCUID) {
		return fmt.Errorf("%w: %s may not delete comment %s", ErrForbidden, env.Actor.PUID, comment.CUID)
	}

	// Resolve the audience before the row disappears.
	ib.refanoutComment(TypeCommentDelete, comment, env.Actor, senderHost)

	if err := ib.database.DeleteComment(comment.CUID); err != nil {
		return fmt.Errorf("failed to delete comment %s: %w", comment.CUID, err)
	}
	return nil
}

// actorOwnsCommentedPost lets a post's author moderate comments under it.
func (ib *Inbox) actorOwnsCommentedPost(actorPUID, postCUID string) bool {
	err, post := ib.database.ReadPostByCUID(postCUID)
	return err == nil && post != nil && post.AuthorPUID == actorPUID
}

func (ib *Inbox) refanoutComment(t EnvelopeType, comment *domain.Comment, actor ActorRef, senderHost string) {
	err, post := ib.database.ReadPostByCUID(comment.PostCUID)
	if err != nil || post == nil || !ib.isCanonicalForPost(post) {
		return
	}
	author, err := GetOrCreateUserStub(ib.database, actor)
	if err != nil {
		return
	}
	if err := ib.distributor.DistributeComment(t, comment, author, senderHost, actor.Hostname); err != nil {
		log.Printf("Inbox: Re-fanout of comment %s failed: %v", comment.CUID, err)
	}
}

// Media comments mirror post comments, keyed by the media item instead.

func (ib *Inbox) handleMediaCommentCreate(senderHost string, env CommentEnvelope) error {
	err, existing := ib.database.ReadMediaCommentByCUID(env.CUID)
	if err == nil && existing != nil {
		return nil
	}

	err, item := ib.database.ReadMediaItemByMUID(env.MUID)
	if err != nil || item == nil {
		log.Printf("Inbox: Skipping media comment %s, media %s unknown", env.CUID, env.MUID)
		return nil
	}

	author, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}

	comment := &domain.MediaComment{
		Id:         uuid.New(),
		CUID:       env.CUID,
		MUID:       env.MUID,
		ParentCUID: env.ParentCUID,
		AuthorPUID: author.PUID,
		Content:    env.Content,
		CreatedAt:  postTimestamp(env.CreatedAt),
	}
	if err := ib.database.CreateMediaComment(comment); err != nil {
		return fmt.Errorf("failed to store media comment %s: %w", env.CUID, err)
	}

	if err, post := ib.database.ReadPostByCUID(item.PostCUID); err == nil && post != nil {
		ib.notifyCommentAudience(post, "", author.PUID, comment.CUID, comment.Content)
		if ib.isCanonicalForPost(post) {
			if err := ib.distributor.DistributeMediaComment(TypeMediaCommentCreate, comment, author, senderHost, author.Hostname); err != nil {
				log.Printf("Inbox: Re-fanout of media comment %s failed: %v", comment.CUID, err)
			}
		}
	}
	return nil
}

func (ib *Inbox) handleMediaCommentUpdate(senderHost string, env CommentEnvelope) error {
	err, comment := ib.database.ReadMediaCommentByCUID(env.CUID)
	if err != nil || comment == nil {
		return nil
	}
	if env.Actor.PUID != comment.AuthorPUID {
		return fmt.Errorf("%w: %s does not own media comment %s", ErrForbidden, env.Actor.PUID, comment.CUID)
	}
	if err := ib.database.UpdateMediaCommentContent(comment.CUID, env.Content, time.Now()); err != nil {
		return fmt.Errorf("failed to update media comment %s: %w", comment.CUID, err)
	}
	comment.Content = env.Content
	ib.refanoutMediaComment(TypeMediaCommentUpdate, comment, env.Actor, senderHost)
	return nil
}

func (ib *Inbox) handleMediaCommentDelete(senderHost string, env CommentEnvelope) error {
	err, comment := ib.database.ReadMediaCommentByCUID(env.CUID)
	if err != nil || comment == nil {
		return nil
	}
	if env.Actor.PUID != comment.AuthorPUID {
		return fmt.Errorf("%w: %s may not delete media comment %s", ErrForbidden, env.Actor.PUID, comment.CUID)
	}
	ib.refanoutMediaComment(TypeMediaCommentDelete, comment, env.Actor, senderHost)
	if err := ib.database.DeleteMediaComment(comment.CUID); err != nil {
		return fmt.Errorf("failed to delete media comment %s: %w", comment.CUID, err)
	}
	return nil
}

func (ib *Inbox) refanoutMediaComment(t EnvelopeType, comment *domain.MediaComment, actor ActorRef, senderHost string) {
	err, item := ib.database.ReadMediaItemByMUID(comment.MUID)
	if err != nil || item == nil {
		return
	}
	err, post := ib.database.ReadPostByCUID(item.PostCUID)
	if err != nil || post == nil || !ib.isCanonicalForPost(post) {
		return
	}
	author, err := GetOrCreateUserStub(ib.database, actor)
	if err != nil {
		return
	}
	if err := ib.distributor.DistributeMediaComment(t, comment, author, senderHost, actor.Hostname); err != nil {
		log.Printf("Inbox: Re-fanout of media comment %s failed: %v", comment.CUID, err)
	}
}
