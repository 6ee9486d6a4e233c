package federation

import (
	"fmt"
	"log"
	"time"
)

// handleProfileUpdate refreshes a stub's display attributes. First sight
// of the actor creates the stub outright.
func (ib *Inbox) handleProfileUpdate(senderHost string, env ProfileEnvelope) error {
	_, err := GetOrCreateUserStub(ib.database, env.Actor)
	return err
}

// handleRemoval covers tag and mention removals. Removal is a right of
// the tagged or mentioned person, so the acting identity must be the
// removed subject. The sender precomputes the replacement content; the
// receiver applies it verbatim and never re-renders mentions itself.
func (ib *Inbox) handleRemoval(senderHost string, env RemovalEnvelope) error {
	if env.Actor.PUID != env.PUID {
		return fmt.Errorf("%w: %s may not remove references to %s", ErrForbidden, env.Actor.PUID, env.PUID)
	}

	switch env.Type {
	case TypeTagRemoval:
		err, post := ib.database.ReadPostByCUID(env.CUID)
		if err != nil || post == nil {
			return nil
		}
		if err := ib.database.DeletePostTag(env.CUID, env.PUID); err != nil {
			return fmt.Errorf("failed to remove tag from %s: %w", env.CUID, err)
		}
		ib.refanoutRemoval(&env, post.CUID, senderHost)

	case TypeMentionRemovalPost:
		err, post := ib.database.ReadPostByCUID(env.CUID)
		if err != nil || post == nil {
			return nil
		}
		if err := ib.database.UpdatePostContent(env.CUID, env.NewContent, time.Now()); err != nil {
			return fmt.Errorf("failed to rewrite post %s: %w", env.CUID, err)
		}
		if err := ib.database.DeletePostMention(env.CUID, env.PUID); err != nil {
			return fmt.Errorf("failed to remove mention from %s: %w", env.CUID, err)
		}
		ib.refanoutRemoval(&env, post.CUID, senderHost)

	case TypeMentionRemovalComment:
		err, comment := ib.database.ReadCommentByCUID(env.CUID)
		if err != nil || comment == nil {
			return nil
		}
		if err := ib.database.UpdateCommentContent(env.CUID, env.NewContent, time.Now()); err != nil {
			return fmt.Errorf("failed to rewrite comment %s: %w", env.CUID, err)
		}
		ib.refanoutRemoval(&env, comment.PostCUID, senderHost)

	case TypeMentionRemovalMediaComm:
		err, comment := ib.database.ReadMediaCommentByCUID(env.CUID)
		if err != nil || comment == nil {
			return nil
		}
		if err := ib.database.UpdateMediaCommentContent(env.CUID, env.NewContent, time.Now()); err != nil {
			return fmt.Errorf("failed to rewrite media comment %s: %w", env.CUID, err)
		}
		if err, item := ib.database.ReadMediaItemByMUID(comment.MUID); err == nil && item != nil {
			ib.refanoutRemoval(&env, item.PostCUID, senderHost)
		}

	case TypeMediaTagRemoval:
		err, item := ib.database.ReadMediaItemByMUID(env.MUID)
		if err != nil || item == nil {
			return nil
		}
		if err := ib.database.DeleteMediaTag(env.MUID, env.PUID); err != nil {
			return fmt.Errorf("failed to remove media tag from %s: %w", env.MUID, err)
		}
		ib.refanoutRemoval(&env, item.PostCUID, senderHost)
	}
	return nil
}

// refanoutRemoval forwards a removal along the owning post's audience
// when this node is canonical for it.
func (ib *Inbox) refanoutRemoval(env *RemovalEnvelope, postCUID, senderHost string) {
	err, post := ib.database.ReadPostByCUID(postCUID)
	if err != nil || post == nil || !ib.isCanonicalForPost(post) {
		return
	}
	err, author := ib.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil || author == nil {
		return
	}
	recipients, err := ib.distributor.PostRecipients(post, author)
	if err != nil {
		log.Printf("Inbox: Failed to resolve removal audience for %s: %v", postCUID, err)
		return
	}
	ib.distributor.DistributeRemoval(env, recipients, senderHost, env.Actor.Hostname)
}

// handleMediaTags replaces a media item's tag set wholesale.
func (ib *Inbox) handleMediaTags(senderHost string, env MediaTagsEnvelope) error {
	err, item := ib.database.ReadMediaItemByMUID(env.MUID)
	if err != nil || item == nil {
		log.Printf("Inbox: Skipping media tags, media %s unknown", env.MUID)
		return nil
	}
	if err := ib.database.ReplaceMediaTags(env.MUID, env.Tags); err != nil {
		return fmt.Errorf("failed to replace tags on %s: %w", env.MUID, err)
	}

	err, post := ib.database.ReadPostByCUID(item.PostCUID)
	if err != nil || post == nil || !ib.isCanonicalForPost(post) {
		return nil
	}
	actor, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return nil
	}
	if err := ib.distributor.DistributeMediaTags(env.MUID, env.Tags, actor, senderHost, env.Actor.Hostname); err != nil {
		log.Printf("Inbox: Re-fanout of media tags on %s failed: %v", env.MUID, err)
	}
	return nil
}
