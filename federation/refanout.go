package federation

import (
	"fmt"
	"log"
	"net/http"

	"github.com/kinfolkhq/kinfolk/domain"
)

// RefanoutPlan is the three-way diff between a post's previous and new
// recipient sets after a privacy or audience change.
type RefanoutPlan struct {
	Delete []string // knew the post, no longer allowed
	Create []string // newly allowed, never saw it
	Update []string // stay in the audience, get the updated state
}

// PlanRefanout diffs two recipient sets. Both inputs are treated as sets;
// order does not matter.
func PlanRefanout(oldRecipients, newRecipients []string) RefanoutPlan {
	oldSet := make(map[string]bool, len(oldRecipients))
	for _, h := range oldRecipients {
		oldSet[h] = true
	}
	newSet := make(map[string]bool, len(newRecipients))
	for _, h := range newRecipients {
		newSet[h] = true
	}

	var plan RefanoutPlan
	for _, h := range oldRecipients {
		if !newSet[h] {
			plan.Delete = append(plan.Delete, h)
		} else {
			plan.Update = append(plan.Update, h)
		}
	}
	for _, h := range newRecipients {
		if !oldSet[h] {
			plan.Create = append(plan.Create, h)
		}
	}
	return plan
}

// RefanoutPost executes an audience change. oldRecipients is the set
// resolved before the mutation was persisted; the current set is resolved
// from the post's new state. Removed hosts get a delete, surviving hosts
// an update, and added hosts get the post followed by its full comment
// history so their copy is complete.
func (d *Distributor) RefanoutPost(post *domain.Post, author *domain.User, oldRecipients []string, exclude ...string) error {
	newRecipients, err := d.PostRecipients(post, author)
	if err != nil {
		return err
	}
	plan := PlanRefanout(withoutHosts(oldRecipients, exclude), withoutHosts(newRecipients, exclude))

	if len(plan.Delete) > 0 {
		env := d.builder.BuildPostEnvelope(TypePostDelete, post, author)
		d.deliverer.Deliver(http.MethodDelete, env, plan.Delete)
	}
	if len(plan.Update) > 0 {
		env := d.builder.BuildPostEnvelope(TypePostUpdate, post, author)
		d.deliverer.Deliver(http.MethodPut, env, plan.Update)
	}
	if len(plan.Create) > 0 {
		createType := TypePostCreate
		if post.EventPUID != "" {
			createType = TypeEventPostCreate
		}
		env := d.builder.BuildPostEnvelope(createType, post, author)
		d.deliverer.Deliver(http.MethodPost, env, plan.Create)
		d.replayHistory(post, plan.Create)
	}
	return nil
}

// replayHistory sends the post's existing comments and poll to hosts that
// just entered the audience, stamped with their original timestamps.
func (d *Distributor) replayHistory(post *domain.Post, hosts []string) {
	err, comments := d.database.ReadCommentsByPost(post.CUID)
	if err != nil {
		log.Printf("Refanout: Failed to load comments of %s: %v", post.CUID, err)
	} else if comments != nil {
		for _, comment := range *comments {
			err, commentAuthor := d.database.ReadUserByPUID(comment.AuthorPUID)
			if err != nil || commentAuthor == nil {
				continue
			}
			env := d.builder.BuildCommentEnvelope(TypeCommentCreate, &comment, commentAuthor)
			env.CreatedAt = replayTimestamp(comment.CreatedAt)
			d.deliverer.Deliver(http.MethodPost, env, hosts)
		}
	}

	if err := d.replayPoll(post, hosts); err != nil {
		log.Printf("Refanout: Failed to replay poll of %s: %v", post.CUID, err)
	}
}

func (d *Distributor) replayPoll(post *domain.Post, hosts []string) error {
	err, poll := d.database.ReadPollByPost(post.CUID)
	if err != nil || poll == nil {
		return err
	}
	err, options := d.database.ReadPollOptions(poll.Id)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}
	err, author := d.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil || author == nil {
		return fmt.Errorf("failed to load poll author: %w", err)
	}

	texts := make([]string, 0, len(*options))
	for _, opt := range *options {
		texts = append(texts, opt.Text)
	}
	env := &PollEnvelope{
		Type:          TypePollCreate,
		Actor:         d.builder.ActorRefFor(author),
		PostCUID:      post.CUID,
		Question:      poll.Question,
		AllowMultiple: poll.AllowMultiple,
		Options:       texts,
	}
	d.deliverer.Deliver(http.MethodPost, env, hosts)
	return nil
}

// RefanoutPrivacyChange resolves the pre-change audience from the post's
// previous privacy value, then executes the diff against its new state.
func (d *Distributor) RefanoutPrivacyChange(post *domain.Post, author *domain.User, oldPrivacy string, exclude ...string) error {
	if oldPrivacy == post.Privacy {
		return nil
	}
	before := *post
	before.Privacy = oldPrivacy
	oldRecipients, err := d.PostRecipients(&before, author)
	if err != nil {
		return err
	}
	return d.RefanoutPost(post, author, oldRecipients, exclude...)
}
