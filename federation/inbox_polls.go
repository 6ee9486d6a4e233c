package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/domain"
)

// handlePollCreate attaches a poll to an already-received post. Option
// ids are node-local; only the texts travel.
func (ib *Inbox) handlePollCreate(senderHost string, env PollEnvelope) error {
	err, post := ib.database.ReadPostByCUID(env.PostCUID)
	if err != nil || post == nil {
		log.Printf("Inbox: Skipping poll, post %s unknown", env.PostCUID)
		return nil
	}
	err, existing := ib.database.ReadPollByPost(env.PostCUID)
	if err == nil && existing != nil {
		return nil
	}
	if env.Actor.PUID != post.AuthorPUID {
		return fmt.Errorf("%w: %s does not own post %s", ErrForbidden, env.Actor.PUID, post.CUID)
	}

	poll := &domain.Poll{
		Id:            uuid.New(),
		PostCUID:      env.PostCUID,
		Question:      env.Question,
		AllowMultiple: env.AllowMultiple,
		CreatedAt:     time.Now(),
	}
	options := make([]domain.PollOption, 0, len(env.Options))
	for _, text := range env.Options {
		options = append(options, domain.PollOption{Id: uuid.New(), PollId: poll.Id, Text: text})
	}
	if err := ib.database.CreatePoll(poll, options); err != nil {
		return fmt.Errorf("failed to store poll on %s: %w", env.PostCUID, err)
	}

	if ib.isCanonicalForPost(post) {
		if err := ib.distributor.DistributePoll(&env, senderHost, env.Actor.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of poll on %s failed: %v", env.PostCUID, err)
		}
	}
	return nil
}

// handlePollVote covers poll_vote and poll_unvote. The option is matched
// by text; a vote on an option we do not have is acknowledged and
// skipped.
func (ib *Inbox) handlePollVote(senderHost string, env PollEnvelope) error {
	poll, option, err := ib.findPollOption(env.PostCUID, env.OptionText)
	if err != nil || option == nil {
		return err
	}

	actor, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}

	switch env.Type {
	case TypePollVote:
		if !poll.AllowMultiple {
			if err := ib.clearVotes(poll, actor.PUID); err != nil {
				return err
			}
		}
		vote := &domain.PollVote{OptionId: option.Id, VoterPUID: actor.PUID, CreatedAt: time.Now()}
		if err := ib.database.CreatePollVote(vote); err != nil {
			return fmt.Errorf("failed to store vote on %s: %w", env.PostCUID, err)
		}
	case TypePollUnvote:
		if err := ib.database.DeletePollVote(option.Id, actor.PUID); err != nil {
			return fmt.Errorf("failed to remove vote on %s: %w", env.PostCUID, err)
		}
	}

	if err, post := ib.database.ReadPostByCUID(env.PostCUID); err == nil && post != nil && ib.isCanonicalForPost(post) {
		if err := ib.distributor.DistributePoll(&env, senderHost, actor.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of vote on %s failed: %v", env.PostCUID, err)
		}
	}
	return nil
}

// clearVotes drops the voter's existing votes on a single-choice poll
// before the new one lands.
func (ib *Inbox) clearVotes(poll *domain.Poll, voterPUID string) error {
	err, options := ib.database.ReadPollOptions(poll.Id)
	if err != nil || options == nil {
		return err
	}
	for _, opt := range *options {
		if err := ib.database.DeletePollVote(opt.Id, voterPUID); err != nil {
			return fmt.Errorf("failed to clear votes: %w", err)
		}
	}
	return nil
}

// handlePollOption covers poll_option_add and poll_option_delete. Only
// the poll owner's envelope is honored.
func (ib *Inbox) handlePollOption(senderHost string, env PollEnvelope) error {
	err, post := ib.database.ReadPostByCUID(env.PostCUID)
	if err != nil || post == nil {
		log.Printf("Inbox: Skipping poll option, post %s unknown", env.PostCUID)
		return nil
	}
	if env.Actor.PUID != post.AuthorPUID {
		return fmt.Errorf("%w: %s does not own poll on %s", ErrForbidden, env.Actor.PUID, post.CUID)
	}
	err, poll := ib.database.ReadPollByPost(env.PostCUID)
	if err != nil || poll == nil {
		log.Printf("Inbox: Skipping poll option, poll on %s unknown", env.PostCUID)
		return nil
	}

	_, option, err := ib.findPollOption(env.PostCUID, env.OptionText)
	if err != nil {
		return err
	}

	switch env.Type {
	case TypePollOptionAdd:
		if option != nil {
			return nil // duplicate delivery
		}
		opt := &domain.PollOption{Id: uuid.New(), PollId: poll.Id, Text: env.OptionText}
		if err := ib.database.CreatePollOption(opt); err != nil {
			return fmt.Errorf("failed to add option on %s: %w", env.PostCUID, err)
		}
	case TypePollOptionDelete:
		if option == nil {
			return nil
		}
		// Votes on the option go with it.
		if err := ib.database.DeletePollOption(option.Id); err != nil {
			return fmt.Errorf("failed to delete option on %s: %w", env.PostCUID, err)
		}
	}

	if ib.isCanonicalForPost(post) {
		if err := ib.distributor.DistributePoll(&env, senderHost, env.Actor.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of option change on %s failed: %v", env.PostCUID, err)
		}
	}
	return nil
}

func (ib *Inbox) findPollOption(postCUID, text string) (*domain.Poll, *domain.PollOption, error) {
	err, poll := ib.database.ReadPollByPost(postCUID)
	if err != nil || poll == nil {
		log.Printf("Inbox: Poll on %s unknown", postCUID)
		return nil, nil, nil
	}
	err, options := ib.database.ReadPollOptions(poll.Id)
	if err != nil {
		return poll, nil, fmt.Errorf("failed to load options: %w", err)
	}
	for i := range *options {
		if (*options)[i].Text == text {
			return poll, &(*options)[i], nil
		}
	}
	return poll, nil, nil
}
