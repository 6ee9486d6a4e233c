package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/kinfolkhq/kinfolk/domain"
)

// handleEventInvite materializes the event and records the invited local
// users as attendees without a response yet.
func (ib *Inbox) handleEventInvite(senderHost string, env EventEnvelope) error {
	if _, err := GetOrCreateUserStub(ib.database, env.Actor); err != nil {
		return err
	}
	event, err := GetOrCreateEventStub(ib.database, *env.Event)
	if err != nil {
		return err
	}

	for _, puid := range env.Invitees {
		err, user := ib.database.ReadUserByPUID(puid)
		if err != nil || user == nil || user.IsRemote() {
			continue
		}
		att := &domain.EventAttendee{
			EventPUID: event.PUID,
			UserPUID:  puid,
			Response:  "",
			CreatedAt: time.Now(),
		}
		if err := ib.database.UpsertAttendee(att); err != nil {
			log.Printf("Inbox: Failed to store invite for %s: %v", puid, err)
			continue
		}
		ib.distributor.NotifyLocal(puid, env.Actor.PUID, domain.NotifyEventInvite, event.PUID)
	}
	return nil
}

// handleEventUpdate rewrites the descriptive attributes. Only the
// recorded creator may change an event; the check runs against our copy
// on every receipt, not just at the origin.
func (ib *Inbox) handleEventUpdate(senderHost string, env EventEnvelope) error {
	err, event := ib.database.ReadEventByPUID(env.Event.PUID)
	if err != nil || event == nil {
		// First sight of this event; the descriptor is self-contained.
		_, err := GetOrCreateEventStub(ib.database, *env.Event)
		return err
	}

	if env.Actor.PUID != event.CreatorPUID {
		return fmt.Errorf("%w: %s is not the creator of event %s", ErrForbidden, env.Actor.PUID, event.PUID)
	}

	event.Title = env.Event.Title
	event.Description = env.Event.Description
	event.Location = env.Event.Location
	event.StartsAt = env.Event.StartsAt
	event.EndsAt = env.Event.EndsAt
	event.Public = env.Event.Public
	if err := ib.database.UpdateEvent(event); err != nil {
		return fmt.Errorf("failed to update event %s: %w", event.PUID, err)
	}

	ib.notifyLocalAttendees(event.PUID, env.Actor.PUID)
	ib.refanoutEvent(TypeEventUpdate, event, env.Actor, senderHost)
	return nil
}

func (ib *Inbox) handleEventCancel(senderHost string, env EventEnvelope) error {
	err, event := ib.database.ReadEventByPUID(env.EventPUID)
	if err != nil || event == nil {
		return nil
	}
	if env.Actor.PUID != event.CreatorPUID {
		return fmt.Errorf("%w: %s is not the creator of event %s", ErrForbidden, env.Actor.PUID, event.PUID)
	}
	if err := ib.database.CancelEvent(event.PUID); err != nil {
		return fmt.Errorf("failed to cancel event %s: %w", event.PUID, err)
	}
	event.Cancelled = true

	ib.notifyLocalAttendees(event.PUID, env.Actor.PUID)
	ib.refanoutEvent(TypeEventCancel, event, env.Actor, senderHost)
	return nil
}

// handleEventResponse upserts one user's attendance. Re-delivery of the
// same response is a no-op by the upsert.
func (ib *Inbox) handleEventResponse(senderHost string, env EventEnvelope) error {
	err, event := ib.database.ReadEventByPUID(env.EventPUID)
	if err != nil || event == nil {
		log.Printf("Inbox: Skipping response, event %s unknown", env.EventPUID)
		return nil
	}
	if !validEventResponse(env.Response) {
		return fmt.Errorf("invalid event response %q", env.Response)
	}

	actor, err := GetOrCreateUserStub(ib.database, env.Actor)
	if err != nil {
		return err
	}
	att := &domain.EventAttendee{
		EventPUID: event.PUID,
		UserPUID:  actor.PUID,
		Response:  env.Response,
		CreatedAt: time.Now(),
	}
	if err := ib.database.UpsertAttendee(att); err != nil {
		return fmt.Errorf("failed to store response for %s: %w", event.PUID, err)
	}

	ib.distributor.NotifyLocal(event.CreatorPUID, actor.PUID, domain.NotifyEventChange, event.PUID)

	if !event.IsRemote() {
		if err := ib.distributor.DistributeEventResponse(event, actor, env.Response, senderHost, actor.Hostname); err != nil {
			log.Printf("Inbox: Re-fanout of response to %s failed: %v", event.PUID, err)
		}
	}
	return nil
}

func (ib *Inbox) notifyLocalAttendees(eventPUID, actorPUID string) {
	err, attendees := ib.database.ReadLocalAttendeePUIDs(eventPUID)
	if err != nil {
		return
	}
	for _, puid := range attendees {
		ib.distributor.NotifyLocal(puid, actorPUID, domain.NotifyEventChange, eventPUID)
	}
}

// refanoutEvent forwards a creator mutation to the remaining attendee
// hosts when this node is the event's canonical home.
func (ib *Inbox) refanoutEvent(t EnvelopeType, event *domain.Event, actor ActorRef, senderHost string) {
	if event.IsRemote() {
		return
	}
	author, err := GetOrCreateUserStub(ib.database, actor)
	if err != nil {
		return
	}
	if err := ib.distributor.DistributeEvent(t, event, author, senderHost, actor.Hostname); err != nil {
		log.Printf("Inbox: Re-fanout of event %s failed: %v", event.PUID, err)
	}
}

func validEventResponse(response string) bool {
	switch response {
	case domain.EventResponseAccepted, domain.EventResponseDeclined, domain.EventResponseTentative:
		return true
	}
	return false
}
