package federation

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
)

// Stub management: idempotent upsert of foreign entities referenced by an
// incoming envelope. First reference creates a minimal placeholder record;
// later references refresh display attributes only. A stub's global id is
// immutable once created.

// GetOrCreateUserStub returns the user for actor.PUID, creating a stub if
// it is unknown. Person stubs never persist a sender-supplied handle, only
// a locally-generated placeholder; origin usernames can carry sensitive
// identifiers.
func GetOrCreateUserStub(database *db.DB, actor ActorRef) (*domain.User, error) {
	err, existing := database.ReadUserByPUID(actor.PUID)
	if err == nil && existing != nil {
		refreshUserStub(database, existing, actor)
		return existing, nil
	}

	kind := actor.Kind
	if kind == "" {
		kind = domain.ActorKindPerson
	}

	stub := &domain.User{
		Id:          uuid.New(),
		PUID:        actor.PUID,
		Username:    placeholderHandle(actor.PUID, actor.Hostname),
		DisplayName: actor.DisplayName,
		AvatarPath:  actor.AvatarPath,
		Hostname:    actor.Hostname,
		Kind:        kind,
		CreatedAt:   time.Now(),
	}

	if err := database.CreateUser(stub); err != nil {
		// Lost a duplicate-insert race; the row is there now.
		if db.IsUniqueViolation(err) {
			err2, raced := database.ReadUserByPUID(actor.PUID)
			if err2 == nil && raced != nil {
				return raced, nil
			}
		}
		return nil, fmt.Errorf("failed to create user stub: %w", err)
	}

	log.Printf("Stubs: Created user stub %s from %s", actor.PUID, actor.Hostname)
	return stub, nil
}

func refreshUserStub(database *db.DB, existing *domain.User, actor ActorRef) {
	// Only foreign records are refreshed, and only when something changed.
	if !existing.IsRemote() {
		return
	}
	if actor.DisplayName == existing.DisplayName && actor.AvatarPath == existing.AvatarPath {
		return
	}
	if actor.DisplayName == "" && actor.AvatarPath == "" {
		return
	}
	if err := database.UpdateUserDisplay(existing.PUID, actor.DisplayName, actor.AvatarPath); err != nil {
		log.Printf("Stubs: Failed to refresh user stub %s: %v", existing.PUID, err)
		return
	}
	existing.DisplayName = actor.DisplayName
	existing.AvatarPath = actor.AvatarPath
}

// GetOrCreateGroupStub materializes a group from its inlined descriptor.
func GetOrCreateGroupStub(database *db.DB, desc GroupDescriptor) (*domain.Group, error) {
	err, existing := database.ReadGroupByPUID(desc.PUID)
	if err == nil && existing != nil {
		if existing.IsRemote() && (existing.Name != desc.Name || existing.Description != desc.Description) {
			if err := database.UpdateGroupDisplay(desc.PUID, desc.Name, desc.Description); err != nil {
				log.Printf("Stubs: Failed to refresh group stub %s: %v", desc.PUID, err)
			} else {
				existing.Name = desc.Name
				existing.Description = desc.Description
			}
		}
		return existing, nil
	}

	stub := &domain.Group{
		Id:          uuid.New(),
		PUID:        desc.PUID,
		Name:        desc.Name,
		Description: desc.Description,
		OwnerPUID:   desc.OwnerPUID,
		Hostname:    desc.Hostname,
		CreatedAt:   time.Now(),
	}

	if err := database.CreateGroup(stub); err != nil {
		if db.IsUniqueViolation(err) {
			err2, raced := database.ReadGroupByPUID(desc.PUID)
			if err2 == nil && raced != nil {
				return raced, nil
			}
		}
		return nil, fmt.Errorf("failed to create group stub: %w", err)
	}

	log.Printf("Stubs: Created group stub %s from %s", desc.PUID, desc.Hostname)
	return stub, nil
}

// GetOrCreateEventStub materializes an event from its inlined descriptor.
func GetOrCreateEventStub(database *db.DB, desc EventDescriptor) (*domain.Event, error) {
	err, existing := database.ReadEventByPUID(desc.PUID)
	if err == nil && existing != nil {
		return existing, nil
	}

	stub := &domain.Event{
		Id:          uuid.New(),
		PUID:        desc.PUID,
		Title:       desc.Title,
		Description: desc.Description,
		Location:    desc.Location,
		StartsAt:    desc.StartsAt,
		EndsAt:      desc.EndsAt,
		CreatorPUID: desc.CreatorPUID,
		Hostname:    desc.Hostname,
		Public:      desc.Public,
		CreatedAt:   time.Now(),
	}

	if err := database.CreateEvent(stub); err != nil {
		if db.IsUniqueViolation(err) {
			err2, raced := database.ReadEventByPUID(desc.PUID)
			if err2 == nil && raced != nil {
				return raced, nil
			}
		}
		return nil, fmt.Errorf("failed to create event stub: %w", err)
	}

	log.Printf("Stubs: Created event stub %s from %s", desc.PUID, desc.Hostname)
	return stub, nil
}
