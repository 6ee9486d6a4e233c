package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
)

// ErrForbidden marks an envelope whose actor is not authorized for the
// mutation it describes. The web layer maps it to 403.
var ErrForbidden = errors.New("actor not authorized")

// Inbox reconciles verified incoming envelopes against local state.
// Processing is idempotent: a duplicate create is a no-op, an update or
// delete of an absent entity acknowledges without error, and a reference
// to an unknown parent is tolerated by skipping persistence. Under
// at-least-once delivery the sender must be able to retry safely.
type Inbox struct {
	database    *db.DB
	distributor *Distributor
}

func NewInbox(database *db.DB, distributor *Distributor) *Inbox {
	return &Inbox{database: database, distributor: distributor}
}

// Receive validates, logs and dispatches one envelope from senderHost.
// The returned status is what the sender sees; any non-2xx body detail is
// the caller's concern.
func (ib *Inbox) Receive(senderHost string, body []byte) (int, error) {
	envType, missing, err := ValidateEnvelope(body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if len(missing) > 0 {
		return http.StatusBadRequest, fmt.Errorf("envelope %s is missing required fields: %s", envType, strings.Join(missing, ", "))
	}

	logId := ib.logEnvelope(envType, senderHost, body)

	status, err := ib.dispatch(envType, senderHost, body)
	if err == nil && logId != uuid.Nil {
		if markErr := ib.database.MarkEnvelopeProcessed(logId); markErr != nil {
			log.Printf("Inbox: Failed to mark envelope %s processed: %v", logId, markErr)
		}
	}
	return status, err
}

// dispatch covers the complete envelope enumeration. ValidateEnvelope has
// already rejected unknown types, so the default arm is unreachable.
func (ib *Inbox) dispatch(envType EnvelopeType, senderHost string, body []byte) (int, error) {
	switch envType {
	case TypePostCreate, TypeEventPostCreate:
		return run(ib, body, senderHost, ib.handlePostCreate)
	case TypePostUpdate:
		return run(ib, body, senderHost, ib.handlePostUpdate)
	case TypePostDelete:
		return run(ib, body, senderHost, ib.handlePostDelete)
	case TypePostCommentStatusUpdate:
		return run(ib, body, senderHost, ib.handleCommentStatus)

	case TypeCommentCreate:
		return run(ib, body, senderHost, ib.handleCommentCreate)
	case TypeCommentUpdate:
		return run(ib, body, senderHost, ib.handleCommentUpdate)
	case TypeCommentDelete:
		return run(ib, body, senderHost, ib.handleCommentDelete)

	case TypeMediaCommentCreate:
		return run(ib, body, senderHost, ib.handleMediaCommentCreate)
	case TypeMediaCommentUpdate:
		return run(ib, body, senderHost, ib.handleMediaCommentUpdate)
	case TypeMediaCommentDelete:
		return run(ib, body, senderHost, ib.handleMediaCommentDelete)

	case TypeEventInvite:
		return run(ib, body, senderHost, ib.handleEventInvite)
	case TypeEventUpdate:
		return run(ib, body, senderHost, ib.handleEventUpdate)
	case TypeEventCancel:
		return run(ib, body, senderHost, ib.handleEventCancel)
	case TypeEventResponse:
		return run(ib, body, senderHost, ib.handleEventResponse)

	case TypeProfileUpdate:
		return run(ib, body, senderHost, ib.handleProfileUpdate)

	case TypeTagRemoval, TypeMentionRemovalPost, TypeMentionRemovalComment, TypeMentionRemovalMediaComm, TypeMediaTagRemoval:
		return run(ib, body, senderHost, ib.handleRemoval)
	case TypeMediaTagsUpdate:
		return run(ib, body, senderHost, ib.handleMediaTags)

	case TypePollCreate:
		return run(ib, body, senderHost, ib.handlePollCreate)
	case TypePollVote, TypePollUnvote:
		return run(ib, body, senderHost, ib.handlePollVote)
	case TypePollOptionAdd, TypePollOptionDelete:
		return run(ib, body, senderHost, ib.handlePollOption)
	}
	return http.StatusBadRequest, errors.New("unknown envelope type")
}

type inboxHandler[E any] func(senderHost string, env E) error

// run decodes the typed payload and maps handler errors to statuses.
func run[E any](ib *Inbox, body []byte, senderHost string, handler inboxHandler[E]) (int, error) {
	var env E
	if err := json.Unmarshal(body, &env); err != nil {
		return http.StatusBadRequest, err
	}
	if err := handler(senderHost, env); err != nil {
		if errors.Is(err, ErrForbidden) {
			return http.StatusForbidden, err
		}
		return http.StatusInternalServerError, err
	}
	return http.StatusOK, nil
}

func (ib *Inbox) logEnvelope(envType EnvelopeType, senderHost string, body []byte) uuid.UUID {
	var head struct {
		Actor     ActorRef `json:"actor"`
		CUID      string   `json:"cuid"`
		MUID      string   `json:"muid"`
		PostCUID  string   `json:"post_cuid"`
		EventPUID string   `json:"event_puid"`
	}
	_ = json.Unmarshal(body, &head)

	objectId := head.CUID
	if objectId == "" {
		objectId = head.MUID
	}
	if objectId == "" {
		objectId = head.PostCUID
	}
	if objectId == "" {
		objectId = head.EventPUID
	}

	entry := &domain.ReceivedEnvelope{
		Id:         uuid.New(),
		Type:       string(envType),
		ActorPUID:  head.Actor.PUID,
		ObjectId:   objectId,
		SenderHost: senderHost,
		RawJSON:    string(body),
		CreatedAt:  time.Now(),
	}
	if err := ib.database.CreateReceivedEnvelope(entry); err != nil {
		log.Printf("Inbox: Failed to log envelope from %s: %v", senderHost, err)
		return uuid.Nil
	}
	return entry.Id
}

// isCanonicalForPost reports whether this node owns the post's fan-out:
// the canonical home of its group or event, or the home node of the
// profile it sits on.
func (ib *Inbox) isCanonicalForPost(post *domain.Post) bool {
	if post.GroupPUID != "" {
		err, group := ib.database.ReadGroupByPUID(post.GroupPUID)
		return err == nil && group != nil && !group.IsRemote()
	}
	if post.EventPUID != "" {
		err, event := ib.database.ReadEventByPUID(post.EventPUID)
		return err == nil && event != nil && !event.IsRemote()
	}
	profilePUID := post.ProfilePUID
	if profilePUID == "" {
		profilePUID = post.AuthorPUID
	}
	err, owner := ib.database.ReadUserByPUID(profilePUID)
	return err == nil && owner != nil && !owner.IsRemote()
}
