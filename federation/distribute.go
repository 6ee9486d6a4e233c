package federation

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/kinfolkhq/kinfolk/util"
)

// Distributor loads the relational context of a local mutation, resolves
// its remote recipients and hands envelopes to the deliverer. All writes
// to the local database happen before distribution; delivery is
// best-effort and never rolls the local mutation back.
type Distributor struct {
	database  *db.DB
	builder   *EnvelopeBuilder
	deliverer *Deliverer
	hostname  string
}

func NewDistributor(database *db.DB, deliverer *Deliverer, hostname string) *Distributor {
	return &Distributor{
		database:  database,
		builder:   NewEnvelopeBuilder(database, hostname),
		deliverer: deliverer,
		hostname:  hostname,
	}
}

func (d *Distributor) Builder() *EnvelopeBuilder {
	return d.builder
}

// methodFor maps an envelope type to its HTTP verb: creates POST,
// destructive kinds DELETE, everything else PUT.
func methodFor(t EnvelopeType) string {
	switch t {
	case TypePostCreate, TypeEventPostCreate, TypeCommentCreate, TypeMediaCommentCreate,
		TypeEventInvite, TypePollCreate, TypePollVote, TypePollOptionAdd:
		return http.MethodPost
	case TypePostDelete, TypeCommentDelete, TypeMediaCommentDelete, TypeEventCancel,
		TypeTagRemoval, TypeMentionRemovalPost, TypeMentionRemovalComment,
		TypeMentionRemovalMediaComm, TypeMediaTagRemoval,
		TypePollUnvote, TypePollOptionDelete:
		return http.MethodDelete
	default:
		return http.MethodPut
	}
}

// PostRecipients resolves the full recipient set of a post from its
// loaded relational context.
func (d *Distributor) PostRecipients(post *domain.Post, author *domain.User) ([]string, error) {
	// Private posts stay on the author's node.
	if post.Privacy == domain.PrivacyPrivate {
		return nil, nil
	}
	rc, err := d.loadPostContext(post, author)
	if err != nil {
		return nil, err
	}
	return ResolveRecipients(rc), nil
}

func (d *Distributor) loadPostContext(post *domain.Post, author *domain.User) (ResolveContext, error) {
	rc := ResolveContext{
		LocalHostname: d.hostname,
		ActorHostname: author.Hostname,
		AuthorIsPage:  author.Kind == domain.ActorKindPage,
	}

	if post.GroupPUID != "" {
		err, group := d.database.ReadGroupByPUID(post.GroupPUID)
		if err != nil {
			return rc, fmt.Errorf("failed to load group %s: %w", post.GroupPUID, err)
		}
		gc := &GroupContext{PUID: group.PUID, Origin: group.Hostname}
		if group.Hostname == "" {
			if err, members := d.database.ReadGroupMemberHostnames(group.PUID); err == nil {
				gc.MemberHostnames = members
			}
		}
		rc.Group = gc
	}

	if post.EventPUID != "" {
		err, event := d.database.ReadEventByPUID(post.EventPUID)
		if err != nil {
			return rc, fmt.Errorf("failed to load event %s: %w", post.EventPUID, err)
		}
		ec := &EventContext{PUID: event.PUID, Origin: event.Hostname}
		if event.Hostname == "" {
			if err, attendees := d.database.ReadAttendeeHostnames(event.PUID); err == nil {
				ec.AttendeeHostnames = attendees
			}
		}
		rc.Event = ec

		// A public announcement on a public page's event reaches every
		// connected node, plus the remote attendees.
		if post.Privacy == domain.PrivacyPublic && event.Public && rc.AuthorIsPage {
			rc.PublicBroadcast = true
		}
	}

	// Plain public timeline posts broadcast to all connected nodes.
	if post.GroupPUID == "" && post.EventPUID == "" && post.Privacy == domain.PrivacyPublic {
		rc.PublicBroadcast = true
	}

	if rc.PublicBroadcast {
		rc.ConnectedHostnames = d.connectedHostnames()
	}

	if post.ProfilePUID != "" && post.ProfilePUID != author.PUID {
		if err, owner := d.database.ReadUserByPUID(post.ProfilePUID); err == nil && owner != nil {
			rc.ProfileOwnerHostname = owner.Hostname
		}
	}

	// Friends (or followers, for pages) of the profile the post lives on.
	profilePUID := post.ProfilePUID
	if profilePUID == "" {
		profilePUID = author.PUID
	}
	if rc.AuthorIsPage {
		if err, followers := d.database.ReadFollowerHostnames(author.PUID); err == nil {
			rc.FollowerHostnames = followers
		}
	} else {
		if err, friends := d.database.ReadFriendHostnames(profilePUID); err == nil {
			rc.FriendHostnames = friends
		}
	}

	if err, mentions := d.database.ReadPostMentions(post.CUID); err == nil {
		rc.MentionHostnames = d.hostnamesOfUsers(mentions)
	}

	if post.RepostOfCUID != "" {
		if err, original := d.database.ReadPostByCUID(post.RepostOfCUID); err == nil && original != nil {
			if err, origAuthor := d.database.ReadUserByPUID(original.AuthorPUID); err == nil && origAuthor != nil {
				rc.OriginalAuthorHostname = origAuthor.Hostname
			}
		}
	}

	return rc, nil
}

func (d *Distributor) connectedHostnames() []string {
	err, nodes := d.database.ReadConnectedNodes()
	if err != nil || nodes == nil {
		return nil
	}
	var hostnames []string
	for _, node := range *nodes {
		if node.Scope == domain.NodeScopeFull {
			hostnames = append(hostnames, node.Hostname)
		}
	}
	return hostnames
}

func (d *Distributor) hostnamesOfUsers(puids []string) []string {
	var hostnames []string
	for _, puid := range puids {
		if err, user := d.database.ReadUserByPUID(puid); err == nil && user != nil && user.Hostname != "" {
			hostnames = append(hostnames, user.Hostname)
		}
	}
	return hostnames
}

// mentionHostnames pulls the explicit @user@host handles out of free text.
func mentionHostnames(content string) []string {
	var hostnames []string
	for _, handle := range util.ExtractMentions(content) {
		if idx := lastAt(handle); idx > 0 {
			hostnames = append(hostnames, handle[idx+1:])
		}
	}
	return hostnames
}

func lastAt(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			return i
		}
	}
	return -1
}

// DistributePost fans a post mutation out to its resolved recipients,
// optionally excluding hosts (the sender, on a canonical re-fanout).
func (d *Distributor) DistributePost(t EnvelopeType, post *domain.Post, author *domain.User, exclude ...string) error {
	recipients, err := d.PostRecipients(post, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := d.builder.BuildPostEnvelope(t, post, author)
	d.deliverer.Deliver(methodFor(t), env, recipients)
	return nil
}

// CommentRecipients resolves recipients for a comment: the parent post's
// audience, plus the parent comment's author and any mentioned hosts.
func (d *Distributor) CommentRecipients(comment *domain.Comment, author *domain.User) ([]string, error) {
	err, post := d.database.ReadPostByCUID(comment.PostCUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", comment.PostCUID, err)
	}
	err, postAuthor := d.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load author %s: %w", post.AuthorPUID, err)
	}

	rc, err := d.loadPostContext(post, postAuthor)
	if err != nil {
		return nil, err
	}
	rc.ActorHostname = author.Hostname
	rc.MentionHostnames = append(rc.MentionHostnames, mentionHostnames(comment.Content)...)
	rc.ParentAuthorHostname = d.commentAuthorHostname(comment.ParentCUID)
	if postAuthor.Hostname != "" {
		rc.MentionHostnames = append(rc.MentionHostnames, postAuthor.Hostname)
	}
	return ResolveRecipients(rc), nil
}

func (d *Distributor) commentAuthorHostname(parentCUID string) string {
	if parentCUID == "" {
		return ""
	}
	err, parent := d.database.ReadCommentByCUID(parentCUID)
	if err != nil || parent == nil {
		return ""
	}
	if err, user := d.database.ReadUserByPUID(parent.AuthorPUID); err == nil && user != nil {
		return user.Hostname
	}
	return ""
}

func (d *Distributor) DistributeComment(t EnvelopeType, comment *domain.Comment, author *domain.User, exclude ...string) error {
	recipients, err := d.CommentRecipients(comment, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := d.builder.BuildCommentEnvelope(t, comment, author)
	d.deliverer.Deliver(methodFor(t), env, recipients)
	return nil
}

// MediaCommentRecipients routes through the media item's owning post.
func (d *Distributor) MediaCommentRecipients(comment *domain.MediaComment, author *domain.User) ([]string, error) {
	err, item := d.database.ReadMediaItemByMUID(comment.MUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load media %s: %w", comment.MUID, err)
	}
	err, post := d.database.ReadPostByCUID(item.PostCUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", item.PostCUID, err)
	}
	err, postAuthor := d.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load author %s: %w", post.AuthorPUID, err)
	}

	rc, err := d.loadPostContext(post, postAuthor)
	if err != nil {
		return nil, err
	}
	rc.ActorHostname = author.Hostname
	rc.MentionHostnames = append(rc.MentionHostnames, mentionHostnames(comment.Content)...)
	if comment.ParentCUID != "" {
		if err, parent := d.database.ReadMediaCommentByCUID(comment.ParentCUID); err == nil && parent != nil {
			if err, user := d.database.ReadUserByPUID(parent.AuthorPUID); err == nil && user != nil {
				rc.ParentAuthorHostname = user.Hostname
			}
		}
	}
	if postAuthor.Hostname != "" {
		rc.MentionHostnames = append(rc.MentionHostnames, postAuthor.Hostname)
	}
	return ResolveRecipients(rc), nil
}

func (d *Distributor) DistributeMediaComment(t EnvelopeType, comment *domain.MediaComment, author *domain.User, exclude ...string) error {
	recipients, err := d.MediaCommentRecipients(comment, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := d.builder.BuildMediaCommentEnvelope(t, comment, author)
	d.deliverer.Deliver(methodFor(t), env, recipients)
	return nil
}

// DistributeCommentStatus propagates opening or closing a post's comments.
func (d *Distributor) DistributeCommentStatus(post *domain.Post, author *domain.User, closed bool, exclude ...string) error {
	recipients, err := d.PostRecipients(post, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := &CommentStatusEnvelope{
		Type:   TypePostCommentStatusUpdate,
		Actor:  d.builder.ActorRefFor(author),
		CUID:   post.CUID,
		Closed: closed,
	}
	d.deliverer.Deliver(http.MethodPut, env, recipients)
	return nil
}

// EventRecipients resolves recipients for an event mutation. Canonical
// nodes address all remote attendees; downstream nodes address only the
// event's origin, which re-fans out.
func (d *Distributor) EventRecipients(event *domain.Event) []string {
	if event.Hostname != "" {
		return []string{event.Hostname}
	}
	err, hostnames := d.database.ReadAttendeeHostnames(event.PUID)
	if err != nil {
		log.Printf("Distributor: Failed to load attendees of %s: %v", event.PUID, err)
		return nil
	}
	return withoutHosts(dedupeHosts(hostnames, d.hostname), nil)
}

// DistributeEventInvite addresses only the invitees' home nodes.
func (d *Distributor) DistributeEventInvite(event *domain.Event, actor *domain.User, inviteePUIDs []string) error {
	hostnames := dedupeHosts(d.hostnamesOfUsers(inviteePUIDs), d.hostname)
	if len(hostnames) == 0 {
		return nil
	}
	env := d.builder.BuildEventEnvelope(TypeEventInvite, event, actor)
	env.Invitees = inviteePUIDs
	d.deliverer.Deliver(http.MethodPost, env, hostnames)
	return nil
}

func (d *Distributor) DistributeEvent(t EnvelopeType, event *domain.Event, actor *domain.User, exclude ...string) error {
	recipients := withoutHosts(d.EventRecipients(event), exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := d.builder.BuildEventEnvelope(t, event, actor)
	d.deliverer.Deliver(methodFor(t), env, recipients)
	return nil
}

// DistributeEventResponse sends an attendance response. Responses always
// travel to the event's canonical node first.
func (d *Distributor) DistributeEventResponse(event *domain.Event, actor *domain.User, response string, exclude ...string) error {
	recipients := withoutHosts(d.EventRecipients(event), exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := d.builder.BuildEventEnvelope(TypeEventResponse, event, actor)
	env.Response = response
	d.deliverer.Deliver(http.MethodPut, env, recipients)
	return nil
}

// DistributeProfileUpdate broadcasts refreshed display attributes to every
// fully connected node. Nodes that do not hold a stub ignore it.
func (d *Distributor) DistributeProfileUpdate(user *domain.User) {
	recipients := d.connectedHostnames()
	if len(recipients) == 0 {
		return
	}
	env := d.builder.BuildProfileEnvelope(user)
	d.deliverer.Deliver(http.MethodPut, env, recipients)
}

// DistributePoll sends a poll mutation to the owning post's audience.
func (d *Distributor) DistributePoll(env *PollEnvelope, exclude ...string) error {
	err, post := d.database.ReadPostByCUID(env.PostCUID)
	if err != nil {
		return fmt.Errorf("failed to load post %s: %w", env.PostCUID, err)
	}
	err, author := d.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil {
		return fmt.Errorf("failed to load author %s: %w", post.AuthorPUID, err)
	}
	recipients, err := d.PostRecipients(post, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	d.deliverer.Deliver(methodFor(env.Type), env, recipients)
	return nil
}

// DistributeRemoval sends tag/mention removals along the owning item's
// audience, plus the removed subject's own home node.
func (d *Distributor) DistributeRemoval(env *RemovalEnvelope, recipients []string, exclude ...string) {
	if err, subject := d.database.ReadUserByPUID(env.PUID); err == nil && subject != nil && subject.Hostname != "" {
		recipients = append(recipients, subject.Hostname)
	}
	recipients = withoutHosts(dedupeHosts(recipients, d.hostname), exclude)
	if len(recipients) == 0 {
		return
	}
	d.deliverer.Deliver(methodFor(env.Type), env, recipients)
}

// DistributeMediaTags replaces a media item's tag set on the owning
// post's audience.
func (d *Distributor) DistributeMediaTags(muid string, tags []string, actor *domain.User, exclude ...string) error {
	err, item := d.database.ReadMediaItemByMUID(muid)
	if err != nil {
		return fmt.Errorf("failed to load media %s: %w", muid, err)
	}
	err, post := d.database.ReadPostByCUID(item.PostCUID)
	if err != nil {
		return fmt.Errorf("failed to load post %s: %w", item.PostCUID, err)
	}
	err, author := d.database.ReadUserByPUID(post.AuthorPUID)
	if err != nil {
		return fmt.Errorf("failed to load author %s: %w", post.AuthorPUID, err)
	}
	recipients, err := d.PostRecipients(post, author)
	if err != nil {
		return err
	}
	recipients = withoutHosts(recipients, exclude)
	if len(recipients) == 0 {
		return nil
	}
	env := &MediaTagsEnvelope{
		Type:  TypeMediaTagsUpdate,
		Actor: d.builder.ActorRefFor(actor),
		MUID:  muid,
		Tags:  tags,
	}
	d.deliverer.Deliver(http.MethodPut, env, recipients)
	return nil
}

// NotifyLocal records a notification for one local user, skipping stubs
// and self-notification. The acting user's PUID travels in Message so the
// web layer can render who triggered it.
func (d *Distributor) NotifyLocal(userPUID, actorPUID, kind, refId string) {
	if userPUID == "" || userPUID == actorPUID {
		return
	}
	err, user := d.database.ReadUserByPUID(userPUID)
	if err != nil || user == nil || user.IsRemote() {
		return
	}
	n := &domain.Notification{
		Id:        uuid.New(),
		UserPUID:  userPUID,
		Kind:      kind,
		RefId:     refId,
		Message:   actorPUID,
		CreatedAt: time.Now(),
	}
	if err := d.database.CreateNotification(n); err != nil {
		log.Printf("Distributor: Failed to store notification for %s: %v", userPUID, err)
	}
}

// NotifyLocalMentions notifies each locally resolvable mentioned handle
// exactly once.
func (d *Distributor) NotifyLocalMentions(content, actorPUID, refId string) {
	seen := make(map[string]bool)
	for _, handle := range util.ExtractMentions(content) {
		if lastAt(handle) > 0 {
			continue // remote handle, its home node notifies
		}
		err, user := d.database.ReadUserByUsername(handle)
		if err != nil || user == nil || seen[user.PUID] {
			continue
		}
		seen[user.PUID] = true
		d.NotifyLocal(user.PUID, actorPUID, domain.NotifyMention, refId)
	}
}

func withoutHosts(recipients []string, exclude []string) []string {
	if len(exclude) == 0 {
		return recipients
	}
	skip := make(map[string]bool, len(exclude))
	for _, h := range exclude {
		skip[h] = true
	}
	var out []string
	for _, h := range recipients {
		if !skip[h] {
			out = append(out, h)
		}
	}
	return out
}

func dedupeHosts(hostnames []string, local string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hostnames {
		if h == "" || h == local || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
