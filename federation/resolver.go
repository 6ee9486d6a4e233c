package federation

import "sort"

// GroupContext is the loaded relational context of a group-bound item.
// Origin is empty when this node is the group's canonical home.
type GroupContext struct {
	PUID            string
	Origin          string
	MemberHostnames []string
}

// EventContext mirrors GroupContext for events.
type EventContext struct {
	PUID              string
	Origin            string
	AttendeeHostnames []string
}

// ResolveContext carries everything the resolver needs, passed explicitly
// so resolution is a pure function of its inputs (no ambient request
// state). Hostname fields are empty for local entities.
type ResolveContext struct {
	LocalHostname string

	ActorHostname        string
	ProfileOwnerHostname string
	AuthorIsPage         bool

	Group *GroupContext
	Event *EventContext

	FriendHostnames   []string
	FollowerHostnames []string
	MentionHostnames  []string

	ParentAuthorHostname   string // replies: the parent's author
	OriginalAuthorHostname string // reposts: the original post's author

	// Public-page event announcement with public visibility broadcasts to
	// every connected node.
	PublicBroadcast    bool
	ConnectedHostnames []string
}

// ResolveRecipients computes the set of remote hostnames that must receive
// an item. Deduplicated, sorted, excluding the local node and empty
// hostnames. Precedence: broadcast, then group, then event, then profile
// timeline; mention/reply/repost/actor hostnames are added regardless of
// branch.
func ResolveRecipients(rc ResolveContext) []string {
	set := make(map[string]bool)

	add := func(hostnames ...string) {
		for _, h := range hostnames {
			if h == "" || h == rc.LocalHostname {
				continue
			}
			set[h] = true
		}
	}

	switch {
	case rc.PublicBroadcast:
		add(rc.ConnectedHostnames...)
		if rc.Event != nil {
			add(rc.Event.AttendeeHostnames...)
		}

	case rc.Group != nil:
		if rc.Group.Origin != "" {
			// The group's canonical node owns its membership; it alone
			// receives the item and re-fans it out.
			add(rc.Group.Origin)
		} else {
			add(rc.Group.MemberHostnames...)
		}

	case rc.Event != nil:
		if rc.Event.Origin != "" {
			add(rc.Event.Origin)
		} else {
			add(rc.Event.AttendeeHostnames...)
		}

	default:
		// Profile-timeline item: friends of the relevant profile, or
		// followers if the author is a public page.
		if rc.AuthorIsPage {
			add(rc.FollowerHostnames...)
		} else {
			add(rc.FriendHostnames...)
		}
		add(rc.ProfileOwnerHostname)
	}

	add(rc.MentionHostnames...)
	add(rc.ParentAuthorHostname)
	add(rc.OriginalAuthorHostname)

	// The actor's own home node stays in sync.
	add(rc.ActorHostname)

	recipients := make([]string, 0, len(set))
	for h := range set {
		recipients = append(recipients, h)
	}
	sort.Strings(recipients)
	return recipients
}
