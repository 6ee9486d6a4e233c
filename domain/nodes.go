package domain

import (
	"fmt"
	"time"
)

// Node status values
const (
	NodeStatusPending   = "pending"
	NodeStatusConnected = "connected"
)

// Node connection scopes. A full connection trusts the whole remote node;
// a targeted connection subscribes one remote node to a single local
// resource (one group or page).
const (
	NodeScopeFull     = "full"
	NodeScopeTargeted = "targeted"
)

// Node represents a remote federation peer in the trust store.
// SharedSecret is only set once pairing completed.
type Node struct {
	Hostname     string
	Status       string
	SharedSecret string
	RemoteNodeId string
	Scope        string
	ResourceType string // set when Scope == targeted
	ResourceId   string // global id of the subscribed resource
	CreatedAt    time.Time
}

func (n *Node) Connected() bool {
	return n.Status == NodeStatusConnected && n.SharedSecret != ""
}

func (n *Node) ToString() string {
	return fmt.Sprintf("\n\tHostname: %s \n\tStatus: %s \n\tScope: %s \n\tCreatedAt: %s)", n.Hostname, n.Status, n.Scope, n.CreatedAt)
}

// PairToken is a single-use, time-limited token handed to a prospective
// peer out-of-band before the pairing call.
type PairToken struct {
	Token        string
	Scope        string
	ResourceType string
	ResourceId   string
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}

func (t *PairToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
