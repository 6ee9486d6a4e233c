package federation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/kinfolkhq/kinfolk/util"
)

// Pairing errors mapped to HTTP statuses by the web layer.
var (
	ErrTokenUnknown = errors.New("unknown pair token")
	ErrTokenExpired = errors.New("pair token expired")
	ErrTokenUsed    = errors.New("pair token already used")
)

// PairRequest is the second phase of the handshake: the prospective peer
// presents the out-of-band token together with its own identity.
type PairRequest struct {
	Hostname     string `json:"hostname" binding:"required"`
	Token        string `json:"token" binding:"required"`
	RemoteNodeId string `json:"remote_node_id"`
}

// PairResponse hands back the minted shared secret. It travels exactly
// once, over this response.
type PairResponse struct {
	SharedSecret string `json:"shared_secret"`
	RemoteNodeId string `json:"remote_node_id"`
}

// Pairer mints connections from single-use tokens.
type Pairer struct {
	database *db.DB
	nodeId   string
}

func NewPairer(database *db.DB, hostname string) *Pairer {
	// Stable opaque identity derived from the hostname.
	return &Pairer{
		database: database,
		nodeId:   uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostname)).String(),
	}
}

func (p *Pairer) NodeId() string {
	return p.nodeId
}

// IssueToken creates a pairing token valid for ttl. Scope full pairs the
// whole node; scope targeted subscribes the peer to one local resource.
func (p *Pairer) IssueToken(scope, resourceType, resourceId string, ttl time.Duration) (*domain.PairToken, error) {
	if scope != domain.NodeScopeFull && scope != domain.NodeScopeTargeted {
		return nil, fmt.Errorf("invalid scope %q", scope)
	}
	if scope == domain.NodeScopeFull {
		resourceType, resourceId = "", ""
	}
	token := db.NewPairToken(util.RandomSecret(16), scope, resourceType, resourceId, ttl)
	if err := p.database.CreatePairToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// Pair validates and consumes the token, mints a shared secret and stores
// the connection. A peer re-pairing under the same hostname and scope
// replaces its previous secret instead of creating a second connection,
// which keeps at most one full connection per hostname.
func (p *Pairer) Pair(req PairRequest, now time.Time) (*PairResponse, error) {
	err, token := p.database.ReadPairToken(req.Token)
	if err != nil || token == nil {
		return nil, ErrTokenUnknown
	}
	if token.Used {
		return nil, ErrTokenUsed
	}
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	consumed, err := p.database.ConsumePairToken(req.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if !consumed {
		return nil, ErrTokenUsed
	}

	secret := util.RandomSecret(32)
	node := &domain.Node{
		Hostname:     req.Hostname,
		Status:       domain.NodeStatusConnected,
		SharedSecret: secret,
		RemoteNodeId: req.RemoteNodeId,
		Scope:        token.Scope,
		ResourceType: token.ResourceType,
		ResourceId:   token.ResourceId,
		CreatedAt:    now,
	}

	if err := p.database.CreateNode(node); err != nil {
		if !db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to store node: %w", err)
		}
		if err := p.database.UpdateNode(node); err != nil {
			return nil, fmt.Errorf("failed to refresh node: %w", err)
		}
	}

	return &PairResponse{SharedSecret: secret, RemoteNodeId: p.nodeId}, nil
}

// InitiatePairing runs the second handshake phase from the initiating
// side: present the out-of-band token to the peer and store the minted
// secret from its response.
func InitiatePairing(database *db.DB, localHostname, remoteHostname, token, scope, resourceType, resourceId string) error {
	body, err := json.Marshal(PairRequest{
		Hostname:     localHostname,
		Token:        token,
		RemoteNodeId: uuid.NewSHA1(uuid.NameSpaceDNS, []byte(localHostname)).String(),
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(fmt.Sprintf("https://%s/federation/pair", remoteHostname), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", remoteHostname, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pairing with %s returned %d", remoteHostname, resp.StatusCode)
	}

	var pairResp PairResponse
	if err := json.NewDecoder(resp.Body).Decode(&pairResp); err != nil {
		return fmt.Errorf("failed to decode pairing response: %w", err)
	}
	if pairResp.SharedSecret == "" {
		return errors.New("pairing response carried no secret")
	}
	return CompletePairing(database, remoteHostname, scope, resourceType, resourceId, &pairResp)
}

// CompletePairing stores the connection on the initiating side once the
// peer's response arrives.
func CompletePairing(database *db.DB, hostname string, scope string, resourceType, resourceId string, resp *PairResponse) error {
	node := &domain.Node{
		Hostname:     hostname,
		Status:       domain.NodeStatusConnected,
		SharedSecret: resp.SharedSecret,
		RemoteNodeId: resp.RemoteNodeId,
		Scope:        scope,
		ResourceType: resourceType,
		ResourceId:   resourceId,
		CreatedAt:    time.Now(),
	}
	if err := database.CreateNode(node); err != nil {
		if !db.IsUniqueViolation(err) {
			return err
		}
		return database.UpdateNode(node)
	}
	return nil
}
