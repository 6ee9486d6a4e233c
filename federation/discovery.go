package federation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/util"
)

// Directory search runs over the same signed channel as the inbox: a
// paired node may query another node's people, groups and public events.
// Results carry display attributes and global ids only, never local
// account handles.

const defaultSearchLimit = 25

// SearchRequest is the signed query body.
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// DirectoryUser is one person or page in a search result.
type DirectoryUser struct {
	PUID        string `json:"puid"`
	DisplayName string `json:"display_name"`
	AvatarPath  string `json:"avatar_path,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// DirectoryGroup is one group in a search result.
type DirectoryGroup struct {
	PUID        string `json:"puid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SearchLocalUsers shapes local (non-stub) people and pages for a peer.
func SearchLocalUsers(database *db.DB, req SearchRequest) ([]DirectoryUser, error) {
	err, users := database.SearchLocalUsers(req.Query, searchLimit(req.Limit))
	if err != nil {
		return nil, err
	}
	results := make([]DirectoryUser, 0, len(*users))
	for _, user := range *users {
		results = append(results, DirectoryUser{
			PUID:        user.PUID,
			DisplayName: user.DisplayName,
			AvatarPath:  user.AvatarPath,
			Kind:        user.Kind,
		})
	}
	return results, nil
}

// SearchLocalGroups shapes local groups for a peer.
func SearchLocalGroups(database *db.DB, req SearchRequest) ([]DirectoryGroup, error) {
	err, groups := database.SearchLocalGroups(req.Query, searchLimit(req.Limit))
	if err != nil {
		return nil, err
	}
	results := make([]DirectoryGroup, 0, len(*groups))
	for _, group := range *groups {
		results = append(results, DirectoryGroup{
			PUID:        group.PUID,
			Name:        group.Name,
			Description: group.Description,
		})
	}
	return results, nil
}

// SearchLocalEvents shapes local public events for a peer.
func SearchLocalEvents(database *db.DB, hostname string, req SearchRequest) ([]EventDescriptor, error) {
	err, events := database.SearchPublicEvents(req.Query, searchLimit(req.Limit))
	if err != nil {
		return nil, err
	}
	builder := NewEnvelopeBuilder(database, hostname)
	results := make([]EventDescriptor, 0, len(*events))
	for i := range *events {
		results = append(results, *builder.EventDescriptorFor(&(*events)[i]))
	}
	return results, nil
}

func searchLimit(limit int) int {
	if limit <= 0 || limit > defaultSearchLimit {
		return defaultSearchLimit
	}
	return limit
}

// DiscoveryClient issues signed search queries against paired nodes.
type DiscoveryClient struct {
	database *db.DB
	hostname string
	client   *http.Client
	scheme   string
}

func NewDiscoveryClient(database *db.DB, hostname string) *DiscoveryClient {
	return &DiscoveryClient{
		database: database,
		hostname: hostname,
		client:   &http.Client{Timeout: 10 * time.Second},
		scheme:   "https",
	}
}

func (c *DiscoveryClient) SearchUsers(host, query string) ([]DirectoryUser, error) {
	var results []DirectoryUser
	err := c.query(host, "/federation/search/users", query, &results)
	return results, err
}

func (c *DiscoveryClient) SearchGroups(host, query string) ([]DirectoryGroup, error) {
	var results []DirectoryGroup
	err := c.query(host, "/federation/search/groups", query, &results)
	return results, err
}

func (c *DiscoveryClient) SearchEvents(host, query string) ([]EventDescriptor, error) {
	var results []EventDescriptor
	err := c.query(host, "/federation/search/events", query, &results)
	return results, err
}

func (c *DiscoveryClient) query(host, path, query string, out interface{}) error {
	err, node := c.database.ReadAnyNodeByHostname(host)
	if err != nil || node == nil || !node.Connected() {
		return fmt.Errorf("node %s is not connected", host)
	}

	body, err := json.Marshal(SearchRequest{Query: query})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s://%s%s", c.scheme, host, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set(HeaderNodeHostname, c.hostname)
	req.Header.Set(HeaderNodeSignature, SignBody(node.SharedSecret, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search on %s returned %d", host, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
