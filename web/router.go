package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/kinfolkhq/kinfolk/federation"
	"github.com/kinfolkhq/kinfolk/util"
	"golang.org/x/time/rate"
)

// Deps bundles the long-lived collaborators the routes close over.
type Deps struct {
	Database    *db.DB
	Inbox       *federation.Inbox
	Distributor *federation.Distributor
	Pairer      *federation.Pairer
	Redeemer    *federation.TokenRedeemer
	Discovery   *federation.DiscoveryClient
}

func Router(conf *util.AppConfig, deps *Deps) error {
	log.Printf("Starting federation server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed for the public local timeline
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	if conf.Conf.Federate {
		registerFederation(g, conf, deps)
	}
	registerAdmin(g, conf, deps)

	return g.Run(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}

func registerFederation(g *gin.Engine, conf *util.AppConfig, deps *Deps) {
	// Stricter rate limit for federation endpoints: 5 req/sec per IP
	fedLimiter := NewRateLimiter(rate.Limit(5), 10)
	// Max 1MB request body for envelopes
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)
	signed := RequireNodeSignature(deps.Database)

	// Pairing is the one unsigned federation call; the token is the proof.
	g.POST("/federation/pair", RateLimitMiddleware(fedLimiter), maxBodySize, func(c *gin.Context) {
		var req federation.PairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pairing request"})
			return
		}
		resp, err := deps.Pairer.Pair(req, time.Now())
		if err != nil {
			switch {
			case errors.Is(err, federation.ErrTokenUnknown),
				errors.Is(err, federation.ErrTokenExpired),
				errors.Is(err, federation.ErrTokenUsed):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			default:
				log.Printf("Web: Pairing with %s failed: %v", req.Hostname, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Pairing failed"})
			}
			return
		}
		log.Printf("Web: Paired with %s", req.Hostname)
		c.JSON(http.StatusOK, resp)
	})

	inboxHandler := func(c *gin.Context) {
		body, sender := verifiedBody(c)
		status, err := deps.Inbox.Receive(sender, body)
		if err != nil {
			log.Printf("Web: Inbox envelope from %s rejected (%d): %v", sender, status, err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(status, gin.H{"status": "ok"})
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		g.Handle(method, "/federation/inbox", RateLimitMiddleware(fedLimiter), maxBodySize, signed, inboxHandler)
	}

	// Directory search for paired peers
	g.POST("/federation/search/users", RateLimitMiddleware(fedLimiter), maxBodySize, signed, func(c *gin.Context) {
		req, ok := searchRequest(c)
		if !ok {
			return
		}
		results, err := federation.SearchLocalUsers(deps.Database, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
			return
		}
		c.JSON(http.StatusOK, results)
	})
	g.POST("/federation/search/groups", RateLimitMiddleware(fedLimiter), maxBodySize, signed, func(c *gin.Context) {
		req, ok := searchRequest(c)
		if !ok {
			return
		}
		results, err := federation.SearchLocalGroups(deps.Database, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
			return
		}
		c.JSON(http.StatusOK, results)
	})
	g.POST("/federation/search/events", RateLimitMiddleware(fedLimiter), maxBodySize, signed, func(c *gin.Context) {
		req, ok := searchRequest(c)
		if !ok {
			return
		}
		results, err := federation.SearchLocalEvents(deps.Database, conf.Conf.Hostname, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
			return
		}
		c.JSON(http.StatusOK, results)
	})

	// A paired peer requests a viewer token for one of its users; the
	// token comes back signed with the pair's shared secret.
	g.POST("/federation/viewer-token", RateLimitMiddleware(fedLimiter), maxBodySize, signed, func(c *gin.Context) {
		body, sender := verifiedBody(c)
		var req struct {
			ViewerPUID string `json:"viewer_puid"`
			Resource   string `json:"resource"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.ViewerPUID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token request"})
			return
		}
		err, node := deps.Database.ReadAnyNodeByHostname(sender)
		if err != nil || node == nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Node is not paired"})
			return
		}
		token, err := federation.IssueViewerToken(node.SharedSecret, federation.ViewerClaims{
			ViewerPUID: req.ViewerPUID,
			Origin:     sender,
			Resource:   req.Resource,
			ExpiresAt:  time.Now().Add(15 * time.Minute).Unix(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Token issuance failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	// Token redemption: the remote viewer's browser arrives here. The
	// claimed origin inside the payload selects the secret to verify with.
	g.GET("/view", RateLimitMiddleware(fedLimiter), func(c *gin.Context) {
		token := c.Query("token")
		claims, status := redeemViewerToken(deps, token)
		if claims == nil {
			c.JSON(status, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.JSON(http.StatusOK, viewerPayload(deps.Database, claims))
	})
}

func searchRequest(c *gin.Context) (federation.SearchRequest, bool) {
	body, _ := verifiedBody(c)
	var req federation.SearchRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid search request"})
		return req, false
	}
	return req, true
}

func redeemViewerToken(deps *Deps, token string) (*federation.ViewerClaims, int) {
	if token == "" {
		return nil, http.StatusUnauthorized
	}
	// Peek at the unverified payload for the origin, then verify properly
	// with that pair's secret.
	encoded, _, _ := cutToken(token)
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, http.StatusForbidden
	}
	var peek struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil || peek.Origin == "" {
		return nil, http.StatusForbidden
	}
	err, node := deps.Database.ReadAnyNodeByHostname(peek.Origin)
	if err != nil || node == nil || !node.Connected() {
		return nil, http.StatusForbidden
	}
	claims, err := deps.Redeemer.Redeem(node.SharedSecret, token, time.Now())
	if err != nil {
		return nil, http.StatusForbidden
	}
	return claims, http.StatusOK
}

func cutToken(token string) (string, string, bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return token, "", false
}

// viewerPayload shapes the restricted resource a redeemed token grants.
func viewerPayload(database *db.DB, claims *federation.ViewerClaims) gin.H {
	out := gin.H{
		"viewer_puid": claims.ViewerPUID,
		"resource":    claims.Resource,
	}
	if util.IsCUID(claims.Resource) {
		if err, post := database.ReadPostByCUID(claims.Resource); err == nil && post != nil {
			out["post"] = post
			if err, comments := database.ReadCommentsByPost(post.CUID); err == nil && comments != nil {
				out["comments"] = comments
			}
		}
	}
	return out
}

// registerAdmin exposes node management to the operator. These routes are
// loopback-only; federation peers never reach them.
func registerAdmin(g *gin.Engine, conf *util.AppConfig, deps *Deps) {
	admin := g.Group("/admin", loopbackOnly())

	admin.GET("/nodes", func(c *gin.Context) {
		err, nodes := deps.Database.ReadAllNodes()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list nodes"})
			return
		}
		type nodeView struct {
			Hostname  string    `json:"hostname"`
			Status    string    `json:"status"`
			Scope     string    `json:"scope"`
			Resource  string    `json:"resource,omitempty"`
			CreatedAt time.Time `json:"created_at"`
		}
		views := make([]nodeView, 0, len(*nodes))
		for _, node := range *nodes {
			resource := ""
			if node.ResourceType != "" {
				resource = node.ResourceType + ":" + node.ResourceId
			}
			views = append(views, nodeView{
				Hostname:  node.Hostname,
				Status:    node.Status,
				Scope:     node.Scope,
				Resource:  resource,
				CreatedAt: node.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, views)
	})

	admin.POST("/pair-tokens", func(c *gin.Context) {
		var req struct {
			Scope        string `json:"scope"`
			ResourceType string `json:"resource_type"`
			ResourceId   string `json:"resource_id"`
			TTLMinutes   int    `json:"ttl_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token request"})
			return
		}
		ttl := time.Duration(req.TTLMinutes) * time.Minute
		if ttl <= 0 {
			ttl = time.Hour
		}
		token, err := deps.Pairer.IssueToken(req.Scope, req.ResourceType, req.ResourceId, ttl)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token.Token, "expires_at": token.ExpiresAt})
	})

	// Initiate pairing against a remote node with a token obtained
	// out-of-band.
	admin.POST("/pair", func(c *gin.Context) {
		var req struct {
			Hostname     string `json:"hostname"`
			Token        string `json:"token"`
			Scope        string `json:"scope"`
			ResourceType string `json:"resource_type"`
			ResourceId   string `json:"resource_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Hostname == "" || req.Token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pairing request"})
			return
		}
		scope := req.Scope
		if scope == "" {
			scope = "full"
		}
		if err := federation.InitiatePairing(deps.Database, conf.Conf.Hostname, req.Hostname, req.Token, scope, req.ResourceType, req.ResourceId); err != nil {
			log.Printf("Web: Pairing with %s failed: %v", req.Hostname, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "paired"})
	})

	// Search the directory of a paired node. The query travels signed,
	// like any other federation request.
	admin.POST("/search", func(c *gin.Context) {
		var req struct {
			Hostname string `json:"hostname"`
			Kind     string `json:"kind"`
			Query    string `json:"query"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Hostname == "" || req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid search request"})
			return
		}
		var results interface{}
		var err error
		switch req.Kind {
		case "groups":
			results, err = deps.Discovery.SearchGroups(req.Hostname, req.Query)
		case "events":
			results, err = deps.Discovery.SearchEvents(req.Hostname, req.Query)
		default:
			results, err = deps.Discovery.SearchUsers(req.Hostname, req.Query)
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, results)
	})

	// Profile edits happen outside this daemon; the operator pokes this
	// endpoint afterwards so connected nodes refresh their stubs.
	admin.POST("/broadcast-profile", func(c *gin.Context) {
		var req struct {
			PUID string `json:"puid"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.PUID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid broadcast request"})
			return
		}
		err, user := deps.Database.ReadUserByPUID(req.PUID)
		if err != nil || user == nil || user.IsRemote() {
			c.JSON(http.StatusNotFound, gin.H{"error": "No such local user"})
			return
		}
		deps.Distributor.DistributeProfileUpdate(user)
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
	})

	// Invite users to a locally created event. Invitees are recorded as
	// attendees without a response; remote ones get an invite envelope.
	admin.POST("/event-invites", func(c *gin.Context) {
		var req struct {
			EventPUID string   `json:"event_puid"`
			ActorPUID string   `json:"actor_puid"`
			Invitees  []string `json:"invitees"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.EventPUID == "" || req.ActorPUID == "" || len(req.Invitees) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invite request"})
			return
		}
		err, event := deps.Database.ReadEventByPUID(req.EventPUID)
		if err != nil || event == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No such event"})
			return
		}
		err, actor := deps.Database.ReadUserByPUID(req.ActorPUID)
		if err != nil || actor == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No such user"})
			return
		}
		if event.CreatorPUID != actor.PUID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator may invite"})
			return
		}
		for _, puid := range req.Invitees {
			att := &domain.EventAttendee{
				EventPUID: event.PUID,
				UserPUID:  puid,
				Response:  "",
				CreatedAt: time.Now(),
			}
			if err := deps.Database.UpsertAttendee(att); err != nil {
				log.Printf("Web: Failed to record invite for %s: %v", puid, err)
				continue
			}
			deps.Distributor.NotifyLocal(puid, actor.PUID, domain.NotifyEventInvite, event.PUID)
		}
		if err := deps.Distributor.DistributeEventInvite(event, actor, req.Invitees); err != nil {
			log.Printf("Web: Invite delivery for %s failed: %v", event.PUID, err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "invited"})
	})

	admin.DELETE("/nodes", func(c *gin.Context) {
		var req struct {
			Hostname     string `json:"hostname"`
			Scope        string `json:"scope"`
			ResourceType string `json:"resource_type"`
			ResourceId   string `json:"resource_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Hostname == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid removal request"})
			return
		}
		if req.Scope == "" {
			req.Scope = "full"
		}
		if err := deps.Database.DeleteNode(req.Hostname, req.Scope, req.ResourceType, req.ResourceId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove node"})
			return
		}
		log.Printf("Web: Removed node %s (%s)", req.Hostname, req.Scope)
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	})
}

func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin endpoints are local only"})
			c.Abort()
			return
		}
		c.Next()
	}
}
