package web

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/domain"
	"github.com/kinfolkhq/kinfolk/federation"
	"golang.org/x/time/rate"
)

func setupTestDB(t *testing.T) *db.DB {
	database, err := db.Open(fmt.Sprintf("file:web_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}

	if rl.rate != rate.Limit(10) {
		t.Errorf("Expected rate 10, got %v", rl.rate)
	}

	if rl.burst != 20 {
		t.Errorf("Expected burst 20, got %d", rl.burst)
	}
}

func TestGetLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	// Same IP gets the same limiter, different IPs get their own
	limiter1 := rl.getLimiter("192.168.1.1")
	limiter2 := rl.getLimiter("192.168.1.1")
	if limiter1 != limiter2 {
		t.Error("getLimiter should return the same limiter for the same IP")
	}

	limiter3 := rl.getLimiter("192.168.1.2")
	if limiter1 == limiter3 {
		t.Error("getLimiter should return different limiters for different IPs")
	}
}

func TestRateLimitMiddlewareBlocksAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(rate.Limit(1), 2)
	g := gin.New()
	g.Use(RateLimitMiddleware(rl))
	g.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		g.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("Burst requests should pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %d", statuses[2])
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	g := gin.New()
	g.Use(MaxBytesMiddleware(10))
	g.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("tiny")))
	g.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Small body should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(bytes.Repeat([]byte("x"), 100)))
	g.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Oversized body should be rejected, got %d", w.Code)
	}
}

func signatureTestRouter(database *db.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.POST("/inbox", RequireNodeSignature(database), func(c *gin.Context) {
		body, sender := verifiedBody(c)
		c.JSON(http.StatusOK, gin.H{"sender": sender, "bytes": len(body)})
	})
	return g
}

func TestRequireNodeSignatureMissingHeaders(t *testing.T) {
	database := setupTestDB(t)
	g := signatureTestRouter(database)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader([]byte(`{}`)))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without headers, got %d", w.Code)
	}
}

func TestRequireNodeSignatureUnknownNode(t *testing.T) {
	database := setupTestDB(t)
	g := signatureTestRouter(database)

	body := []byte(`{"type":"profile_update"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set(federation.HeaderNodeHostname, "stranger.example")
	req.Header.Set(federation.HeaderNodeSignature, federation.SignBody("guessed", body))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for unknown node, got %d", w.Code)
	}
}

func TestRequireNodeSignatureBadSignature(t *testing.T) {
	database := setupTestDB(t)
	if err := database.CreateNode(&domain.Node{
		Hostname:     "peer.example",
		Status:       domain.NodeStatusConnected,
		SharedSecret: "right-secret",
		Scope:        domain.NodeScopeFull,
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	g := signatureTestRouter(database)

	body := []byte(`{"type":"profile_update"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set(federation.HeaderNodeHostname, "peer.example")
	req.Header.Set(federation.HeaderNodeSignature, federation.SignBody("wrong-secret", body))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for bad signature, got %d", w.Code)
	}
}

func TestRequireNodeSignatureAccepted(t *testing.T) {
	database := setupTestDB(t)
	if err := database.CreateNode(&domain.Node{
		Hostname:     "peer.example",
		Status:       domain.NodeStatusConnected,
		SharedSecret: "right-secret",
		Scope:        domain.NodeScopeFull,
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	g := signatureTestRouter(database)

	body := []byte(`{"type":"profile_update","actor":{"puid":"p-1"}}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set(federation.HeaderNodeHostname, "peer.example")
	req.Header.Set(federation.HeaderNodeSignature, federation.SignBody("right-secret", body))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for valid signature, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestRequireNodeSignaturePendingNodeRejected(t *testing.T) {
	database := setupTestDB(t)
	if err := database.CreateNode(&domain.Node{
		Hostname:  "pending.example",
		Status:    domain.NodeStatusPending,
		Scope:     domain.NodeScopeFull,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	g := signatureTestRouter(database)

	body := []byte(`{"type":"profile_update"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set(federation.HeaderNodeHostname, "pending.example")
	req.Header.Set(federation.HeaderNodeSignature, federation.SignBody("", body))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for pending node, got %d", w.Code)
	}
}
