package federation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

// Viewer tokens let a remote user view a restricted resource on this node
// without a session here. The origin node issues the token over the nodes'
// shared secret, so only a paired peer can mint one, and each token is
// redeemable once inside its validity window.

var (
	ErrViewerTokenInvalid  = errors.New("invalid viewer token")
	ErrViewerTokenExpired  = errors.New("viewer token expired")
	ErrViewerTokenRedeemed = errors.New("viewer token already redeemed")
)

// ViewerClaims is the signed payload of a viewer token.
type ViewerClaims struct {
	ViewerPUID string `json:"viewer_puid"`
	Origin     string `json:"origin"`
	Resource   string `json:"resource"`
	ExpiresAt  int64  `json:"expires_at"`
}

// IssueViewerToken signs claims with the shared secret of the node pair.
// Format: base64url(json claims) "." hex(hmac-sha256).
func IssueViewerToken(secret string, claims ViewerClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signViewerPayload(secret, encoded), nil
}

// VerifyViewerToken checks signature and expiry and returns the claims.
func VerifyViewerToken(secret, token string, now time.Time) (*ViewerClaims, error) {
	encoded, sig, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrViewerTokenInvalid
	}
	if !hmac.Equal([]byte(signViewerPayload(secret, encoded)), []byte(sig)) {
		return nil, ErrViewerTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrViewerTokenInvalid
	}
	var claims ViewerClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrViewerTokenInvalid
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrViewerTokenExpired
	}
	return &claims, nil
}

func signViewerPayload(secret, encoded string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// TokenRedeemer enforces single use. Redeemed signatures are kept in
// memory until their expiry passes; a restart reopens the window, which
// the validity period bounds.
type TokenRedeemer struct {
	mu       sync.Mutex
	redeemed map[string]time.Time
}

func NewTokenRedeemer() *TokenRedeemer {
	return &TokenRedeemer{redeemed: make(map[string]time.Time)}
}

// Redeem verifies the token and burns it.
func (r *TokenRedeemer) Redeem(secret, token string, now time.Time) (*ViewerClaims, error) {
	claims, err := VerifyViewerToken(secret, token, now)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.redeemed[token]; done {
		return nil, ErrViewerTokenRedeemed
	}
	r.redeemed[token] = time.Unix(claims.ExpiresAt, 0)

	for tok, exp := range r.redeemed {
		if now.After(exp) {
			delete(r.redeemed, tok)
		}
	}
	return claims, nil
}
