package federation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Request headers carried by all inter-node traffic (except the initial
// pairing handshake).
const (
	HeaderNodeHostname  = "X-Node-Hostname"
	HeaderNodeSignature = "X-Node-Signature"
)

// SignBody computes hex(HMAC-SHA256(secret, body)). The signature covers
// the exact bytes put on the wire, so a receiver verifies the raw request
// body without re-serializing.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody checks a claimed signature in constant time. A single-byte
// change to the body breaks verification.
func VerifyBody(secret string, body []byte, signature string) bool {
	expected := SignBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
