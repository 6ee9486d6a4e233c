package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifyBody(t *testing.T) {
	secret := "0123456789abcdef"
	body := []byte(`{"type":"post_create","cuid":"c-1"}`)

	sig := SignBody(secret, body)
	assert.NotEmpty(t, sig)
	assert.True(t, VerifyBody(secret, body, sig))
}

func TestVerifyBodyRejectsTamperedBody(t *testing.T) {
	secret := "0123456789abcdef"
	body := []byte(`{"type":"post_create","cuid":"c-1"}`)
	sig := SignBody(secret, body)

	// Flip a single byte
	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[10] ^= 0x01

	assert.False(t, VerifyBody(secret, tampered, sig))
}

func TestVerifyBodyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"type":"post_create","cuid":"c-1"}`)
	sig := SignBody("secret-a", body)

	assert.False(t, VerifyBody("secret-b", body, sig))
	assert.False(t, VerifyBody("secret-a", body, ""))
	assert.False(t, VerifyBody("secret-a", body, "not-hex"))
}
