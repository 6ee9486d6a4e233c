package util

import (
	"strings"
	"testing"
)

func TestRandomSecret(t *testing.T) {
	secret := RandomSecret(32)
	if len(secret) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(secret))
	}

	other := RandomSecret(32)
	if secret == other {
		t.Error("Two secrets should not collide")
	}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "local handle",
			input:    "hi @alice how are you",
			expected: []string{"alice"},
		},
		{
			name:     "remote handle keeps hostname",
			input:    "ping @bob@peer.example",
			expected: []string{"bob@peer.example"},
		},
		{
			name:     "duplicates collapse",
			input:    "@alice @alice @bob",
			expected: []string{"alice", "bob"},
		},
		{
			name:     "no mentions",
			input:    "nothing to see",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractMentions(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, result)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("Expected %v, got %v", tt.expected, result)
				}
			}
		})
	}
}

func TestGlobalIds(t *testing.T) {
	puid := NewPUID()
	cuid := NewCUID()
	muid := NewMUID()

	if !IsPUID(puid) {
		t.Errorf("%s should be a valid PUID", puid)
	}
	if !IsCUID(cuid) {
		t.Errorf("%s should be a valid CUID", cuid)
	}
	if !IsMUID(muid) {
		t.Errorf("%s should be a valid MUID", muid)
	}

	// Prefixes are not interchangeable
	if IsPUID(cuid) || IsCUID(puid) || IsMUID(puid) {
		t.Error("Id kinds should not cross-validate")
	}
	if IsPUID("p-notauuid") {
		t.Error("Malformed tail should not validate")
	}

	if puid == NewPUID() {
		t.Error("Ids should be unique")
	}
	if !strings.HasPrefix(puid, "p-") || !strings.HasPrefix(cuid, "c-") || !strings.HasPrefix(muid, "m-") {
		t.Error("Ids should carry their kind prefix")
	}
}
