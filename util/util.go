package util

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// RandomSecret returns a hex string of length*2 chars from the system CSPRNG.
// Used for shared secrets and pairing tokens.
func RandomSecret(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05 CEST"
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9_.]+)(@[a-zA-Z0-9.\-:]+)?`)

// ExtractMentions returns the distinct @-handles found in text, in order of
// first appearance. A handle is "username" or "username@hostname".
func ExtractMentions(text string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool)
	var handles []string
	for _, match := range matches {
		handle := match[1]
		if match[2] != "" {
			handle += match[2]
		}
		if !seen[handle] {
			seen[handle] = true
			handles = append(handles, handle)
		}
	}
	return handles
}
