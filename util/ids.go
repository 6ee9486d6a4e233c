package util

import (
	"strings"

	"github.com/google/uuid"
)

// Global identifiers travel between nodes; local row ids never do. A PUID
// names a person, group or event, a CUID a post or comment, an MUID a media
// item. Minted once at creation, never reused.

func NewPUID() string {
	return "p-" + uuid.New().String()
}

func NewCUID() string {
	return "c-" + uuid.New().String()
}

func NewMUID() string {
	return "m-" + uuid.New().String()
}

func IsPUID(id string) bool {
	return strings.HasPrefix(id, "p-") && validTail(id[2:])
}

func IsCUID(id string) bool {
	return strings.HasPrefix(id, "c-") && validTail(id[2:])
}

func IsMUID(id string) bool {
	return strings.HasPrefix(id, "m-") && validTail(id[2:])
}

func validTail(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
