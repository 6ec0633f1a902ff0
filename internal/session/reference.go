package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidReference is returned for session references that do not carry
// a recognized marker or the blobId#decryptionKey payload. Handlers map it
// to HTTP 400.
var ErrInvalidReference = errors.New("invalid session reference format")

// Reference identifies an encrypted credential blob on the external store:
// the content address and the key needed to decrypt it.
type Reference struct {
	BlobID     string
	DecryptKey string
}

// ParseReference splits a session reference of the form
// <MARKER>~<blobId>#<decryptionKey> into its blob coordinates. The marker
// list is the fixed set of literal prefixes the hosting service hands out
// (e.g. "CLOUD-AI~", "Demo-Slayer~"). The payload is cut at the first '#'
// after the marker; both halves must be non-empty.
func ParseReference(token string, markers []string) (Reference, error) {
	var payload string
	found := false
	for _, marker := range markers {
		if idx := strings.Index(token, marker); idx >= 0 {
			payload = token[idx+len(marker):]
			found = true
			break
		}
	}
	if !found {
		return Reference{}, fmt.Errorf("%w: no recognized marker", ErrInvalidReference)
	}

	blobID, key, ok := strings.Cut(payload, "#")
	if !ok || blobID == "" || key == "" {
		return Reference{}, fmt.Errorf("%w: missing blobId#decryptionKey", ErrInvalidReference)
	}

	return Reference{BlobID: blobID, DecryptKey: key}, nil
}

// HasStrictPrefix reports whether the token begins with one of the markers
// outright (no leading garbage). The deploy endpoint uses this stricter
// form; set-session accepts markers anywhere in the token.
func HasStrictPrefix(token string, markers []string) bool {
	for _, marker := range markers {
		if strings.HasPrefix(token, marker) {
			return true
		}
	}
	return false
}
