package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

var sessionIDPattern = regexp.MustCompile(`^sess_[a-f0-9]{32}$`)

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}

// isValidSessionID reports whether id has the shape of a minted session
// identifier. A well-shaped id that is simply unknown is a not-found
// condition, not an invalid one.
func isValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
