// Package history reads prior agent CLI conversation logs (claude projects
// and codex sessions) so a discussion participant can carry context from an
// earlier session into the meeting.
package history

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodePath turns a filesystem path into a URL-safe identifier usable in
// REST routes and persisted participant records.
func EncodePath(path string) string {
	return base64.URLEncoding.EncodeToString([]byte(path))
}

// DecodePath reverses EncodePath. Missing padding is restored so identifiers
// survive clients that strip trailing '=' characters.
func DecodePath(id string) (string, error) {
	if padding := 4 - len(id)%4; padding != 4 {
		id += strings.Repeat("=", padding)
	}
	raw, err := base64.URLEncoding.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("decode path id: %w", err)
	}
	return string(raw), nil
}
