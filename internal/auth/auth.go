// Package auth resolves and applies the bearer token used by the stream and
// the historical API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrEmptyTokenFile is returned when a token file holds no token.
var ErrEmptyTokenFile = errors.New("token file is empty")

// LoadToken returns token if set, otherwise the trimmed contents of path.
// Both empty means anonymous access and returns "".
func LoadToken(token, path string) (string, error) {
	if t := strings.TrimSpace(token); t != "" {
		return t, nil
	}
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	t := strings.TrimSpace(string(data))
	if t == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyTokenFile)
	}
	return t, nil
}

// SetBearer adds an Authorization header for token. An empty token leaves
// h untouched.
func SetBearer(h http.Header, token string) {
	if token == "" {
		return
	}
	h.Set("Authorization", "Bearer "+token)
}
