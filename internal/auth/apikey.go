package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// KeyPrefix is the prefix of every API key issued by the server
	KeyPrefix = "as_key_"
	// keyHexLength is the length of the hex part of a key
	keyHexLength = 48
)

// ErrMalformedKey is returned for strings that cannot be an issued key.
var ErrMalformedKey = errors.New("malformed API key")

// FromRequest returns the API key of r from X-API-Key or a bearer token.
func FromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// ValidFormat checks that key has the shape of an issued key.
func ValidFormat(key string) error {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || len(rest) != keyHexLength {
		return ErrMalformedKey
	}
	for _, c := range rest {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return ErrMalformedKey
		}
	}
	return nil
}
