// Package validation provides input validation for appstatus.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Network names: lowercase alphanumeric with hyphens or underscores, 1-64 chars.
// They end up in manifest file names, so no dots or slashes.
var networkNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateNetworkName validates a network name
func ValidateNetworkName(name string) error {
	if name == "" {
		return errors.New("network name cannot be empty")
	}
	if len(name) > 64 {
		return errors.New("network name too long (max 64 chars)")
	}
	if !networkNameRegex.MatchString(name) {
		return errors.New("invalid network name: must be lowercase alphanumeric with hyphens or underscores")
	}
	return nil
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	// Normalize: strip leading 'v' if present, then add it back for semver library
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	// semver accepts vMAJOR and vMAJOR.MINOR shorthands
	mainPart := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}

	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateHex validates a 0x-prefixed hex string of even length.
// An empty payload ("0x") is allowed.
func ValidateHex(s string) error {
	if !strings.HasPrefix(s, "0x") {
		return errors.New("invalid hex: must start with 0x")
	}
	body := s[2:]
	if len(body)%2 != 0 {
		return errors.New("invalid hex: odd length")
	}
	if body != "" && !isHex(body) {
		return errors.New("invalid hex: contains non-hex characters")
	}
	return nil
}

// ValidateHash validates a 32-byte 0x-prefixed hash
func ValidateHash(s string) error {
	if len(s) != 66 {
		return errors.New("invalid hash length: must be 66 characters (0x + 64 hex)")
	}
	return ValidateHex(s)
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}
