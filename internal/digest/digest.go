// Package digest computes the bytecode fingerprints stored in network manifests.
package digest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Keys that identify a Solidity CBOR metadata section. The section is
// appended to the runtime code and followed by its own 2-byte length.
var metadataKeys = [][]byte{
	[]byte("bzzr0"),
	[]byte("bzzr1"),
	[]byte("ipfs"),
}

// Digest returns the 0x-prefixed keccak256 fingerprint of a contract, computed
// over its constructor code followed by its deployed code, with the trailing
// compiler metadata removed.
func Digest(constructorCode, deployedCode []byte) string {
	code := make([]byte, 0, len(constructorCode)+len(deployedCode))
	code = append(code, constructorCode...)
	code = append(code, deployedCode...)
	return crypto.Keccak256Hash(StripMetadata(code)).Hex()
}

// StripMetadata removes the CBOR metadata appended to bytecode by solc.
// Bytecode without a recognizable metadata section is returned unchanged.
func StripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	size := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	start := len(code) - 2 - size
	if size == 0 || start < 0 {
		return code
	}
	section := code[start : len(code)-2]
	// CBOR major type 5 (map)
	if section[0]&0xe0 != 0xa0 {
		return code
	}
	for _, key := range metadataKeys {
		if bytes.Contains(section, key) {
			return code[:start]
		}
	}
	return code
}

// ErrOddLength is returned for hex strings with a dangling nibble.
var ErrOddLength = errors.New("hex string has odd length")

// DecodeHex decodes a hex string with an optional 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = trimPrefix(s)
	if len(s)%2 == 1 {
		return nil, fmt.Errorf("decoding hex: %w", ErrOddLength)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return b, nil
}

// Equal reports whether two fingerprints are the same, ignoring case and the
// 0x prefix.
func Equal(a, b string) bool {
	return strings.EqualFold(trimPrefix(a), trimPrefix(b))
}

func trimPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
