// Package identity computes content-addressed identities for runnable blocks.
// An identity is the SHA-256 of a block's normalized content, rendered as
// "sha256:<hex>". Two blocks with identical content share one identity.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix is the algorithm tag carried by every identity.
const Prefix = "sha256:"

// ShortLen is the number of hex digits kept by Short.
const ShortLen = 8

// Of returns the identity of normalized block content.
func Of(content string) string {
	return hashBytes([]byte(content))
}

// Short returns the first ShortLen hex digits of an identity, without the
// algorithm prefix. Used in artifact filenames and human output.
func Short(id string) string {
	hexPart := strings.TrimPrefix(id, Prefix)
	if len(hexPart) > ShortLen {
		hexPart = hexPart[:ShortLen]
	}
	return sanitize(hexPart)
}

// Valid reports whether id looks like an identity produced by Of.
func Valid(id string) bool {
	if !strings.HasPrefix(id, Prefix) {
		return false
	}
	hexPart := id[len(Prefix):]
	if len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// hashBytes computes SHA-256 hash of bytes and returns sha256:hex format.
func hashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(hash[:])
}

// sanitize keeps only characters that are safe in a filename.
func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
