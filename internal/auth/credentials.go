package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credential shape: a fixed literal prefix followed by 64 lowercase hex
// characters (32 random bytes). Example: vf_live_3f2a...{64 hex}.
const (
	// KeyPrefix is the literal prefix of every issued API key.
	KeyPrefix = "vf_live_"
	// keyBodyLen is the hex body length following the prefix.
	keyBodyLen = 64
	// displayLen is how many body characters the display prefix keeps.
	displayLen = 6
)

// GenerateKey mints a fresh raw API key. The raw value is returned exactly
// once; callers persist only its fingerprint and display prefix.
func GenerateKey() (raw string, err error) {
	buf := make([]byte, keyBodyLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// ValidShape reports whether raw matches the recognized key scheme. Shape
// checking is the cheap rejection path: anything failing here is rejected
// without a store round-trip.
func ValidShape(raw string) bool {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	body := raw[len(KeyPrefix):]
	if len(body) != keyBodyLen {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Fingerprint returns the one-way digest stored and compared in place of
// the raw secret.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the short public identifier shown in listings,
// e.g. "vf_live_3f2a1b".
func DisplayPrefix(raw string) string {
	body := strings.TrimPrefix(raw, KeyPrefix)
	if len(body) > displayLen {
		body = body[:displayLen]
	}
	return KeyPrefix + body
}
