// Package identity derives the display identity used by unauthenticated
// users and supplies connection credentials.
package identity

import (
	"hash/fnv"
	"strings"
)

const addressHexLen = 40

// AddressFromSessionID derives a pseudo wallet address from a session id.
// Hex digits are kept (case-folded), the first 40 are taken and the result
// is left-padded with zeros, so any input yields ^0x[0-9a-f]{40}$.
func AddressFromSessionID(sessionID string) string {
	var b strings.Builder
	b.Grow(2 + addressHexLen)
	b.WriteString("0x")

	hex := make([]byte, 0, addressHexLen)
	for i := 0; i < len(sessionID) && len(hex) < addressHexLen; i++ {
		c := sessionID[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			hex = append(hex, c)
		case c >= 'A' && c <= 'F':
			hex = append(hex, c+('a'-'A'))
		}
	}

	for i := len(hex); i < addressHexLen; i++ {
		b.WriteByte('0')
	}
	b.Write(hex)
	return b.String()
}

// IsAddress reports whether s is a lowercase 0x-prefixed 40-hex address
func IsAddress(s string) bool {
	if len(s) != 2+addressHexLen || !strings.HasPrefix(s, "0x") {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

var emojis = []string{
	"🦊", "🐼", "🐸", "🦉", "🐙", "🦄", "🐝", "🐢",
	"🦁", "🐧", "🐳", "🦋", "🐨", "🦀", "🐯", "🦜",
}

// EmojiForAddress picks a stable display emoji for an address
func EmojiForAddress(address string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(address)))
	return emojis[h.Sum32()%uint32(len(emojis))]
}
