package wire

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Room codes are short enough to read aloud, so the alphabet drops the
// glyph pairs players routinely confuse: I/1 and O/0.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 5
)

// NewRoomCode generates a fixed-length room code from the unambiguous
// alphabet.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeRoomCode upper-cases and trims a user-entered code; comparisons
// are always case-insensitive.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether a normalized code has the expected length
// and alphabet.
func ValidRoomCode(code string) bool {
	if len(code) != roomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(roomCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
