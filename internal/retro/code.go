package retro

import (
	"crypto/rand"
	"strings"
)

// CodeAlphabet is the set of symbols session codes are drawn from. It omits
// 0, O, 1 and I so codes can be read aloud and typed without ambiguity.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of symbols in a session code.
const CodeLength = 6

// NewCode returns a random session code. 32 divides 256, so masking a random
// byte to 5 bits picks every symbol with equal probability.
func NewCode() string {
	var buf [CodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("retro: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[b&31]
	}
	return string(buf[:])
}

// NormalizeCode upper-cases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the shape of a generated session code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
