package room

import (
	"math/rand"
	"strings"
)

// Room codes are 4 characters from an alphabet without easily confused
// glyphs (no I/O/0/1). Matching is case-insensitive.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 4

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode maps human input onto the canonical room-code form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
