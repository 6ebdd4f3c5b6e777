package tokens

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"
)

const (
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeDigits  = "0123456789"

	// fallbackPrefix marks codes minted after the random space was
	// exhausted. "OR" cannot collide with a timestamp-suffixed sibling
	// generated in a different second.
	fallbackPrefix = "OR"
)

// randomCode produces a short handoff code: two uppercase letters followed by
// four digits, e.g. "KD4821".
func randomCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	code := make([]byte, 6)
	for i := 0; i < 2; i++ {
		code[i] = codeLetters[int(buf[i])%len(codeLetters)]
	}
	for i := 2; i < 6; i++ {
		code[i] = codeDigits[int(buf[i])%len(codeDigits)]
	}
	return string(code), nil
}

// fallbackCode derives a deterministic code from the clock, used when
// repeated random draws kept colliding.
func fallbackCode(now time.Time) string {
	stamp := strconv.FormatInt(now.Unix(), 10)
	return fallbackPrefix + stamp[len(stamp)-4:]
}
