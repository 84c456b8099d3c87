// Package credentials generates one-time passwords for newly provisioned accounts.
package credentials

import (
	"crypto/rand"
	"math/big"
)

const (
	upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lower   = "abcdefghijkmnopqrstuvwxyz"
	digits  = "23456789"
	symbols = "!@#$%&*?"

	// DefaultLength is used when callers pass a non-positive length.
	DefaultLength = 8
	minLength     = 4
)

var mixed = upper + lower + digits + symbols

// Generate returns a random password holding at least one upper-case letter,
// one lower-case letter, one digit and one symbol. Lengths below four are raised
// to four so every class fits.
func Generate(length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	if length < minLength {
		length = minLength
	}
	out := make([]byte, 0, length)
	for _, class := range []string{upper, lower, digits, symbols} {
		out = append(out, pick(class))
	}
	for len(out) < length {
		out = append(out, pick(mixed))
	}
	shuffle(out)
	return string(out)
}

func pick(alphabet string) byte {
	return alphabet[randInt(len(alphabet))]
}

// shuffle is a Fisher-Yates pass driven by crypto/rand.
func shuffle(b []byte) {
	for i := len(b) - 1; i > 0; i-- {
		j := randInt(i + 1)
		b[i], b[j] = b[j], b[i]
	}
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("credentials: secure random source unavailable: " + err.Error())
	}
	return int(v.Int64())
}
