// Package roomid generates short shareable room codes.
package roomid

import (
	"crypto/rand"
	"math/big"
)

// Alphabet avoids ambiguous characters (0/O, 1/l).
const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const codeLen = 8

// New returns a random room code.
func New() string {
	b := make([]byte, codeLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}
