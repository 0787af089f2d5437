package helpers

import (
	"crypto/rand"
	"fmt"
)

// tokenAlphabet is 36 symbols wide, which at 32 characters gives well over
// 128 bits of entropy for state and nonce values.
const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomToken returns a cryptographically random string of the given length
// drawn from tokenAlphabet. Bytes are rejection-sampled so every symbol is
// equally likely.
func RandomToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}

	// 252 is the largest multiple of len(tokenAlphabet) that fits in a byte
	const limit = 252

	out := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}

		for _, b := range buf {
			if b >= limit {
				continue
			}

			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
