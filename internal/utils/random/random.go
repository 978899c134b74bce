package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Int63n returns a cryptographically secure uniform value in [0, n).
func Int63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random: invalid bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return v.Int64(), nil
}

// Code returns an upper-case alphanumeric code of the given length.
func Code(length int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	out := make([]byte, length)
	for i := range out {
		idx, err := Int63n(int64(len(alphabet)))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx]
	}
	return string(out), nil
}
