package crypto

import (
	"crypto/rand"
	"math/big"
)

const (
	// SecretLength is the length of generated webhook secrets.
	SecretLength = 32

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var alphabetSize = big.NewInt(int64(len(secretAlphabet)))

// GenerateSecret returns a SecretLength string drawn uniformly from [A-Za-z0-9].
func GenerateSecret() (string, error) {
	out := make([]byte, SecretLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		out[i] = secretAlphabet[n.Int64()]
	}
	return string(out), nil
}
