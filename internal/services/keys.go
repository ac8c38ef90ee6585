package services

import (
	"crypto/rand"
	"math/big"
)

const (
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	keyLength   = 24
)

// RandomKey mints a 24-character alphanumeric credential (registration or
// device key). Keys are not checked for uniqueness and must be unguessable.
func RandomKey() string {
	buf := make([]byte, keyLength)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf)
}
