package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	keyLen    = 32
	digestLen = 16
)

// ClientKeyer derives stable, non-reversible keys from client addresses.
// Keys are only comparable within one ClientKeyer.
type ClientKeyer struct {
	secret []byte
}

// NewClientKeyer returns a keyer using secret. An empty secret is replaced
// by random bytes, so keys do not survive a restart.
func NewClientKeyer(secret []byte) (*ClientKeyer, error) {
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("client key secret longer than %d bytes", blake2b.Size)
	}
	if len(secret) == 0 {
		secret = make([]byte, keyLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate client key secret: %w", err)
		}
	}
	return &ClientKeyer{secret: append([]byte(nil), secret...)}, nil
}

// Key hashes addr with the keyer's secret.
func (k *ClientKeyer) Key(addr string) string {
	h, err := blake2b.New(digestLen, k.secret)
	if err != nil {
		// Only possible for a bad key size, which NewClientKeyer rules out.
		panic(err)
	}
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))
}

// ParseSecret decodes a configured secret. Hex is accepted; anything else
// is used as raw bytes.
func ParseSecret(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		if len(b) > blake2b.Size {
			return nil, errors.New("client key secret too long")
		}
		return b, nil
	}
	if len(s) > blake2b.Size {
		return nil, errors.New("client key secret too long")
	}
	return []byte(s), nil
}
