// Package sessionkey signs execution batches with delegated session keys.
//
// A session key is authorised on the funding smart account to call
// executeBatch within the limits of its credential. The engine holds only
// these scoped keys, never the account owner's key.
package sessionkey

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyStore resolves session keys by credential key id.
type KeyStore struct {
	keys map[string]*ecdsa.PrivateKey
}

// NewKeyStore wraps an existing key map.
func NewKeyStore(keys map[string]*ecdsa.PrivateKey) *KeyStore {
	return &KeyStore{keys: keys}
}

// ParseKeyStore parses "keyId:hexKey" pairs separated by commas or whitespace,
// the format of SESSION_KEYS.
func ParseKeyStore(raw string) (*KeyStore, error) {
	keys := make(map[string]*ecdsa.PrivateKey)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	for _, field := range fields {
		id, hexKey, ok := strings.Cut(field, ":")
		if !ok || id == "" || hexKey == "" {
			return nil, fmt.Errorf("malformed session key entry %q", redact(field))
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate session key id %q", id)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing session key %q: %w", id, err)
		}
		keys[id] = key
	}
	return &KeyStore{keys: keys}, nil
}

// Key returns the private key for id.
func (s *KeyStore) Key(id string) (*ecdsa.PrivateKey, bool) {
	key, ok := s.keys[id]
	return key, ok
}

// Address returns the signer address of id.
func (s *KeyStore) Address(id string) (common.Address, bool) {
	key, ok := s.keys[id]
	if !ok {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(key.PublicKey), true
}

// Len returns the number of keys.
func (s *KeyStore) Len() int {
	return len(s.keys)
}

func redact(entry string) string {
	id, _, ok := strings.Cut(entry, ":")
	if !ok {
		return "<redacted>"
	}
	return id + ":<redacted>"
}
