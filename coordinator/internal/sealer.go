package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// sealedKey reports whether a key's value holds cryptographic material that
// should be encrypted at rest. Meta and config stay readable so operators
// can inspect a database directly.
func sealedKey(k string) bool {
	return k == keyEngineState || strings.HasSuffix(k, "_working_set")
}

// SealedStore decorates a Store with age encryption for opaque engine state
// and round working sets.
type SealedStore struct {
	inner    Store
	identity *age.X25519Identity
}

func NewSealedStore(inner Store, identity *age.X25519Identity) *SealedStore {
	return &SealedStore{inner: inner, identity: identity}
}

func (s *SealedStore) Get(ctx context.Context, operationID string, keys []string) (map[string][]byte, error) {
	values, err := s.inner.Get(ctx, operationID, keys)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		if !sealedKey(k) {
			continue
		}
		opened, err := s.open(v)
		if err != nil {
			return nil, fmt.Errorf("unseal %s/%s: %w", operationID, k, err)
		}
		values[k] = opened
	}
	return values, nil
}

func (s *SealedStore) PutAtomic(ctx context.Context, operationID string, entries map[string][]byte) error {
	sealed := make(map[string][]byte, len(entries))
	for k, v := range entries {
		if !sealedKey(k) {
			sealed[k] = v
			continue
		}
		ct, err := s.seal(v)
		if err != nil {
			return fmt.Errorf("seal %s/%s: %w", operationID, k, err)
		}
		sealed[k] = ct
	}
	return s.inner.PutAtomic(ctx, operationID, sealed)
}

// ListOperations passes through when the inner store supports enumeration.
func (s *SealedStore) ListOperations(ctx context.Context) ([]string, error) {
	lister, ok := s.inner.(Lister)
	if !ok {
		return nil, fmt.Errorf("inner store cannot list operations")
	}
	return lister.ListOperations(ctx)
}

func (s *SealedStore) seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("failed to create age writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("failed to write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SealedStore) open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read decrypted data: %w", err)
	}
	return plaintext, nil
}
