// Package keystore holds the master key while the vault is unlocked.
//
// The session store is memory only; the key is never written to disk in
// raw form. The biometric store persists a platform-wrapped copy so the
// next unlock can skip the password, but only the platform ceremony can
// unwrap it.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// ErrNoKey is returned when no key is currently stored.
var ErrNoKey = errors.New("keystore: no key stored")

// Store keeps the unlocked master key in memory. Safe for concurrent
// use.
type Store struct {
	mu  sync.Mutex
	key []byte
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Store takes a private copy of the key. The caller keeps ownership of
// its own slice.
func (s *Store) Store(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.key)
	s.key = make([]byte, len(key))
	copy(s.key, key)
}

// Retrieve returns a copy of the stored key.
func (s *Store) Retrieve() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrNoKey
	}
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out, nil
}

// Has reports whether a key is stored without copying it.
func (s *Store) Has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

// Clear zeroizes and drops the key. Called synchronously on lock and
// logout, before any other teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.key)
	s.key = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Wrapper wraps key material under a platform credential: secure
// enclave, TPM, or a WebAuthn PRF ceremony. Implementations must refuse
// rather than degrade: a failed ceremony is an error, never a
// weaker-wrapped key.
type Wrapper interface {
	Wrap(ctx context.Context, key []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

var wrappedBucket = []byte("wrapped_keys")

// BiometricStore persists platform-wrapped keys per account.
type BiometricStore struct {
	db      *bolt.DB
	wrapper Wrapper
}

// OpenBiometric opens the wrapped-key database at path.
func OpenBiometric(path string, w Wrapper) (*BiometricStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(wrappedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: init bucket: %w", err)
	}
	return &BiometricStore{db: db, wrapper: w}, nil
}

// Close closes the underlying database.
func (b *BiometricStore) Close() error { return b.db.Close() }

// StoreWrapped wraps the key via the platform ceremony and persists the
// wrapped blob under the account name.
func (b *BiometricStore) StoreWrapped(ctx context.Context, account string, key []byte) error {
	wrapped, err := b.wrapper.Wrap(ctx, key)
	if err != nil {
		return fmt.Errorf("keystore: wrap key: %w", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(wrappedBucket).Put([]byte(account), wrapped)
	})
	if err != nil {
		return fmt.Errorf("keystore: store wrapped key: %w", err)
	}
	return nil
}

// RetrieveWrapped unwraps the stored key via the platform ceremony.
// A failed ceremony surfaces as an error; callers fall back to password
// unlock.
func (b *BiometricStore) RetrieveWrapped(ctx context.Context, account string) ([]byte, error) {
	var wrapped []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(wrappedBucket).Get([]byte(account))
		if v == nil {
			return ErrNoKey
		}
		wrapped = make([]byte, len(v))
		copy(wrapped, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	key, err := b.wrapper.Unwrap(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("keystore: unwrap key: %w", err)
	}
	return key, nil
}

// Delete removes the wrapped key for an account, e.g. on logout.
func (b *BiometricStore) Delete(account string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(wrappedBucket).Delete([]byte(account))
	})
	if err != nil {
		return fmt.Errorf("keystore: delete wrapped key: %w", err)
	}
	return nil
}
