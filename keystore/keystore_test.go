package keystore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New()

	_, err := s.Retrieve()
	require.ErrorIs(t, err, ErrNoKey)
	assert.False(t, s.Has())

	key := []byte{1, 2, 3, 4}
	s.Store(key)
	assert.True(t, s.Has())

	got, err := s.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	// The store owns its copy: mutating caller slices has no effect.
	key[0] = 99
	got[1] = 99
	again, err := s.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, again)
}

func TestStore_Clear(t *testing.T) {
	s := New()
	s.Store([]byte{1, 2, 3, 4})
	s.Clear()

	assert.False(t, s.Has())
	_, err := s.Retrieve()
	require.ErrorIs(t, err, ErrNoKey)
}

// xorWrapper is a stand-in for a platform wrapping ceremony.
type xorWrapper struct {
	fail bool
}

var errCeremony = errors.New("ceremony rejected")

func (w *xorWrapper) Wrap(_ context.Context, key []byte) ([]byte, error) {
	if w.fail {
		return nil, errCeremony
	}
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (w *xorWrapper) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	if w.fail {
		return nil, errCeremony
	}
	out := make([]byte, len(wrapped))
	for i, b := range wrapped {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func openBiometricStore(t *testing.T, w Wrapper) *BiometricStore {
	t.Helper()
	b, err := OpenBiometric(filepath.Join(t.TempDir(), "keys.db"), w)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBiometric_RoundTrip(t *testing.T) {
	b := openBiometricStore(t, &xorWrapper{})
	ctx := context.Background()

	key := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, b.StoreWrapped(ctx, "alice", key))

	got, err := b.RetrieveWrapped(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = b.RetrieveWrapped(ctx, "bob")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestBiometric_CeremonyFailure(t *testing.T) {
	w := &xorWrapper{}
	b := openBiometricStore(t, w)
	ctx := context.Background()

	require.NoError(t, b.StoreWrapped(ctx, "alice", []byte("key")))

	// A refused ceremony must surface as an error, never as key bytes.
	w.fail = true
	_, err := b.RetrieveWrapped(ctx, "alice")
	require.ErrorIs(t, err, errCeremony)

	err = b.StoreWrapped(ctx, "alice", []byte("key"))
	require.ErrorIs(t, err, errCeremony)
}

func TestBiometric_Delete(t *testing.T) {
	b := openBiometricStore(t, &xorWrapper{})
	ctx := context.Background()

	require.NoError(t, b.StoreWrapped(ctx, "alice", []byte("key")))
	require.NoError(t, b.Delete("alice"))

	_, err := b.RetrieveWrapped(ctx, "alice")
	require.ErrorIs(t, err, ErrNoKey)
}
