// Package localstore is the unencrypted cache database: the data a
// client may safely persist in plaintext between sessions. That is the
// account's public KDF parameters, the last known server revision, the
// still-encrypted vault blob for offline use, a password verifier hash
// and, when the user opted in, the refresh token.
//
// The master key and decrypted vault contents never go through here.
package localstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/aliasvault/client-go/kdf"
	"github.com/aliasvault/client-go/localstore/migrations"
)

// ErrNotCached is returned by typed getters when the cache holds no
// value for the account yet.
var ErrNotCached = errors.New("localstore: value not cached")

const (
	keyUsername      = "username"
	keyKDFParams     = "kdf_params"
	keyKeyVerifier   = "key_verifier"
	keyVaultBlob     = "vault_blob"
	keyVaultRevision = "vault_revision"
	keyVaultSchema   = "vault_schema_version"
	keyRefreshToken  = "refresh_token"
	keyUnsynced      = "unsynced"
)

// Store is the cache database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database and applies its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("localstore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("localstore: delete %s: %w", key, err)
	}
	return nil
}

// SetAccount records the signed-in account and its KDF parameters.
func (s *Store) SetAccount(ctx context.Context, username string, params kdf.Params) error {
	if err := s.set(ctx, keyUsername, []byte(username)); err != nil {
		return err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("localstore: encode kdf params: %w", err)
	}
	return s.set(ctx, keyKDFParams, encoded)
}

// Account returns the cached account identity.
func (s *Store) Account(ctx context.Context) (username string, params kdf.Params, err error) {
	name, err := s.get(ctx, keyUsername)
	if err != nil {
		return "", kdf.Params{}, err
	}
	encoded, err := s.get(ctx, keyKDFParams)
	if err != nil {
		return "", kdf.Params{}, err
	}
	if err := json.Unmarshal(encoded, &params); err != nil {
		return "", kdf.Params{}, fmt.Errorf("localstore: decode kdf params: %w", err)
	}
	return string(name), params, nil
}

// SetKeyVerifier stores the hash used to validate the password during
// offline unlock. A hash of the derived key, never the key itself.
func (s *Store) SetKeyVerifier(ctx context.Context, verifier []byte) error {
	return s.set(ctx, keyKeyVerifier, verifier)
}

// KeyVerifier returns the offline unlock verifier.
func (s *Store) KeyVerifier(ctx context.Context) ([]byte, error) {
	return s.get(ctx, keyKeyVerifier)
}

// SetVaultCache stores the encrypted blob with the revision and schema
// version it was fetched (or pushed) at.
func (s *Store) SetVaultCache(ctx context.Context, blob []byte, revision int64, schemaVersion int) error {
	if err := s.set(ctx, keyVaultBlob, blob); err != nil {
		return err
	}
	rev := make([]byte, 8)
	binary.BigEndian.PutUint64(rev, uint64(revision))
	if err := s.set(ctx, keyVaultRevision, rev); err != nil {
		return err
	}
	schema := make([]byte, 8)
	binary.BigEndian.PutUint64(schema, uint64(schemaVersion))
	return s.set(ctx, keyVaultSchema, schema)
}

// VaultCache returns the cached encrypted blob and its revision and
// schema version.
func (s *Store) VaultCache(ctx context.Context) (blob []byte, revision int64, schemaVersion int, err error) {
	blob, err = s.get(ctx, keyVaultBlob)
	if err != nil {
		return nil, 0, 0, err
	}
	rev, err := s.get(ctx, keyVaultRevision)
	if err != nil || len(rev) != 8 {
		return nil, 0, 0, fmt.Errorf("%w: vault revision", ErrNotCached)
	}
	schema, err := s.get(ctx, keyVaultSchema)
	if err != nil || len(schema) != 8 {
		return nil, 0, 0, fmt.Errorf("%w: vault schema version", ErrNotCached)
	}
	return blob, int64(binary.BigEndian.Uint64(rev)), int(binary.BigEndian.Uint64(schema)), nil
}

// SetRefreshToken persists the refresh token ("remember me" sessions).
func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return s.delete(ctx, keyRefreshToken)
	}
	return s.set(ctx, keyRefreshToken, []byte(token))
}

// RefreshToken returns the persisted refresh token.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	v, err := s.get(ctx, keyRefreshToken)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetUnsynced flags that the cached blob holds local changes the server
// has not seen, e.g. a mutation committed while offline.
func (s *Store) SetUnsynced(ctx context.Context, unsynced bool) error {
	v := []byte{0}
	if unsynced {
		v[0] = 1
	}
	return s.set(ctx, keyUnsynced, v)
}

// Unsynced reports whether local changes are pending a push. An absent
// flag means synced.
func (s *Store) Unsynced(ctx context.Context) (bool, error) {
	v, err := s.get(ctx, keyUnsynced)
	if errors.Is(err, ErrNotCached) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 1, nil
}

// Clear wipes the cache, e.g. on logout.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return fmt.Errorf("localstore: clear: %w", err)
	}
	return nil
}
