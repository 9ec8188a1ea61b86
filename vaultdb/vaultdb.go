// Package vaultdb manages the decrypted vault while it is unlocked: a
// SQLite database file holding credentials, identities, key pairs and
// settings. The file only ever exists in the client's private working
// directory; at rest and on the wire the vault is an encrypted blob.
package vaultdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aliasvault/client-go/dbx"
	"github.com/aliasvault/client-go/migrate"
)

// Vault is an open, decrypted vault database. Single-writer: callers
// serialize mutations through the sync engine.
type Vault struct {
	db   *sql.DB
	path string
}

// Open opens an existing vault database file.
func Open(ctx context.Context, path string) (*Vault, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	// Probe the schema so a corrupt file fails here, not mid-operation.
	if _, err := migrate.CurrentRevision(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vaultdb: open %s: %w", path, err)
	}
	return &Vault{db: db, path: path}, nil
}

// Create builds a fresh vault at the latest schema revision.
func Create(ctx context.Context, path string) (*Vault, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := migrate.ApplyUpgrade(ctx, db, migrate.CreatePlan()); err != nil {
		db.Close()
		return nil, err
	}
	return &Vault{db: db, path: path}, nil
}

// FromBytes restores a vault database from serialized bytes, writing
// them to path and opening the result. The inverse of Serialize.
func FromBytes(ctx context.Context, path string, data []byte) (*Vault, error) {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("vaultdb: restore: %w", err)
	}
	return Open(ctx, path)
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vaultdb: open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vaultdb: enable foreign keys: %w", err)
	}
	return db, nil
}

// DB exposes the raw handle for read-only queries.
func (v *Vault) DB() *sql.DB { return v.db }

// Path returns the database file location.
func (v *Vault) Path() string { return v.path }

// WithTx runs fn inside a transaction.
func (v *Vault) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, v.db, nil, fn)
}

// Revision reads the vault's schema revision.
func (v *Vault) Revision(ctx context.Context) (int, error) {
	return migrate.CurrentRevision(ctx, v.db)
}

// Serialize produces the canonical byte form of the vault: a compacted
// copy written via VACUUM INTO, independent of the live file's WAL state
// or free-page layout. These are the bytes that get encrypted and
// pushed.
func (v *Vault) Serialize(ctx context.Context) ([]byte, error) {
	tmp := filepath.Join(filepath.Dir(v.path), "serialize-"+uuid.NewString()+".db")
	defer os.Remove(tmp)

	if _, err := v.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return nil, fmt.Errorf("vaultdb: serialize: %w", err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("vaultdb: serialize: %w", err)
	}
	return data, nil
}

// Close closes the database handle. The file stays on disk; callers
// remove it when locking the vault.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Remove closes the vault and deletes its file.
func (v *Vault) Remove() error {
	err := v.db.Close()
	if rmErr := os.Remove(v.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
