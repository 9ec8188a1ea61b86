package vaultdb

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aliasvault/client-go/cryptox"
	"github.com/aliasvault/client-go/dbx"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("vaultdb: not found")

// Credential is a service login as presented to the user: the service it
// belongs to, the identity used there and the current password.
type Credential struct {
	ID         string
	Service    string
	ServiceURL string
	Username   string
	Email      string
	Password   string
	Notes      string
}

// TotpCode is a stored one-time code secret attached to a credential.
type TotpCode struct {
	ID           string
	Name         string
	SecretKey    string
	CredentialID string
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ListCredentials returns all live credentials ordered by service name.
func ListCredentials(ctx context.Context, q dbx.DBTX) ([]Credential, error) {
	rows, err := q.QueryContext(ctx, `
SELECT c."Id", COALESCE(s."Name", ''), COALESCE(s."Url", ''),
       COALESCE(c."Username", ''), COALESCE(a."Email", ''),
       COALESCE(p."Value", ''), COALESCE(c."Notes", '')
FROM "Credentials" c
JOIN "Services" s ON s."Id" = c."ServiceId"
JOIN "Aliases" a ON a."Id" = c."AliasId"
LEFT JOIN "Passwords" p ON p."CredentialId" = c."Id" AND p."IsDeleted" = 0
WHERE c."IsDeleted" = 0
ORDER BY s."Name"`)
	if err != nil {
		return nil, fmt.Errorf("vaultdb: list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Service, &c.ServiceURL, &c.Username, &c.Email, &c.Password, &c.Notes); err != nil {
			return nil, fmt.Errorf("vaultdb: list credentials: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindCredential looks a credential up by service name, case-insensitive.
func FindCredential(ctx context.Context, q dbx.DBTX, service string) (*Credential, error) {
	var c Credential
	err := q.QueryRowContext(ctx, `
SELECT c."Id", COALESCE(s."Name", ''), COALESCE(s."Url", ''),
       COALESCE(c."Username", ''), COALESCE(a."Email", ''),
       COALESCE(p."Value", ''), COALESCE(c."Notes", '')
FROM "Credentials" c
JOIN "Services" s ON s."Id" = c."ServiceId"
JOIN "Aliases" a ON a."Id" = c."AliasId"
LEFT JOIN "Passwords" p ON p."CredentialId" = c."Id" AND p."IsDeleted" = 0
WHERE c."IsDeleted" = 0 AND s."Name" = ? COLLATE NOCASE
LIMIT 1`, service).Scan(&c.ID, &c.Service, &c.ServiceURL, &c.Username, &c.Email, &c.Password, &c.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credential for %q", ErrNotFound, service)
	}
	if err != nil {
		return nil, fmt.Errorf("vaultdb: find credential: %w", err)
	}
	return &c, nil
}

// AddCredential inserts a credential with its service, alias and
// password rows. Returns the new credential id.
func AddCredential(ctx context.Context, tx dbx.DBTX, c Credential) (string, error) {
	ts := now()
	aliasID := uuid.NewString()
	serviceID := uuid.NewString()
	credID := uuid.NewString()

	_, err := tx.ExecContext(ctx, `
INSERT INTO "Aliases" ("Id", "BirthDate", "Email", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, '', ?, ?, ?, 0)`, aliasID, c.Email, ts, ts)
	if err != nil {
		return "", fmt.Errorf("vaultdb: add alias: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO "Services" ("Id", "Name", "Url", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, ?, ?, ?, ?, 0)`, serviceID, c.Service, c.ServiceURL, ts, ts)
	if err != nil {
		return "", fmt.Errorf("vaultdb: add service: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO "Credentials" ("Id", "AliasId", "ServiceId", "Username", "Notes", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, ?, ?, ?, ?, ?, ?, 0)`, credID, aliasID, serviceID, c.Username, c.Notes, ts, ts)
	if err != nil {
		return "", fmt.Errorf("vaultdb: add credential: %w", err)
	}

	if c.Password != "" {
		_, err = tx.ExecContext(ctx, `
INSERT INTO "Passwords" ("Id", "Value", "CredentialId", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, ?, ?, ?, ?, 0)`, uuid.NewString(), c.Password, credID, ts, ts)
		if err != nil {
			return "", fmt.Errorf("vaultdb: add password: %w", err)
		}
	}
	return credID, nil
}

// DeleteCredential soft-deletes a credential. The row stays for sync
// reconciliation.
func DeleteCredential(ctx context.Context, tx dbx.DBTX, id string) error {
	res, err := tx.ExecContext(ctx, `
UPDATE "Credentials" SET "IsDeleted" = 1, "UpdatedAt" = ? WHERE "Id" = ? AND "IsDeleted" = 0`, now(), id)
	if err != nil {
		return fmt.Errorf("vaultdb: delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: credential %s", ErrNotFound, id)
	}
	return nil
}

// AddKeyPair stores a mailbox key pair inside the vault. Keys are held
// as base64 text, matching the schema's TEXT columns.
func AddKeyPair(ctx context.Context, tx dbx.DBTX, kp cryptox.KeyPair, primary bool) error {
	ts := now()
	isPrimary := 0
	if primary {
		isPrimary = 1
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO "EncryptionKeys" ("Id", "PublicKey", "PrivateKey", "IsPrimary", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, ?, ?, ?, ?, ?, 0)`,
		uuid.NewString(),
		base64.StdEncoding.EncodeToString(kp.Public),
		base64.StdEncoding.EncodeToString(kp.Private),
		isPrimary, ts, ts)
	if err != nil {
		return fmt.Errorf("vaultdb: add key pair: %w", err)
	}
	return nil
}

// LoadKeyring assembles the keyring from every live key pair in the
// vault, newest first so rotated-out keys still decrypt old messages.
func LoadKeyring(ctx context.Context, q dbx.DBTX) (*cryptox.Keyring, error) {
	rows, err := q.QueryContext(ctx, `
SELECT "PublicKey", "PrivateKey" FROM "EncryptionKeys" WHERE "IsDeleted" = 0 ORDER BY "CreatedAt" DESC`)
	if err != nil {
		return nil, fmt.Errorf("vaultdb: load keyring: %w", err)
	}
	defer rows.Close()

	keyring := cryptox.NewKeyring()
	for rows.Next() {
		var pubText, privText string
		if err := rows.Scan(&pubText, &privText); err != nil {
			return nil, fmt.Errorf("vaultdb: load keyring: %w", err)
		}
		pub, err := base64.StdEncoding.DecodeString(pubText)
		if err != nil {
			return nil, fmt.Errorf("vaultdb: decode public key: %w", err)
		}
		priv, err := base64.StdEncoding.DecodeString(privText)
		if err != nil {
			return nil, fmt.Errorf("vaultdb: decode private key: %w", err)
		}
		keyring.Add(cryptox.KeyPair{
			Type:    keyTypeOf(pub),
			Public:  pub,
			Private: priv,
		})
	}
	return keyring, rows.Err()
}

// keyTypeOf distinguishes the two stored key shapes. ML-KEM-768 public
// keys are exactly 1184 bytes; RSA DER keys are far shorter.
func keyTypeOf(pub []byte) cryptox.KeyType {
	if len(pub) == 1184 {
		return cryptox.KeyTypeMLKEM
	}
	return cryptox.KeyTypeRSAOAEP
}

// AddTotpCode attaches a one-time code secret to a credential.
func AddTotpCode(ctx context.Context, tx dbx.DBTX, code TotpCode) (string, error) {
	ts := now()
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
INSERT INTO "TotpCodes" ("Id", "Name", "SecretKey", "CredentialId", "CreatedAt", "UpdatedAt", "IsDeleted")
VALUES (?, ?, ?, ?, ?, ?, 0)`, id, code.Name, code.SecretKey, code.CredentialID, ts, ts)
	if err != nil {
		return "", fmt.Errorf("vaultdb: add totp code: %w", err)
	}
	return id, nil
}

// FindTotpCode looks a one-time code secret up by name.
func FindTotpCode(ctx context.Context, q dbx.DBTX, name string) (*TotpCode, error) {
	var c TotpCode
	err := q.QueryRowContext(ctx, `
SELECT "Id", "Name", "SecretKey", "CredentialId"
FROM "TotpCodes" WHERE "IsDeleted" = 0 AND "Name" = ? COLLATE NOCASE LIMIT 1`, name).
		Scan(&c.ID, &c.Name, &c.SecretKey, &c.CredentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: totp code %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("vaultdb: find totp code: %w", err)
	}
	return &c, nil
}
