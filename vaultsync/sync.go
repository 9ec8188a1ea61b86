package vaultsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliasvault/client-go/cryptox"
	"github.com/aliasvault/client-go/dbx"
	"github.com/aliasvault/client-go/migrate"
	"github.com/aliasvault/client-go/vaultdb"
	"github.com/aliasvault/client-go/webapi"
)

// Sync reconciles the local vault with the server.
//
// The sequence: status probe, revision compare, then pull or push as
// needed. An unreachable server is an Outcome, not an error; the caller
// decides whether to continue read-only or retry. UpgradeRequired halts
// syncing until ProceedUpgrade runs with the user's consent.
func (e *Engine) Sync(ctx context.Context) (Outcome, error) {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return e.syncLocked(ctx)
}

func (e *Engine) syncLocked(ctx context.Context) (Outcome, error) {
	key, err := e.keys.Retrieve()
	if err != nil {
		return 0, ErrLocked
	}
	defer zero(key)

	e.mu.Lock()
	unlocked := e.vault != nil
	localRevision := e.revision
	localSchema := e.schemaVersion
	e.mu.Unlock()
	if !unlocked {
		return 0, ErrLocked
	}

	e.setState(ctx, StateCheckingStatus)
	status, err := e.api.GetStatus(ctx)
	if err != nil {
		if webapi.IsUnreachable(err) {
			e.log.Info(ctx, "server unreachable, staying offline", "revision", localRevision)
			e.setState(ctx, StateOffline)
			return OutcomeOffline, nil
		}
		e.setState(ctx, StateError)
		return 0, err
	}
	if !status.ClientVersionSupported {
		e.setState(ctx, StateError)
		return 0, ErrClientOutdated
	}

	unsynced, err := e.store.Unsynced(ctx)
	if err != nil {
		e.setState(ctx, StateError)
		return 0, err
	}

	if status.VaultRevision > localRevision {
		if unsynced {
			// Pending local changes were not produced by a replayable
			// closure; adopting the server vault would drop them.
			e.setState(ctx, StateError)
			return 0, fmt.Errorf("%w: pending local changes and a newer server vault", ErrConflict)
		}
		e.setState(ctx, StateSyncing)
		env, err := e.api.GetVault(ctx)
		if err != nil {
			if webapi.IsUnreachable(err) {
				e.setState(ctx, StateOffline)
				return OutcomeOffline, nil
			}
			e.setState(ctx, StateError)
			return 0, err
		}
		if err := e.adoptEnvelope(ctx, env, key); err != nil {
			e.setState(ctx, StateError)
			return 0, err
		}
		e.log.Info(ctx, "pulled vault", "revision", env.Revision, "schema", env.SchemaVersion)
		localSchema = env.SchemaVersion
	}

	if localSchema < migrate.LatestRevision() {
		e.setState(ctx, StateUpgradeRequired)
		return OutcomeUpgradeRequired, nil
	}

	if unsynced {
		e.setState(ctx, StateSyncing)
		if err := e.push(ctx, key); err != nil {
			if webapi.IsUnreachable(err) {
				e.setState(ctx, StateOffline)
				return OutcomeOffline, nil
			}
			e.setState(ctx, StateError)
			if errors.Is(err, webapi.ErrConflict) {
				return 0, fmt.Errorf("%w: pending local changes rejected", ErrConflict)
			}
			return 0, err
		}
		e.log.Info(ctx, "pushed pending local changes", "revision", e.Revision())
	}

	e.setState(ctx, StateSynced)
	return OutcomeSynced, nil
}

// push serializes and encrypts the local vault and uploads it with the
// current revision as compare-and-swap base. On success the new
// revision is adopted and the cache updated.
func (e *Engine) push(ctx context.Context, key []byte) error {
	e.mu.Lock()
	vault := e.vault
	baseRevision := e.revision
	schemaVersion := e.schemaVersion
	e.mu.Unlock()
	if vault == nil {
		return ErrLocked
	}

	plain, err := vault.Serialize(ctx)
	if err != nil {
		return err
	}
	blob, err := cryptox.EncryptBlob(plain, key)
	if err != nil {
		return err
	}

	resp, err := e.api.PutVault(ctx, webapi.VaultUpdateRequest{
		EncryptedBlob: blob,
		BaseRevision:  baseRevision,
		SchemaVersion: schemaVersion,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.revision = resp.Revision
	e.mu.Unlock()

	if err := e.store.SetVaultCache(ctx, blob, resp.Revision, schemaVersion); err != nil {
		return err
	}
	return e.store.SetUnsynced(ctx, false)
}

// cacheLocal refreshes the cached blob from the local vault without a
// server round trip and flags it unsynced. Used when a push cannot
// reach the server: the mutation stays committed locally.
func (e *Engine) cacheLocal(ctx context.Context, key []byte) error {
	e.mu.Lock()
	vault := e.vault
	revision := e.revision
	schemaVersion := e.schemaVersion
	e.mu.Unlock()

	plain, err := vault.Serialize(ctx)
	if err != nil {
		return err
	}
	blob, err := cryptox.EncryptBlob(plain, key)
	if err != nil {
		return err
	}
	if err := e.store.SetVaultCache(ctx, blob, revision, schemaVersion); err != nil {
		return err
	}
	return e.store.SetUnsynced(ctx, true)
}

// ExecuteVaultMutation commits fn locally, then pushes the result.
//
// On a revision conflict the engine re-pulls the latest envelope,
// replays fn against the fresh state and retries the push exactly once;
// a second conflict surfaces ErrConflict. A push failing for network
// reasons leaves the mutation committed locally, flagged unsynced for
// the next sync.
func (e *Engine) ExecuteVaultMutation(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	key, err := e.keys.Retrieve()
	if err != nil {
		return ErrLocked
	}
	defer zero(key)

	e.mu.Lock()
	vault := e.vault
	e.mu.Unlock()
	if vault == nil {
		return ErrLocked
	}

	if err := vault.WithTx(ctx, fn); err != nil {
		return err
	}
	if err := e.reloadKeyring(ctx, vault); err != nil {
		return err
	}

	err = e.push(ctx, key)
	if err == nil {
		e.setState(ctx, StateSynced)
		return nil
	}
	if webapi.IsUnreachable(err) {
		if cacheErr := e.cacheLocal(ctx, key); cacheErr != nil {
			return cacheErr
		}
		e.log.Warn(ctx, "push unreachable, mutation kept locally", "revision", e.Revision())
		e.setState(ctx, StateOffline)
		return nil
	}
	if !errors.Is(err, webapi.ErrConflict) {
		// The commit must survive the failed push; keep it cached for the
		// next sync.
		if cacheErr := e.cacheLocal(ctx, key); cacheErr != nil {
			return cacheErr
		}
		e.setState(ctx, StateError)
		return err
	}

	// Conflict: another device advanced the vault. Adopt its state,
	// replay the mutation once, push again.
	e.log.Info(ctx, "push conflicted, replaying mutation on fresh state")
	env, pullErr := e.api.GetVault(ctx)
	if pullErr != nil {
		e.setState(ctx, StateError)
		return pullErr
	}
	if err := e.adoptEnvelope(ctx, env, key); err != nil {
		e.setState(ctx, StateError)
		return err
	}

	e.mu.Lock()
	vault = e.vault
	e.mu.Unlock()
	if err := vault.WithTx(ctx, fn); err != nil {
		return err
	}
	if err := e.reloadKeyring(ctx, vault); err != nil {
		return err
	}

	err = e.push(ctx, key)
	if err == nil {
		e.setState(ctx, StateSynced)
		return nil
	}
	if webapi.IsUnreachable(err) {
		if cacheErr := e.cacheLocal(ctx, key); cacheErr != nil {
			return cacheErr
		}
		e.setState(ctx, StateOffline)
		return nil
	}
	if errors.Is(err, webapi.ErrConflict) {
		e.setState(ctx, StateError)
		return fmt.Errorf("%w: replay rejected", ErrConflict)
	}
	if cacheErr := e.cacheLocal(ctx, key); cacheErr != nil {
		return cacheErr
	}
	e.setState(ctx, StateError)
	return err
}

// ProceedUpgrade runs the pending schema upgrade after the user
// acknowledged it, then pushes the upgraded vault through the ordinary
// compare-and-swap path. On a conflict the server's newer state is
// adopted and ErrConflict returned; if an upgrade is still needed the
// engine stays in UpgradeRequired for another attempt.
func (e *Engine) ProceedUpgrade(ctx context.Context) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	key, err := e.keys.Retrieve()
	if err != nil {
		return ErrLocked
	}
	defer zero(key)

	e.mu.Lock()
	vault := e.vault
	pending := e.state == StateUpgradeRequired
	e.mu.Unlock()
	if vault == nil {
		return ErrLocked
	}
	if !pending {
		return ErrNoUpgradePending
	}

	current, err := vault.Revision(ctx)
	if err != nil {
		return err
	}
	plan, err := migrate.PlanUpgrade(current, migrate.LatestRevision())
	if err != nil {
		return err
	}
	if err := migrate.ApplyUpgrade(ctx, vault.DB(), plan); err != nil {
		// Rolled back; the vault is unchanged and the upgrade still
		// pending.
		return err
	}
	e.log.Info(ctx, "vault schema upgraded", "from", current, "to", migrate.LatestRevision())

	e.mu.Lock()
	e.schemaVersion = migrate.LatestRevision()
	e.mu.Unlock()

	err = e.push(ctx, key)
	if err == nil {
		e.setState(ctx, StateSynced)
		return nil
	}
	if webapi.IsUnreachable(err) {
		if cacheErr := e.cacheLocal(ctx, key); cacheErr != nil {
			return cacheErr
		}
		e.setState(ctx, StateOffline)
		return nil
	}
	if errors.Is(err, webapi.ErrConflict) {
		env, pullErr := e.api.GetVault(ctx)
		if pullErr != nil {
			e.setState(ctx, StateError)
			return pullErr
		}
		if adoptErr := e.adoptEnvelope(ctx, env, key); adoptErr != nil {
			e.setState(ctx, StateError)
			return adoptErr
		}
		if env.SchemaVersion < migrate.LatestRevision() {
			e.setState(ctx, StateUpgradeRequired)
		} else {
			e.setState(ctx, StateSynced)
		}
		return fmt.Errorf("%w: vault advanced during upgrade", ErrConflict)
	}
	e.setState(ctx, StateError)
	return err
}

// reloadKeyring refreshes the in-memory keyring after a mutation, so a
// key pair added in the same transaction decrypts mail right away.
func (e *Engine) reloadKeyring(ctx context.Context, vault *vaultdb.Vault) error {
	keyring, err := vaultdb.LoadKeyring(ctx, vault.DB())
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.keyring = keyring
	e.mu.Unlock()
	return nil
}

// DecryptMailboxMessage decrypts one mailbox message with the keyring
// loaded from the unlocked vault.
func (e *Engine) DecryptMailboxMessage(msg cryptox.EncryptedMessage) (cryptox.Message, error) {
	e.mu.Lock()
	keyring := e.keyring
	e.mu.Unlock()
	if keyring == nil {
		return cryptox.Message{}, ErrLocked
	}
	return cryptox.DecryptMessage(msg, keyring)
}

// DecryptMailboxMessages preview-decrypts a batch, skipping and
// reporting undecryptable items.
func (e *Engine) DecryptMailboxMessages(msgs []cryptox.EncryptedMessage) ([]cryptox.Message, []cryptox.MessageError, error) {
	e.mu.Lock()
	keyring := e.keyring
	e.mu.Unlock()
	if keyring == nil {
		return nil, nil, ErrLocked
	}
	decrypted, failed := cryptox.DecryptMessages(msgs, keyring)
	return decrypted, failed, nil
}
