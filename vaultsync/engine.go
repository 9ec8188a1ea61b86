// Package vaultsync orchestrates the vault lifecycle: login and unlock,
// pull/push synchronization with optimistic concurrency, schema
// upgrades and session teardown. It is the only writer to the local
// vault; callers funnel every mutation through the engine.
package vaultsync

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aliasvault/client-go/cryptox"
	"github.com/aliasvault/client-go/dbx"
	"github.com/aliasvault/client-go/kdf"
	"github.com/aliasvault/client-go/keystore"
	"github.com/aliasvault/client-go/localstore"
	"github.com/aliasvault/client-go/logging"
	"github.com/aliasvault/client-go/migrate"
	"github.com/aliasvault/client-go/srp"
	"github.com/aliasvault/client-go/vaultdb"
	"github.com/aliasvault/client-go/webapi"
)

var (
	// ErrLocked is returned when an operation needs the unlocked vault.
	ErrLocked = errors.New("vaultsync: vault is locked")

	// ErrConflict is surfaced when a mutation push conflicted and the
	// single replay attempt conflicted again.
	ErrConflict = errors.New("vaultsync: vault revision conflict")

	// ErrInvalidPassword is returned by offline unlock when the password
	// does not reproduce the cached key verifier.
	ErrInvalidPassword = errors.New("vaultsync: invalid password")

	// ErrClientOutdated means the server, or the vault's schema, is ahead
	// of what this client supports. The only fix is updating the client.
	ErrClientOutdated = errors.New("vaultsync: client version no longer supported")

	// ErrNoUpgradePending is returned by ProceedUpgrade outside the
	// UpgradeRequired state.
	ErrNoUpgradePending = errors.New("vaultsync: no schema upgrade pending")
)

// Engine drives one account's vault. All operations are serialized:
// overlapping Sync and ExecuteVaultMutation calls queue, because the
// vault is one blob with compare-and-swap semantics, not row-lockable
// state.
type Engine struct {
	api     *webapi.Client
	store   *localstore.Store
	keys    *keystore.Store
	log     logging.Logger
	workDir string

	sem *semaphore.Weighted

	mu            sync.Mutex
	state         State
	username      string
	vault         *vaultdb.Vault
	keyring       *cryptox.Keyring
	revision      int64
	schemaVersion int
	cancel        context.CancelFunc

	pendingAuth     *srp.Authenticator
	pendingUsername string
	pendingRemember bool
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine. workDir is the private directory holding the
// decrypted vault file while unlocked.
func New(api *webapi.Client, store *localstore.Store, keys *keystore.Store, workDir string, opts ...Option) *Engine {
	e := &Engine{
		api:     api,
		store:   store,
		keys:    keys,
		log:     logging.Discard(),
		workDir: workDir,
		sem:     semaphore.NewWeighted(1),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current sync state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Username returns the signed-in account name, if any.
func (e *Engine) Username() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.username
}

// Revision returns the last adopted server revision.
func (e *Engine) Revision() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// Vault returns the unlocked vault database for read access.
func (e *Engine) Vault() (*vaultdb.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vault == nil {
		return nil, ErrLocked
	}
	return e.vault, nil
}

// acquire serializes engine operations and registers a cancel hook so
// Lock and Logout can abort in-flight network work.
func (e *Engine) acquire(ctx context.Context) (context.Context, func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	opCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
		e.sem.Release(1)
	}
	return opCtx, release, nil
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.log.Debug(ctx, "sync state transition", "from", prev.String(), "to", s.String())
}

func (e *Engine) vaultPath() string {
	return filepath.Join(e.workDir, "vault.db")
}

// Login runs the zero-knowledge handshake and, on success, performs the
// initial pull. When the account has a second factor configured it
// returns true and the caller completes with SubmitTwoFactorCode.
func (e *Engine) Login(ctx context.Context, username, password string, rememberMe bool) (twoFactorRequired bool, err error) {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer done()

	auth := srp.NewAuthenticator(e.api)
	if err := auth.InitiateLogin(ctx, username, password); err != nil {
		return false, err
	}
	res, err := auth.ValidateLogin(ctx, rememberMe)
	if err != nil {
		return false, err
	}
	if res.TwoFactorRequired {
		e.mu.Lock()
		e.pendingAuth = auth
		e.pendingUsername = username
		e.pendingRemember = rememberMe
		e.mu.Unlock()
		return true, nil
	}
	return false, e.completeLogin(ctx, username, rememberMe, res)
}

// SubmitTwoFactorCode completes a login paused on the second factor.
func (e *Engine) SubmitTwoFactorCode(ctx context.Context, code string) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	e.mu.Lock()
	auth := e.pendingAuth
	username := e.pendingUsername
	remember := e.pendingRemember
	e.mu.Unlock()
	if auth == nil {
		return fmt.Errorf("%w: no login awaiting a code", srp.ErrInvalidState)
	}

	res, err := auth.ValidateLogin2FA(ctx, code)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pendingAuth = nil
	e.mu.Unlock()
	return e.completeLogin(ctx, username, remember, res)
}

func (e *Engine) completeLogin(ctx context.Context, username string, remember bool, res *srp.Result) error {
	e.api.SetTokens(res.Tokens)
	e.keys.Store(res.MasterKey)
	defer zero(res.MasterKey)

	verifier := sha256.Sum256(res.MasterKey)
	if err := e.store.SetAccount(ctx, username, res.KDFParams); err != nil {
		return err
	}
	if err := e.store.SetKeyVerifier(ctx, verifier[:]); err != nil {
		return err
	}
	token := ""
	if remember {
		token = res.Tokens.RefreshToken
	}
	if err := e.store.SetRefreshToken(ctx, token); err != nil {
		return err
	}

	e.mu.Lock()
	e.username = username
	e.mu.Unlock()

	env, err := e.api.GetVault(ctx)
	if err != nil {
		return fmt.Errorf("initial pull: %w", err)
	}
	if err := e.adoptEnvelope(ctx, env, res.MasterKey); err != nil {
		return err
	}
	e.setState(ctx, StateSynced)
	e.log.Info(ctx, "logged in", "username", username, "revision", env.Revision)
	return nil
}

// Unlock opens the vault offline: the password is checked against the
// cached key verifier and the cached encrypted blob is decrypted. No
// network involved; a remembered session is restored opportunistically.
func (e *Engine) Unlock(ctx context.Context, password string) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	username, params, err := e.store.Account(ctx)
	if err != nil {
		return err
	}

	key, err := kdf.Derive(password, params)
	if err != nil {
		return err
	}
	defer zero(key)

	verifier, err := e.store.KeyVerifier(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(key)
	if subtle.ConstantTimeCompare(sum[:], verifier) != 1 {
		return ErrInvalidPassword
	}

	blob, revision, schemaVersion, err := e.store.VaultCache(ctx)
	if err != nil {
		return err
	}
	if err := e.openVault(ctx, blob, revision, schemaVersion, key); err != nil {
		return err
	}

	e.keys.Store(key)
	e.mu.Lock()
	e.username = username
	e.mu.Unlock()

	// Best effort: revive a remembered session so the next sync does not
	// need a fresh login. Offline unlock must still succeed without it.
	if token, err := e.store.RefreshToken(ctx); err == nil && token != "" {
		e.api.SetTokens(webapi.TokenPair{RefreshToken: token})
		if err := e.api.Refresh(ctx); err != nil {
			e.log.Warn(ctx, "session restore failed, password login required for sync", "error", err)
			e.api.ClearTokens()
		} else if err := e.store.SetRefreshToken(ctx, e.api.Tokens().RefreshToken); err != nil {
			return err
		}
	}

	e.log.Info(ctx, "vault unlocked offline", "username", username, "revision", revision)
	return nil
}

// UnlockWithKey opens the vault with key material recovered from a
// platform keystore ceremony instead of the password.
func (e *Engine) UnlockWithKey(ctx context.Context, key []byte) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	username, _, err := e.store.Account(ctx)
	if err != nil {
		return err
	}
	verifier, err := e.store.KeyVerifier(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(key)
	if subtle.ConstantTimeCompare(sum[:], verifier) != 1 {
		return ErrInvalidPassword
	}

	blob, revision, schemaVersion, err := e.store.VaultCache(ctx)
	if err != nil {
		return err
	}
	if err := e.openVault(ctx, blob, revision, schemaVersion, key); err != nil {
		return err
	}

	e.keys.Store(key)
	e.mu.Lock()
	e.username = username
	e.mu.Unlock()
	return nil
}

// Lock aborts in-flight work, clears the master key synchronously and
// removes the decrypted vault file. Tokens and the local cache survive;
// the next Unlock reopens the vault offline.
func (e *Engine) Lock() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// The key dies first, before waiting on anything.
	e.keys.Clear()

	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	vault := e.vault
	e.vault = nil
	e.keyring = nil
	e.pendingAuth = nil
	e.state = StateIdle
	e.mu.Unlock()

	if vault != nil {
		if err := vault.Remove(); err != nil {
			return fmt.Errorf("vaultsync: remove vault file: %w", err)
		}
	}
	return nil
}

// Logout is Lock plus forgetting the session: tokens and the entire
// local cache are dropped.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.Lock(); err != nil {
		return err
	}
	e.api.ClearTokens()
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.username = ""
	e.mu.Unlock()
	return nil
}

// Register creates a new account with a fresh empty vault: new KDF
// parameters, SRP verifier and a primary mailbox key pair, pushed as the
// account's initial envelope. Call Login afterwards to start a session.
func (e *Engine) Register(ctx context.Context, username, password string) error {
	ctx, done, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer done()

	salt, err := srp.GenerateSalt()
	if err != nil {
		return err
	}
	params := kdf.Params{
		Salt:      []byte(salt),
		Algorithm: kdf.Argon2Id,
		Settings:  kdf.DefaultSettings(),
	}
	key, err := kdf.Derive(password, params)
	if err != nil {
		return err
	}
	defer zero(key)

	privateKey, err := srp.DerivePrivateKey(salt, username, hex.EncodeToString(key))
	if err != nil {
		return err
	}
	srpVerifier, err := srp.DeriveVerifier(privateKey)
	if err != nil {
		return err
	}

	vault, err := vaultdb.Create(ctx, filepath.Join(e.workDir, "register.db"))
	if err != nil {
		return err
	}
	defer vault.Remove()

	keyPair, err := cryptox.GenerateKeyPair(cryptox.KeyTypeRSAOAEP)
	if err != nil {
		return err
	}
	err = vault.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return vaultdb.AddKeyPair(ctx, tx, keyPair, true)
	})
	if err != nil {
		return err
	}

	plain, err := vault.Serialize(ctx)
	if err != nil {
		return err
	}
	blob, err := cryptox.EncryptBlob(plain, key)
	if err != nil {
		return err
	}

	return e.api.Register(ctx, webapi.RegisterRequest{
		Username:           username,
		Salt:               salt,
		Verifier:           srpVerifier,
		EncryptionType:     string(params.Algorithm),
		EncryptionSettings: kdf.EncodeSettings(params.Settings),
		EncryptedBlob:      blob,
		SchemaVersion:      migrate.LatestRevision(),
	})
}

// adoptEnvelope decrypts a server envelope and makes it the local
// vault: file, keyring, cached blob, revision. The previous local vault
// state is discarded.
func (e *Engine) adoptEnvelope(ctx context.Context, env *webapi.VaultEnvelope, key []byte) error {
	if env.SchemaVersion > migrate.LatestRevision() {
		return fmt.Errorf("%w: vault schema %d, newest supported %d",
			ErrClientOutdated, env.SchemaVersion, migrate.LatestRevision())
	}
	if err := e.openVault(ctx, env.EncryptedBlob, env.Revision, env.SchemaVersion, key); err != nil {
		return err
	}
	if err := e.store.SetVaultCache(ctx, env.EncryptedBlob, env.Revision, env.SchemaVersion); err != nil {
		return err
	}
	return e.store.SetUnsynced(ctx, false)
}

// openVault decrypts a blob into the working vault file and loads the
// keyring from it.
func (e *Engine) openVault(ctx context.Context, blob []byte, revision int64, schemaVersion int, key []byte) error {
	plain, err := cryptox.DecryptBlob(blob, key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.vault
	e.vault = nil
	e.mu.Unlock()
	if old != nil {
		if err := old.Remove(); err != nil {
			return fmt.Errorf("vaultsync: replace vault file: %w", err)
		}
	}

	vault, err := vaultdb.FromBytes(ctx, e.vaultPath(), plain)
	if err != nil {
		return err
	}
	keyring, err := vaultdb.LoadKeyring(ctx, vault.DB())
	if err != nil {
		vault.Close()
		return err
	}

	e.mu.Lock()
	e.vault = vault
	e.keyring = keyring
	e.revision = revision
	e.schemaVersion = schemaVersion
	e.mu.Unlock()
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
