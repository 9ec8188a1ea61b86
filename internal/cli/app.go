// Package cli implements the aliasvault command line client: account
// commands, vault sync and credential access on top of the sync engine.
package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aliasvault/client-go/internal/cli/config"
	"github.com/aliasvault/client-go/keystore"
	"github.com/aliasvault/client-go/localstore"
	"github.com/aliasvault/client-go/logging"
	"github.com/aliasvault/client-go/vaultsync"
	"github.com/aliasvault/client-go/webapi"
)

// App wires the engine and its stores for one CLI invocation.
type App struct {
	cfg     *config.Config
	verbose bool

	out io.Writer
	in  *bufio.Reader

	store  *localstore.Store
	engine *vaultsync.Engine
}

// NewApp builds an initialized App. Tests use it with in and out
// replaced; the production path goes through Execute.
func NewApp(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (*App, error) {
	a := &App{cfg: cfg, out: out, in: bufio.NewReader(in)}
	if err := a.init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// init opens the local stores and builds the sync engine. Idempotent,
// so the root command can call it after flags are parsed.
func (a *App) init(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
		return err
	}

	log := logging.Discard()
	if a.verbose {
		log = logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	client, err := webapi.New(a.cfg.ServerURL,
		webapi.WithLogger(log),
		webapi.WithHTTPClient(&http.Client{Timeout: a.cfg.RequestTimeout}),
	)
	if err != nil {
		return err
	}

	store, err := localstore.Open(ctx, filepath.Join(a.cfg.DataDir, "cache.db"))
	if err != nil {
		return err
	}

	a.store = store
	a.engine = vaultsync.New(client, store, keystore.New(), a.cfg.DataDir,
		vaultsync.WithLogger(log))
	return nil
}

// Close locks the engine, removing the decrypted working vault, and
// closes the cache.
func (a *App) Close() error {
	if a.engine != nil {
		if err := a.engine.Lock(); err != nil {
			return err
		}
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// unlock opens the vault, prompting for the master password unless the
// session is already unlocked.
func (a *App) unlock(ctx context.Context) error {
	if _, err := a.engine.Vault(); err == nil {
		return nil
	}

	if _, _, err := a.store.Account(ctx); err != nil {
		if errors.Is(err, localstore.ErrNotCached) {
			return errors.New("no account on this device, run 'login' first")
		}
		return err
	}

	password, err := a.promptPassword("Master password: ")
	if err != nil {
		return err
	}
	if err := a.engine.Unlock(ctx, password); err != nil {
		if errors.Is(err, vaultsync.ErrInvalidPassword) {
			return errors.New("invalid master password")
		}
		return err
	}
	return nil
}
