package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aliasvault/client-go/localstore"
	"github.com/aliasvault/client-go/vaultsync"
)

func (a *App) reportOutcome(outcome vaultsync.Outcome) {
	switch outcome {
	case vaultsync.OutcomeSynced:
		fmt.Fprintf(a.out, "Vault in sync at revision %d.\n", a.engine.Revision())
	case vaultsync.OutcomeOffline:
		fmt.Fprintln(a.out, "Server unreachable; working from the local vault.")
	case vaultsync.OutcomeUpgradeRequired:
		fmt.Fprintln(a.out, "The vault needs a schema upgrade. Run 'upgrade' to apply it.")
	}
}

func (a *App) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local vault with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}
			outcome, err := a.engine.Sync(ctx)
			if err != nil {
				return err
			}
			a.reportOutcome(outcome)
			return nil
		},
	}
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached account and vault state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			username, _, err := a.store.Account(ctx)
			if errors.Is(err, localstore.ErrNotCached) {
				fmt.Fprintln(a.out, "No account on this device.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Account:   %s\n", username)

			_, revision, schemaVersion, err := a.store.VaultCache(ctx)
			if errors.Is(err, localstore.ErrNotCached) {
				fmt.Fprintln(a.out, "Vault:     not cached")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Revision:  %d\n", revision)
			fmt.Fprintf(a.out, "Schema:    %d\n", schemaVersion)

			unsynced, err := a.store.Unsynced(ctx)
			if err != nil {
				return err
			}
			if unsynced {
				fmt.Fprintln(a.out, "Pending:   local changes not yet pushed")
			}
			return nil
		},
	}
}

func (a *App) upgradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Apply a pending vault schema upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}

			outcome, err := a.engine.Sync(ctx)
			if err != nil {
				return err
			}
			if outcome != vaultsync.OutcomeUpgradeRequired {
				a.reportOutcome(outcome)
				return nil
			}

			ok, err := a.confirm("Upgrading changes the vault for every device. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Upgrade cancelled.")
				return nil
			}

			if err := a.engine.ProceedUpgrade(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Vault upgraded; now at revision %d.\n", a.engine.Revision())
			return nil
		},
	}
}
