package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aliasvault/client-go/dbx"
	"github.com/aliasvault/client-go/totp"
	"github.com/aliasvault/client-go/vaultdb"
)

func (a *App) totpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage time-based one-time codes",
	}
	cmd.AddCommand(a.totpShowCommand(), a.totpAddCommand())
	return cmd
}

func (a *App) totpShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print the current code for an authenticator entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}
			vault, err := a.engine.Vault()
			if err != nil {
				return err
			}

			tc, err := vaultdb.FindTotpCode(ctx, vault.DB(), args[0])
			if errors.Is(err, vaultdb.ErrNotFound) {
				return fmt.Errorf("no authenticator entry for %q", args[0])
			}
			if err != nil {
				return err
			}

			code, err := totp.Code(tc.SecretKey, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: %s\n", tc.Name, code)
			return nil
		},
	}
}

func (a *App) totpAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> [secret]",
		Short: "Store an authenticator secret in the vault",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}

			secret := ""
			if len(args) > 1 {
				secret = args[1]
			} else {
				var err error
				secret, err = a.promptLine("Secret (base32): ")
				if err != nil {
					return err
				}
			}

			// Reject secrets that cannot produce a code before storing.
			if _, err := totp.Code(secret, time.Now()); err != nil {
				return fmt.Errorf("invalid secret: %w", err)
			}

			// Codes attach to a credential; create one for the service if
			// the vault has none yet.
			err := a.engine.ExecuteVaultMutation(ctx, func(ctx context.Context, tx dbx.DBTX) error {
				credID := ""
				cred, err := vaultdb.FindCredential(ctx, tx, args[0])
				switch {
				case err == nil:
					credID = cred.ID
				case errors.Is(err, vaultdb.ErrNotFound):
					credID, err = vaultdb.AddCredential(ctx, tx, vaultdb.Credential{Service: args[0]})
					if err != nil {
						return err
					}
				default:
					return err
				}
				_, err = vaultdb.AddTotpCode(ctx, tx, vaultdb.TotpCode{
					Name:         args[0],
					SecretKey:    secret,
					CredentialID: credID,
				})
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Authenticator entry %s saved.\n", args[0])
			return nil
		},
	}
}
