package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/aliasvault/client-go/dbx"
	"github.com/aliasvault/client-go/vaultdb"
	"github.com/aliasvault/client-go/vaultsync"
)

func (a *App) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored credentials",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}
			vault, err := a.engine.Vault()
			if err != nil {
				return err
			}
			creds, err := vaultdb.ListCredentials(ctx, vault.DB())
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				fmt.Fprintln(a.out, "The vault is empty.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tUSERNAME\tEMAIL")
			for _, c := range creds {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Service, c.Username, c.Email)
			}
			return w.Flush()
		},
	}
}

func (a *App) getCommand() *cobra.Command {
	var copyPassword, showPassword bool

	cmd := &cobra.Command{
		Use:   "get <service>",
		Short: "Show one credential",
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

			cred, err := vaultdb.FindCredential(ctx, vault.DB(), args[0])
			if errors.Is(err, vaultdb.ErrNotFound) {
				return fmt.Errorf("no credential for %q", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Service:  %s\n", cred.Service)
			if cred.ServiceURL != "" {
				fmt.Fprintf(a.out, "URL:      %s\n", cred.ServiceURL)
			}
			fmt.Fprintf(a.out, "Username: %s\n", cred.Username)
			if cred.Email != "" {
				fmt.Fprintf(a.out, "Email:    %s\n", cred.Email)
			}
			if cred.Notes != "" {
				fmt.Fprintf(a.out, "Notes:    %s\n", cred.Notes)
			}

			switch {
			case copyPassword:
				if err := clipboard.WriteAll(cred.Password); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintln(a.out, "Password copied to clipboard.")
			case showPassword:
				fmt.Fprintf(a.out, "Password: %s\n", cred.Password)
			default:
				fmt.Fprintln(a.out, "Password: (hidden, use --show or --copy)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&copyPassword, "copy", "c", false, "copy the password to the clipboard")
	cmd.Flags().BoolVar(&showPassword, "show", false, "print the password")
	return cmd
}

func (a *App) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <service>",
		Short: "Add a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}

			username, err := a.promptLine("Username: ")
			if err != nil {
				return err
			}
			email, err := a.promptLine("Email (optional): ")
			if err != nil {
				return err
			}
			password, err := a.promptPassword("Password: ")
			if err != nil {
				return err
			}

			err = a.engine.ExecuteVaultMutation(ctx, func(ctx context.Context, tx dbx.DBTX) error {
				_, err := vaultdb.AddCredential(ctx, tx, vaultdb.Credential{
					Service:  args[0],
					Username: username,
					Email:    email,
					Password: password,
				})
				return err
			})
			if err != nil {
				return err
			}

			if a.engine.State() == vaultsync.StateOffline {
				fmt.Fprintf(a.out, "Credential for %s saved locally; it syncs when the server is back.\n", args[0])
			} else {
				fmt.Fprintf(a.out, "Credential for %s saved.\n", args[0])
			}
			return nil
		},
	}
}

func (a *App) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <service>",
		Aliases: []string{"rm"},
		Short:   "Delete a credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.unlock(ctx); err != nil {
				return err
			}
			vault, err := a.engine.Vault()
			if err != nil {
				return err
			}

			cred, err := vaultdb.FindCredential(ctx, vault.DB(), args[0])
			if errors.Is(err, vaultdb.ErrNotFound) {
				return fmt.Errorf("no credential for %q", args[0])
			}
			if err != nil {
				return err
			}

			ok, err := a.confirm(fmt.Sprintf("Delete the credential for %s?", cred.Service))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "Nothing deleted.")
				return nil
			}

			err = a.engine.ExecuteVaultMutation(ctx, func(ctx context.Context, tx dbx.DBTX) error {
				return vaultdb.DeleteCredential(ctx, tx, cred.ID)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Credential for %s deleted.\n", cred.Service)
			return nil
		},
	}
}
