package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aliasvault/client-go/srp"
)

func (a *App) usernameArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	username, err := a.promptLine("Username: ")
	if err != nil {
		return "", err
	}
	if username == "" {
		return "", errors.New("username is required")
	}
	return username, nil
}

func (a *App) registerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create a new account with an empty vault",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			username, err := a.usernameArg(args)
			if err != nil {
				return err
			}

			password, err := a.promptPassword("Master password: ")
			if err != nil {
				return err
			}
			confirm, err := a.promptPassword("Repeat password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			if err := a.engine.Register(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Account %s created. Run 'login' to start a session.\n", username)
			return nil
		},
	}
}

func (a *App) loginCommand() *cobra.Command {
	var remember bool

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and pull the vault",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			username, err := a.usernameArg(args)
			if err != nil {
				return err
			}
			password, err := a.promptPassword("Master password: ")
			if err != nil {
				return err
			}

			twoFactor, err := a.engine.Login(ctx, username, password, remember)
			if err != nil {
				if errors.Is(err, srp.ErrAuthenticationFailed) {
					return errors.New("invalid username or password")
				}
				return err
			}
			if twoFactor {
				code, err := a.promptLine("Two-factor code: ")
				if err != nil {
					return err
				}
				if err := a.engine.SubmitTwoFactorCode(ctx, code); err != nil {
					if errors.Is(err, srp.ErrAuthenticationFailed) {
						return errors.New("invalid two-factor code")
					}
					return err
				}
			}

			fmt.Fprintf(a.out, "Logged in as %s (vault revision %d).\n",
				a.engine.Username(), a.engine.Revision())
			return nil
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", true, "keep the session for offline unlock")
	return cmd
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and drop the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.engine.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out. Local cache cleared.")
			return nil
		},
	}
}
