package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aliasvault/client-go/internal/cli/config"
)

// Execute loads the configuration and runs the CLI.
func Execute(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a := &App{cfg: cfg, out: os.Stdout, in: bufio.NewReader(os.Stdin)}
	defer a.Close()

	return a.RootCommand().ExecuteContext(ctx)
}

// RootCommand builds the command tree bound to this App.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aliasvault",
		Short:         "Zero-knowledge password and alias vault",
		Long:          "aliasvault keeps an encrypted credential vault in sync with a server\nthat never sees plaintext or the master password.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfg.ServerURL, "server", "s", a.cfg.ServerURL, "base URL of the vault API")
	pf.StringVar(&a.cfg.DataDir, "data-dir", a.cfg.DataDir, "directory for the local vault cache")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log sync activity to stderr")

	root.AddCommand(
		a.registerCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.syncCommand(),
		a.statusCommand(),
		a.upgradeCommand(),
		a.listCommand(),
		a.getCommand(),
		a.addCommand(),
		a.deleteCommand(),
		a.totpCommand(),
	)
	return root
}
