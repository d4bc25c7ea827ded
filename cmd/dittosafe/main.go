package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/engine"
)

var (
	configPath string
	logLevel   string
	asIdentity string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dittosafe",
	Short: "DittoSafe - encrypted, shareable file safes on any object store",
	Long: `DittoSafe keeps files in encrypted safes stored on S3, a local directory
or memory. Safes are shared between identities through access tokens.

Usage:
  dittosafe <command> [flags]

Run 'dittosafe help <command>' for more details on a specific command.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if err := logger.Configure(loaded.Logging.Format, loaded.Logging.Output); err != nil {
			return err
		}
		logger.SetLevel(loaded.Logging.Level)

		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: "+config.GetDefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&asIdentity, "as", "", "identity id to act as (default: the identity selected with 'identity use')")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(safeCmd)
	rootCmd.AddCommand(serveCmd)
}

// withEngine starts an engine on the loaded configuration, runs fn and
// stops the engine again.
func withEngine(ctx context.Context, fn func(ctx context.Context, e *engine.Engine) error) (err error) {
	e := engine.New(cfg)
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := e.Stop(context.Background()); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(ctx, e)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failure("✗"), err)
		stop()
		os.Exit(1)
	}
}
