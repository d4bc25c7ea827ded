package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/engine"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/settings"
)

// Settings entry holding the default identity of the CLI.
const (
	cliNode        = "cli"
	cliIdentityKey = "identity"
)

var (
	initForce       bool
	identityPrivate string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.InitConfig(initForce); err != nil {
				return err
			}
		} else if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		done(cmd.OutOrStdout(), "Configuration written to %s", highlight(path))
		return nil
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identities",
}

var identityNewCmd = &cobra.Command{
	Use:   "new <nick>",
	Short: "Create an identity, or import one with --private",
	Long: `Creates an identity and stores it in the local database. The first
identity becomes the default one.

Examples:
  dittosafe identity new alice
  dittosafe identity new alice --private <key material>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			reg, err := e.Identities()
			if err != nil {
				return err
			}

			var id identity.Identity
			if identityPrivate != "" {
				var imported identity.Identity
				if imported, err = identity.FromPrivate(args[0], identityPrivate); err != nil {
					return err
				}
				id, err = reg.Put(ctx, imported)
			} else {
				id, err = reg.Create(ctx, args[0])
			}
			if err != nil {
				return err
			}

			if _, err := defaultIdentityID(ctx, e); errs.IsKind(err, errs.KindNotFound) {
				if err := setDefaultIdentity(ctx, e, id.ID); err != nil {
					return err
				}
			}
			done(cmd.OutOrStdout(), "Identity %s created: %s", highlight(id.Nick), id.ID)
			return nil
		})
	},
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			reg, err := e.Identities()
			if err != nil {
				return err
			}
			all, err := reg.List(ctx)
			if err != nil {
				return err
			}
			current, _ := defaultIdentityID(ctx, e)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, id := range all {
				marker := " "
				if id.ID == current {
					marker = success("*")
				}
				fmt.Fprintf(tw, "%s %s\t%s\t%s\n", marker, highlight(id.Nick), id.ID, muted(since(id.ModTime)))
			}
			return tw.Flush()
		})
	},
}

var identityUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Select the default identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			reg, err := e.Identities()
			if err != nil {
				return err
			}
			id, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := setDefaultIdentity(ctx, e, id.ID); err != nil {
				return err
			}
			done(cmd.OutOrStdout(), "Acting as %s", highlight(id.Nick))
			return nil
		})
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing configuration file")
	identityNewCmd.Flags().StringVar(&identityPrivate, "private", "", "import existing private key material")

	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityListCmd)
	identityCmd.AddCommand(identityUseCmd)
}

func defaultIdentityID(ctx context.Context, e *engine.Engine) (string, error) {
	store, err := e.Settings()
	if err != nil {
		return "", err
	}
	v, err := store.Get(ctx, cliNode, cliIdentityKey)
	if err != nil {
		return "", err
	}
	return v.S, nil
}

func setDefaultIdentity(ctx context.Context, e *engine.Engine, id string) error {
	store, err := e.Settings()
	if err != nil {
		return err
	}
	return store.Set(ctx, cliNode, cliIdentityKey, settings.Value{S: id})
}

// currentIdentity resolves --as, falling back to the default identity.
func currentIdentity(ctx context.Context, e *engine.Engine) (identity.Identity, error) {
	id := asIdentity
	if id == "" {
		var err error
		if id, err = defaultIdentityID(ctx, e); err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				return identity.Identity{}, fmt.Errorf("no identity selected: run 'dittosafe identity new <nick>' first")
			}
			return identity.Identity{}, err
		}
	}

	reg, err := e.Identities()
	if err != nil {
		return identity.Identity{}, err
	}
	return reg.Get(ctx, id)
}
