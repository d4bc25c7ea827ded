package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittosafe/pkg/access"
	"github.com/marmos91/dittosafe/pkg/engine"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token <safe> <url>...",
	Short: "Encode an access token for a safe",
	Long: `Encodes an access token naming a safe and the storage URLs holding it.
The current identity is recorded as the creator. The token is sealed to
--user (default: the current identity).

Examples:
  dittosafe token docs mem://scratch
  dittosafe token docs s3://bucket/prefix file:///backup --user <id>`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			creator, err := currentIdentity(ctx, e)
			if err != nil {
				return err
			}
			user := tokenUser
			if user == "" {
				user = creator.ID
			}

			token, err := access.Encode(user, args[0], creator.ID, args[1:], nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "identity id the token is sealed to")
}
