package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/engine"
	"github.com/marmos91/dittosafe/pkg/safe"
)

var (
	createWipe        bool
	createDescription string

	listRecursive bool
	listPrefix    string
	listOrderBy   string

	putOverwrite bool
	putZip       bool
	putTags      []string

	getFileID string

	usersReplace bool
)

var safeCmd = &cobra.Command{
	Use:   "safe",
	Short: "Work with safes",
	Long: `Every safe command takes an access token as its first argument
(see 'dittosafe token').`,
}

var safeCreateCmd = &cobra.Command{
	Use:   "create <token>",
	Short: "Create the safe named in a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			creator, err := currentIdentity(ctx, e)
			if err != nil {
				return err
			}
			h, err := e.CreateSafe(ctx, creator, args[0], nil, safe.CreateOptions{
				Wipe:        createWipe,
				Description: createDescription,
			})
			if err != nil {
				return err
			}
			s, err := e.Safe(h)
			if err != nil {
				return err
			}
			done(cmd.OutOrStdout(), "Safe %s created", highlight(s.Name()))
			return e.CloseSafe(ctx, h)
		})
	},
}

var safeListCmd = &cobra.Command{
	Use:   "ls <token> [dir]",
	Short: "List files",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}
		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			dirs, err := s.ListDirs(ctx, dir, safe.ListDirsOptions{})
			if err != nil {
				return err
			}
			for _, d := range dirs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/\n", highlight(d))
			}

			files, err := s.ListFiles(ctx, dir, safe.ListOptions{
				Recursive: listRecursive,
				Prefix:    listPrefix,
				OrderBy:   listOrderBy,
			})
			if err != nil {
				return err
			}
			return printHeaders(cmd.OutOrStdout(), files)
		})
	},
}

var safePutCmd = &cobra.Command{
	Use:   "put <token> <file>... ",
	Short: "Store local files in the safe root, named by their base name",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := make([]safe.FileSource, 0, len(args)-1)
		for _, path := range args[1:] {
			sources = append(sources, safe.FileSource{Name: filepath.Base(path), Source: path})
		}

		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			headers, err := s.PutFiles(ctx, sources, safe.PutOptions{
				Overwrite: putOverwrite,
				Zip:       putZip,
				Tags:      putTags,
			})
			if err != nil {
				return err
			}
			for _, h := range headers {
				done(cmd.OutOrStdout(), "Stored %s", highlight(h.Name))
			}
			return nil
		})
	},
}

var safeGetCmd = &cobra.Command{
	Use:   "get <token> <name> <dest>",
	Short: "Write a file of the safe to a local path",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			if err := s.GetFile(ctx, args[1], args[2], safe.GetOptions{FileID: getFileID}); err != nil {
				return err
			}
			done(cmd.OutOrStdout(), "Wrote %s", highlight(args[2]))
			return nil
		})
	},
}

var safeRemoveCmd = &cobra.Command{
	Use:   "rm <token> <name>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			if err := s.Delete(ctx, args[1]); err != nil {
				return err
			}
			done(cmd.OutOrStdout(), "Deleted %s", highlight(args[1]))
			return nil
		})
	},
}

var safeUsersCmd = &cobra.Command{
	Use:   "users <token> [<id>=<permission>...]",
	Short: "Show users, or change their permissions",
	Long: `Without assignments, prints the users of the safe. With assignments,
grants each listed user a permission (none, read, write or admin).

Examples:
  dittosafe safe users <token>
  dittosafe safe users <token> <bob id>=write <carol id>=none`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changes, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			if len(changes) > 0 {
				if err := s.SetUsers(ctx, changes, safe.SetUsersOptions{Replace: usersReplace}); err != nil {
					return err
				}
				done(cmd.OutOrStdout(), "Updated %d user(s)", len(changes))
			}

			users, err := s.GetUsers(ctx)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(users))
			for id := range users {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%s\n", id, highlight(users[id]))
			}
			return tw.Flush()
		})
	},
}

var safeSyncCmd = &cobra.Command{
	Use:   "sync <token>",
	Short: "Pull changes written by other devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSafe(cmd, args[0], func(ctx context.Context, s *safe.Safe) error {
			n, err := s.Sync(ctx, safe.SyncOptions{})
			if err != nil {
				return err
			}
			done(cmd.OutOrStdout(), "%d change(s) applied", n)
			return nil
		})
	},
}

func init() {
	safeCreateCmd.Flags().BoolVar(&createWipe, "wipe", false, "destroy an existing container first")
	safeCreateCmd.Flags().StringVar(&createDescription, "description", "", "description stored in the manifest")

	safeListCmd.Flags().BoolVarP(&listRecursive, "recursive", "r", false, "include subdirectories")
	safeListCmd.Flags().StringVar(&listPrefix, "prefix", "", "only names starting with prefix")
	safeListCmd.Flags().StringVar(&listOrderBy, "order-by", "", "name, modTime or size")

	safePutCmd.Flags().BoolVar(&putOverwrite, "overwrite", false, "replace existing files")
	safePutCmd.Flags().BoolVar(&putZip, "zip", false, "compress before encrypting")
	safePutCmd.Flags().StringSliceVar(&putTags, "tag", nil, "tag to attach (repeatable)")

	safeGetCmd.Flags().StringVar(&getFileID, "version", "", "file id of a specific version")

	safeUsersCmd.Flags().BoolVar(&usersReplace, "replace", false, "remove users not listed")

	safeCmd.AddCommand(safeCreateCmd)
	safeCmd.AddCommand(safeListCmd)
	safeCmd.AddCommand(safePutCmd)
	safeCmd.AddCommand(safeGetCmd)
	safeCmd.AddCommand(safeRemoveCmd)
	safeCmd.AddCommand(safeUsersCmd)
	safeCmd.AddCommand(safeSyncCmd)
}

// withSafe opens the safe named in token as the current identity and
// closes it after fn.
func withSafe(cmd *cobra.Command, token string, fn func(ctx context.Context, s *safe.Safe) error) error {
	return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		id, err := currentIdentity(ctx, e)
		if err != nil {
			return err
		}
		h, err := e.OpenSafe(ctx, id, token, safe.OpenOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := e.CloseSafe(ctx, h); closeErr != nil {
				logger.Warn("Close safe: %v", closeErr)
			}
		}()

		s, err := e.Safe(h)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

func parseAssignments(args []string) (safe.Users, error) {
	if len(args) == 0 {
		return nil, nil
	}
	users := make(safe.Users, len(args))
	for _, arg := range args {
		id, level, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected <id>=<permission>, got %q", arg)
		}
		p, err := safe.ParsePermission(level)
		if err != nil {
			return nil, err
		}
		users[id] = p
	}
	return users, nil
}
