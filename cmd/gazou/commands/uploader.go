package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gazouio/gazou/internal/config"
	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/store"
)

var uploaderCmd = &cobra.Command{
	Use:   "uploader",
	Short: "Manage uploader identities and permissions",
}

var uploaderAddCmd = &cobra.Command{
	Use:   "add <user-id> <display-name>",
	Short: "Register an uploader and grant upload permission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			return st.AddUploader(ctx, args[0], args[1])
		})
	},
}

var uploaderApproveCmd = &cobra.Command{
	Use:   "approve <user-id>",
	Short: "Grant upload permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			return st.ApproveUploader(ctx, args[0])
		})
	},
}

var uploaderRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Revoke upload permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			return st.RevokeUploader(ctx, args[0])
		})
	},
}

var uploaderRenameCmd = &cobra.Command{
	Use:   "rename <user-id> <display-name>",
	Short: "Change an uploader's display name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			return st.UpdateUploaderName(ctx, args[0], args[1])
		})
	},
}

var uploaderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all uploaders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			names, err := st.ListUploaders(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No uploaders found")
				return nil
			}

			fmt.Printf("%-30s %-40s %-10s\n", "DISPLAY NAME", "USER ID", "UPLOAD")
			for name, id := range names {
				canUpload, err := st.UploaderCanUpload(ctx, id)
				if err != nil {
					return err
				}
				flag := "no"
				if canUpload {
					flag = "yes"
				}
				fmt.Printf("%-30s %-40s %-10s\n", name, id, flag)
			}
			return nil
		})
	},
}

func init() {
	uploaderCmd.AddCommand(uploaderAddCmd)
	uploaderCmd.AddCommand(uploaderApproveCmd)
	uploaderCmd.AddCommand(uploaderRevokeCmd)
	uploaderCmd.AddCommand(uploaderRenameCmd)
	uploaderCmd.AddCommand(uploaderListCmd)
	rootCmd.AddCommand(uploaderCmd)
}

// withStore connects to the metadata backend for one admin operation.
func withStore(fn func(context.Context, *store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	ctx := context.Background()
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	return fn(ctx, store.New(backend))
}
