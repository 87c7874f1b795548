package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"worktally/internal/archive"
	"worktally/internal/blob"
	"worktally/internal/core"
	"worktally/internal/session"
)

func (a *app) archive(ctx context.Context) (*archive.Archive, error) {
	blobs, err := blob.Open(ctx, a.cfg.BlobStore())
	if err != nil {
		return nil, err
	}
	return archive.New(blobs, archive.WithLogger(a.logger)), nil
}

func (a *app) backupCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ar, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), session.BackupCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				b, err := ar.Backup(ctx, s)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), b.Key)
				if keep > 0 {
					n, err := ar.Prune(ctx, s.StoreID(), keep)
					if err != nil {
						return err
					}
					if n > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "pruned %d older backups\n", n)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "prune to this many backups afterwards (0 keeps all)")
	return cmd
}

func (a *app) backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List the backups of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ar, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			id := store.ID()
			if err := store.Close(cmd.Context()); err != nil {
				return err
			}
			list, err := ar.List(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tSIZE\tKEY")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Created.Format("2006-01-02 15:04:05"), b.Size, b.Key)
			}
			return tw.Flush()
		},
	}
}

func (a *app) restoreCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup into an empty store",
		Long:  "Restore a backup into an empty store. Without --key the newest backup of the store is used.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ar, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), session.RestoreCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				k := key
				if k == "" {
					latest, err := ar.Latest(ctx, s.StoreID())
					if err != nil {
						return err
					}
					k = latest.Key
				}
				if err := ar.Restore(ctx, s, k); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s into %s\n", k, s.StoreAddress())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "backup key to restore")
	return cmd
}
