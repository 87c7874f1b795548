package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"worktally/internal/core"
	"worktally/internal/infra/persistence/xmlfile"
	"worktally/internal/session"
	"worktally/pkg/domain"
)

func (a *app) initCmd() *cobra.Command {
	var name, login, password, writeConfig string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the administrator of an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if writeConfig != "" {
				if err := writeConfigFile(writeConfig, a); err != nil {
					return err
				}
			}
			return a.withSession(cmd.Context(), session.RestoreCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				st, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				if st.Live > 0 {
					return fmt.Errorf("store %s already holds %d objects", s.StoreAddress(), st.Live)
				}
				user, err := s.CreateUser(ctx, domain.Properties{Person: domain.Person{RealName: name}, Enabled: true})
				if err != nil {
					return err
				}
				acct, err := user.CreateAccount(ctx, login, password, domain.AllCapabilities)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s with %s %q in %s\n", user, acct, login, s.StoreAddress())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "admin-name", "Administrator", "real name of the administrator")
	cmd.Flags().StringVar(&login, "admin-login", "admin", "login of the administrator account")
	cmd.Flags().StringVar(&password, "admin-password", "", "password of the administrator account")
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "also write the effective configuration to this file")
	_ = cmd.MarkFlagRequired("admin-password")
	return cmd
}

func writeConfigFile(path string, a *app) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return errors.Join(a.cfg.Write(f), f.Close())
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every graph invariant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), session.ReportCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				if err := s.Validate(ctx); err != nil {
					return err
				}
				st, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d live objects\n", s.StoreAddress(), st.Live)
				return nil
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return a.withSession(cmd.Context(), session.ReportCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				st, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "store:     %s\nid:        %s\nlive:      %d\ndead:      %d\nreclaimed: %d\nnext oid:  %s\nmodified:  %t\ncorrupt:   %t\n",
					s.StoreAddress(), s.StoreID(), st.Live, st.Dead, st.Reclaimed, st.NextOID, st.Modified, st.Corrupt)
				if a.cfg.Metrics.Enabled {
					return a.writeMetrics(out)
				}
				return nil
			})
		},
	}
}

func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the graph as an XML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), session.BackupCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				g, err := s.Export(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return xmlfile.Encode(cmd.OutOrStdout(), g)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				return errors.Join(xmlfile.Encode(f, g), f.Close())
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load an XML document into an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()
			g, err := xmlfile.Decode(f)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			return a.withSession(cmd.Context(), session.RestoreCredentials(), func(ctx context.Context, _ *core.Store, s *session.Session) error {
				if err := s.Restore(ctx, g); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d objects into %s\n", len(g.Records), s.StoreAddress())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "XML document to import")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
