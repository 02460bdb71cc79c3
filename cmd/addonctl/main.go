// Command addonctl runs the add-on's install and uninstall steps and manages
// the sites served by the add-on.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/cmoptin/internal/app"
	"github.com/cmoptin/internal/auth"
	"github.com/cmoptin/internal/config"
	"github.com/cmoptin/internal/crypto"
	"github.com/cmoptin/internal/db"
	"github.com/cmoptin/internal/lifecycle"
	"github.com/cmoptin/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// storage is the set of stores every data command needs.
type storage struct {
	conn     *sqlx.DB
	sites    *store.SiteStore
	settings *store.SettingsStore
	licenses *store.LicenseStore
}

func openStorage(ctx context.Context) (*storage, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	crypter, err := crypto.NewFromSecret(cfg.SettingsEncryptionKey)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings crypter: %w", err)
	}
	return &storage{
		conn:     conn,
		sites:    store.NewSiteStore(conn),
		settings: store.NewSettingsStore(conn, crypter),
		licenses: store.NewLicenseStore(conn),
	}, nil
}

func (s *storage) manager() *lifecycle.Manager {
	return lifecycle.NewManager(s.sites, s.settings, s.licenses, slog.Default())
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "addonctl",
		Short:        "Manage the Campaign Monitor opt-in add-on",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newInstallCmd(),
		newUninstallCmd(),
		newSitesCmd(),
		newMigrateCmd(),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newInstallCmd() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Seed default settings for sites that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer s.conn.Close()

			n, err := s.manager().Install(cmd.Context(), siteID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d site(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "only seed this site")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the add-on's settings and license status from every site",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer s.conn.Close()

			n, err := s.manager().Uninstall(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed records from %d site(s)\n", n)
			return nil
		},
	}
}

func newSitesCmd() *cobra.Command {
	sitesCmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage sites",
	}

	addCmd := &cobra.Command{
		Use:   "add <home-url>",
		Short: "Register a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer s.conn.Close()

			site, err := s.sites.Create(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("create site: %w", err)
			}
			if _, err := s.settings.Seed(cmd.Context(), site.ID); err != nil {
				return fmt.Errorf("seed site: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", site.ID, site.HomeURL)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer s.conn.Close()

			sites, err := s.sites.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sites: %w", err)
			}
			for _, site := range sites {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", site.ID, site.HomeURL)
			}
			return nil
		},
	}

	sitesCmd.AddCommand(addCmd, listCmd)
	return sitesCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			s.conn.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = line
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := auth.Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the add-on version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
