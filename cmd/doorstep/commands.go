package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/config"
	"github.com/dukerupert/doorstep/internal/export"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/server"
	"github.com/dukerupert/doorstep/internal/store"
)

const passphraseEnv = "DOORSTEP_PASSPHRASE"

func newSweepCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Complete idle sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog, err := gaming.LoadCatalog(a.cfg.AchievementsFile)
			if err != nil {
				return err
			}
			srv, err := server.New(cmdContext(cmd), a.db, server.Config{Catalog: catalog}, a.logger)
			if err != nil {
				return err
			}
			n, err := srv.Service().SweepInactive(cmdContext(cmd))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "completed %d inactive sessions\n", n)
			return err
		},
	}
}

func newUsersCmd(configFile *string) *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage canvassers"}

	users.AddCommand(&cobra.Command{
		Use:   "create <nickname>",
		Short: "Create a user and print an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nickname := strings.TrimSpace(args[0])
			if nickname == "" {
				return fmt.Errorf("nickname is required")
			}
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmdContext(cmd)
			now := clock.System{}.Now()
			u, err := store.NewUserStore(a.db).Create(ctx, nickname, now)
			if err != nil {
				return err
			}
			tok, err := store.NewTokenStore(a.db).Create(ctx, u.ID, now, a.cfg.TokenTTL)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %s (%s)\ntoken %s\nexpires %s\n",
				u.Nickname, u.ID, tok.Token, tok.ExpiresAt.Format("2006-01-02"))
			return nil
		},
	})

	users.AddCommand(&cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue another API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmdContext(cmd)
			u, err := store.NewUserStore(a.db).GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("user %s not found", args[0])
			}
			tok, err := store.NewTokenStore(a.db).Create(ctx, u.ID, clock.System{}.Now(), a.cfg.TokenTTL)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	})

	users.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users with their level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := store.NewUserStore(a.db).List(cmdContext(cmd))
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no users")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNICKNAME\tLEVEL\tXP\tDOORS")
			for _, u := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", u.ID, u.Nickname, u.Level, u.XP, u.TotalDoors)
			}
			return tw.Flush()
		},
	})
	return users
}

func newAchievementsCmd(configFile *string) *cobra.Command {
	achievements := &cobra.Command{Use: "achievements", Short: "Inspect the achievement catalog"}

	var file string
	list := &cobra.Command{
		Use:   "list",
		Short: "Validate and print the achievement catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := config.Load(*configFile, cmd.Flags())
				if err != nil {
					return err
				}
				file = cfg.AchievementsFile
			}
			catalog, err := gaming.LoadCatalog(file)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tCONDITION\tTHRESHOLD\tXP")
			for _, d := range catalog {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					d.ID, d.Name, d.Category, d.Condition.Kind, d.Condition.Threshold, d.XPReward)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&file, "file", "", "catalog YAML file (default: configured or built-in)")
	achievements.AddCommand(list)
	return achievements
}

func newExportCmd(configFile *string) *cobra.Command {
	var userID, cityID, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a city to an encrypted archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("%s must be set", passphraseEnv)
			}
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := export.NewService(store.NewCityStore(a.db), store.NewAddressStore(a.db), store.NewStatusStore(a.db), clock.System{}, a.logger)
			archive, err := svc.Export(cmdContext(cmd), userID, cityID)
			if err != nil {
				return err
			}

			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			if err := export.Write(f, archive, passphrase); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close archive: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s: %d addresses to %s\n", archive.City.Name, len(archive.Addresses), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&cityID, "city", "", "city id")
	cmd.Flags().StringVarP(&out, "out", "o", "city.doorstep", "archive path")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("city")
	return cmd
}

func newImportCmd(configFile *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Restore an encrypted city archive under a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("%s must be set", passphraseEnv)
			}
			a, err := loadApp(cmd, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer f.Close()

			archive, err := export.Read(f, passphrase)
			if err != nil {
				return err
			}
			svc := export.NewService(store.NewCityStore(a.db), store.NewAddressStore(a.db), store.NewStatusStore(a.db), clock.System{}, a.logger)
			result, err := svc.Import(cmdContext(cmd), userID, archive)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported into city %s: %d addresses added, %d skipped, %d statuses added\n",
				result.CityID, result.AddressesAdded, result.AddressesSkipped, result.StatusesAdded)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "target user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
