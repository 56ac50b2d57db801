package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/config"
	"github.com/zulandar/frameforge/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBCreateCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBCreateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the MySQL database",
		Long:  "Creates the configured MySQL database if it does not exist. SQLite databases are created on first connect.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBCreate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	return cmd
}

func runDBCreate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		fmt.Fprintf(out, "SQLite database %s is created on first use\n", cfg.Database.Path)
		return nil
	}
	adminDB, err := db.ConnectAdmin(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate tables and sync the gear catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	n, err := prepare(gormDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	fmt.Fprintf(out, "Synced %d gears\n", n)
	return nil
}
