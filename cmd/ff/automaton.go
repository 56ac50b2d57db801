package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/models"
	"gorm.io/gorm"
)

func newAutomatonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "automaton",
		Aliases: []string{"bot"},
		Short:   "Automaton commands",
	}

	cmd.AddCommand(newAutomatonListCmd())
	cmd.AddCommand(newAutomatonCreateCmd())
	return cmd
}

func newAutomatonListCmd() *cobra.Command {
	var (
		configPath string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automatons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomatonList(cmd, configPath, owner)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	cmd.Flags().StringVar(&owner, "owner", "", "only show automatons owned by this username")
	return cmd
}

func runAutomatonList(cmd *cobra.Command, configPath, owner string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	q := gormDB.Preload("Owner").Order("created_at ASC")
	if owner != "" {
		u, err := findUsername(gormDB, owner)
		if err != nil {
			return err
		}
		q = q.Where("owner_id = ?", u.ID)
	}
	var rows []models.Automaton
	if err := q.Find(&rows).Error; err != nil {
		return fmt.Errorf("list automatons: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No automatons found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tSTATUS\tDESIRED\tGUILD")
	for _, a := range rows {
		desired := "stopped"
		if a.DesiredRunning {
			desired = "running"
		}
		guild := a.GuildID
		if guild == "" {
			guild = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Owner.Username, a.Status, desired, guild)
	}
	return w.Flush()
}

func newAutomatonCreateCmd() *cobra.Command {
	var (
		configPath string
		owner      string
		name       string
		guildID    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an automaton for a user",
		Long:  "Registers a Discord bot for a user account. The bot token is prompted for, or read from stdin when it is not a terminal, and stored encrypted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomatonCreate(cmd, configPath, owner, name, guildID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	cmd.Flags().StringVar(&owner, "owner", "", "owner username (required)")
	cmd.Flags().StringVar(&name, "name", "", "automaton name (required)")
	cmd.Flags().StringVar(&guildID, "guild", "", "Discord guild ID")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runAutomatonCreate(cmd *cobra.Command, configPath, owner, name, guildID string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, gormDB)
	if err != nil {
		return err
	}
	u, err := findUsername(gormDB, owner)
	if err != nil {
		return err
	}
	if u.Role != models.RoleUser {
		return fmt.Errorf("owner %q is not a user account", owner)
	}
	token, err := readSecret(cmd, "Bot token: ")
	if err != nil {
		return err
	}
	a := &models.Automaton{
		OwnerID: u.ID,
		Name:    strings.TrimSpace(name),
		GuildID: strings.TrimSpace(guildID),
		Status:  models.StatusStopped,
	}
	if err := st.CreateAutomaton(context.Background(), a, token); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created automaton %s (%s) for %s\n", a.Name, a.ID, u.Username)
	return nil
}

func findUsername(gormDB *gorm.DB, username string) (*models.User, error) {
	var u models.User
	err := gormDB.Where("username = ?", strings.TrimSpace(username)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}
