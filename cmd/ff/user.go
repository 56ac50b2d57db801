package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/models"
	"gorm.io/gorm"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Panel account commands",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		configPath string
		username   string
		role       string
		botLimit   int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a panel account",
		Long:  "Creates a user or admin account. The password is prompted for, or read from stdin when it is not a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, configPath, username, role, botLimit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username (required)")
	cmd.Flags().StringVar(&role, "role", models.RoleUser, "account role: user or admin")
	cmd.Flags().IntVar(&botLimit, "bot-limit", 0, "maximum automatons for a user account (0 = unlimited)")
	cmd.MarkFlagRequired("username")
	return cmd
}

func runUserCreate(cmd *cobra.Command, configPath, username, role string, botLimit int) error {
	out := cmd.OutOrStdout()
	if role != models.RoleUser && role != models.RoleAdmin {
		return fmt.Errorf("role must be %q or %q", models.RoleUser, models.RoleAdmin)
	}
	if botLimit < 0 {
		return fmt.Errorf("bot-limit must not be negative")
	}
	username = strings.TrimSpace(username)

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	password, err := readSecret(cmd, "Password: ")
	if err != nil {
		return err
	}
	if err := auth.ValidateCredentials(username, password); err != nil {
		return err
	}

	var existing models.User
	err = gormDB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return fmt.Errorf("user %q already exists", username)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := &models.User{Username: username, PasswordHash: hash, Role: role, BotLimit: botLimit}
	if err := gormDB.WithContext(context.Background()).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(out, "Created %s %s (%s)\n", role, u.Username, u.ID)
	return nil
}

func newUserListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List panel accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Frameforge config file")
	return cmd
}

func runUserList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	var users []models.User
	if err := gormDB.Order("role ASC, username ASC").Find(&users).Error; err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "No users found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tBOT LIMIT")
	for _, u := range users {
		limit := "unlimited"
		if u.BotLimit > 0 {
			limit = fmt.Sprintf("%d", u.BotLimit)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, limit)
	}
	return w.Flush()
}
