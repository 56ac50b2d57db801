package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/models"
)

func newGearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gear",
		Short: "Gear catalog commands",
	}

	cmd.AddCommand(newGearListCmd())
	return cmd
}

func newGearListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in gears",
		Long:  "Lists the gears compiled into this binary. With --config, also shows whether admins have enabled each one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGearList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to Frameforge config file")
	return cmd
}

func runGearList(cmd *cobra.Command, configPath string) error {
	reg, err := registry()
	if err != nil {
		return err
	}
	manifests := reg.Manifests()

	var enabled map[string]bool
	if configPath != "" {
		_, gormDB, err := connectFromConfig(configPath)
		if err != nil {
			return err
		}
		var rows []models.Gear
		if err := gormDB.Find(&rows).Error; err != nil {
			return fmt.Errorf("list gears: %w", err)
		}
		enabled = make(map[string]bool, len(rows))
		for _, r := range rows {
			enabled[r.Key] = r.Enabled
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if enabled == nil {
		fmt.Fprintln(w, "KEY\tNAME\tCATEGORY\tVERSION")
	} else {
		fmt.Fprintln(w, "KEY\tNAME\tCATEGORY\tVERSION\tSTATUS")
	}
	for _, m := range manifests {
		if enabled == nil {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Key, m.Name, m.Category, m.Version)
			continue
		}
		status := "not synced"
		if on, ok := enabled[m.Key]; ok {
			status = "disabled"
			if on {
				status = "enabled"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Key, m.Name, m.Category, m.Version, status)
	}
	return w.Flush()
}
