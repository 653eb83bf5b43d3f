package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/evetools/evedata/pkg/sde"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed SDE snapshot and check for updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		manager, err := sde.NewManager(sde.Config{
			ManifestURL:   cfg.SDE.ManifestURL,
			WorkDir:       cfg.SDE.WorkDir,
			UserAgent:     cfg.ESI.UserAgent,
			KeepSnapshots: cfg.SDE.KeepSnapshots,
		})
		if err != nil {
			return err
		}

		if current := manager.Current(); current != nil {
			fmt.Printf("Installed: %s (%s)\n", current.Version.Token, humanize.Time(current.InstalledAt))
			fmt.Printf("Location:  %s\n", current.Dir)
		} else {
			fmt.Println("Installed: none")
		}

		check, err := manager.CheckForUpdate(cmd.Context())
		if err != nil {
			return fmt.Errorf("check for update: %w", err)
		}

		if check.UpToDate {
			fmt.Println("Up to date.")
		} else {
			fmt.Printf("Update available: %s (published %s)\n",
				check.Available.Token, humanize.Time(check.Available.PublishedAt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
