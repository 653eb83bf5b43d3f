package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/evetools/evedata/pkg/sde"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the local SDE snapshot with the published export",
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

		if err := manager.Sync(cmd.Context(), syncForce); err != nil {
			return err
		}

		current := manager.Current()
		fmt.Printf("Snapshot %s installed at %s (%s)\n",
			current.Version.Token, current.Dir, humanize.Time(current.InstalledAt))
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "reinstall even when the version token matches")
	rootCmd.AddCommand(syncCmd)
}
