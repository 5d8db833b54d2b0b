package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runningCmd)
}

var runningCmd = &cobra.Command{
	Use:   "running",
	Short: "List games whose records are marked as running",
	Long: `Lists every installed and custom game whose record carries the running
flag. The flag is mirrored into the records by whichever launcher
process owns the play session, so this works across processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()

		recs, err := store.ListInstalledGames()
		if err != nil {
			log.WithError(err).Error("Failed to scan download directory")
			return err
		}
		custom, err := store.ListCustomGames()
		if err != nil {
			log.WithError(err).Error("Failed to read custom games list")
			return err
		}

		found := false
		for _, rec := range recs {
			if rec.IsRunning {
				fmt.Printf("%s\n", rec.Game)
				found = true
			}
		}
		for _, g := range custom {
			if g.IsRunning {
				fmt.Printf("%s\t(custom)\n", g.Game)
				found = true
			}
		}
		if !found {
			log.Info("No running games")
		}
		return nil
	},
}
