package cmd

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/reconciler"
	"go-ascendara-launcher/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(stopCmd)

	stopCmd.Flags().Bool("all", false, "Stop every in-flight download")
}

var stopCmd = &cobra.Command{
	Use:   "stop [game]",
	Short: "Stop a download and discard the partial install",
	Long: `Kills the download helper for the given game and deletes its directory.
Stopping is always destructive: partial downloads are not resumable.
With --all, every game currently marked as in-flight is stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return errors.New("a game name or --all is required")
	}

	store := newStore()
	sup := supervisor.New()
	orch, cleanup := newOrchestrator(store, sup)
	defer cleanup()

	if !all {
		game := args[0]
		if err := orch.StopDownload(game); err != nil {
			log.WithError(err).Errorf("Failed to stop download for %s", game)
			return err
		}
		log.Infof("Stopped download and removed directory for %s", game)
		return nil
	}

	// Nothing is tracked in a fresh process; sweep the registry for every
	// in-flight record instead.
	recs, err := store.ListInstalledGames()
	if err != nil {
		return err
	}
	inFlight := reconciler.FilterInFlight(recs)
	if len(inFlight) == 0 {
		log.Info("No in-flight downloads found")
		return nil
	}

	var failed int
	for _, rec := range inFlight {
		if err := orch.StopDownload(rec.Game); err != nil {
			log.WithError(err).Errorf("Failed to stop download for %s", rec.Game)
			failed++
			continue
		}
		log.Infof("Stopped download and removed directory for %s", rec.Game)
	}
	if failed > 0 {
		return errors.New("some downloads could not be stopped")
	}
	return nil
}
