package cmd

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Bool("custom", false, "Launch a manually added game from games.json")
	playCmd.Flags().Bool("stop", false, "Stop a running play session instead of starting one")
	playCmd.Flags().Bool("no-wait", false, "Return immediately instead of waiting for the session to end")
}

var playCmd = &cobra.Command{
	Use:   "play <game>",
	Short: "Launch an installed game through the game handler",
	Long: `Starts the game handler for the given game's executable and marks the
game as running in its record. The running flag is cleared when the
session ends, however it ends. With --stop, a running session is
terminated instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	game := args[0]
	isCustom, _ := cmd.Flags().GetBool("custom")
	stop, _ := cmd.Flags().GetBool("stop")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	store := newStore()
	sup := supervisor.New()
	orch, cleanup := newOrchestrator(store, sup)
	defer cleanup()

	if stop {
		err := orch.StopPlay(game)
		if errors.Is(err, supervisor.ErrNotTracked) {
			// Session belongs to an earlier launcher run; all we can do is
			// kill the handler image and clear the stale running flag.
			if globalConfig.GameHandlerPath != "" {
				if kerr := supervisor.KillImage(globalConfig.GameHandlerPath); kerr != nil {
					log.WithError(kerr).Debug("No process matched the game handler image")
				}
			}
			err = clearRunningFlag(store, game, isCustom)
		}
		if err != nil {
			log.WithError(err).Errorf("Failed to stop play session for %s", game)
			return err
		}
		log.Infof("Stopped play session for %s", game)
		return nil
	}

	if err := orch.Play(game, isCustom); err != nil {
		log.WithError(err).Errorf("Failed to launch %s", game)
		return err
	}
	log.Infof("Launched %s", game)

	if noWait {
		return nil
	}

	for sup.IsRunning(game) {
		time.Sleep(500 * time.Millisecond)
	}
	if !isCustom {
		if msg := orch.LaunchError(game); msg != "" {
			return errors.New("play session ended with error: " + msg)
		}
	}
	log.Infof("Play session for %s ended", game)
	return nil
}

func clearRunningFlag(store *registry.Store, game string, isCustom bool) error {
	if isCustom {
		return store.SetCustomGameRunning(game, false)
	}
	return store.UpdateGameRecord(game, func(rec *models.GameRecord) {
		rec.IsRunning = false
	})
}
