package cmd

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/models"
)

func init() {
	rootCmd.AddCommand(customCmd)
	customCmd.AddCommand(customAddCmd)
	customCmd.AddCommand(customRemoveCmd)

	customAddCmd.Flags().Bool("online", false, "Mark the game as an online-fix build")
	customAddCmd.Flags().Bool("dlc", false, "Mark the game as including DLC")
	customAddCmd.Flags().String("game-version", "", "Version string recorded for the game")
}

var customCmd = &cobra.Command{
	Use:   "custom",
	Short: "Manage manually added games",
	Long: `Custom games point at an executable the user already has on disk. They
live in the shared games.json list and never go through the download
pipeline.`,
}

var customAddCmd = &cobra.Command{
	Use:   "add <game> <executable>",
	Short: "Add a game by pointing at an existing executable",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		game, executable := args[0], args[1]
		if _, err := os.Stat(executable); err != nil {
			return errors.New("executable not found: " + executable)
		}
		online, _ := cmd.Flags().GetBool("online")
		dlc, _ := cmd.Flags().GetBool("dlc")
		version, _ := cmd.Flags().GetString("game-version")

		store := newStore()
		rec := models.CustomGameRecord{
			Game:       game,
			Online:     online,
			DLC:        dlc,
			Version:    version,
			Executable: executable,
		}
		if err := store.AddCustomGame(rec); err != nil {
			log.WithError(err).Errorf("Failed to add custom game %s", game)
			return err
		}
		log.Infof("Added custom game %s", game)
		return nil
	},
}

var customRemoveCmd = &cobra.Command{
	Use:   "remove <game>",
	Short: "Remove a manually added game from the list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		if err := store.RemoveCustomGame(args[0]); err != nil {
			log.WithError(err).Errorf("Failed to remove custom game %s", args[0])
			return err
		}
		log.Infof("Removed custom game %s", args[0])
		return nil
	},
}
