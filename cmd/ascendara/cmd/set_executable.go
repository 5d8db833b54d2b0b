package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/models"
)

func init() {
	rootCmd.AddCommand(setExecutableCmd)
}

var setExecutableCmd = &cobra.Command{
	Use:   "set-executable <game> <path>",
	Short: "Record which executable launches an installed game",
	Long: `Stores the executable path in the game's record. A relative path is
resolved against the game's directory at launch time, so records stay
valid when the download directory moves.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		game, path := args[0], args[1]

		store := newStore()
		err := store.UpdateGameRecord(game, func(rec *models.GameRecord) {
			rec.Executable = path
		})
		if err != nil {
			log.WithError(err).Errorf("Failed to update record for %s", game)
			return err
		}
		log.Infof("Executable for %s set to %s", game, path)
		return nil
	},
}
