package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <game>",
	Short: "Delete an installed game's directory",
	Long: `Removes the game's directory under the download directory, sidecar file
included. Deleting a game that does not exist is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		if err := store.DeleteGameDirectory(args[0]); err != nil {
			log.WithError(err).Errorf("Failed to delete %s", args[0])
			return err
		}
		log.Infof("Deleted %s", args[0])
		return nil
	},
}
