package cmd

import (
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(openDirCmd)
}

var openDirCmd = &cobra.Command{
	Use:   "open-dir <game>",
	Short: "Open a game's directory in the system file browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		dir, err := store.GameDir(args[0])
		if err != nil {
			return err
		}
		if err := openFileBrowser(dir); err != nil {
			log.WithError(err).Errorf("Failed to open %s", dir)
			return err
		}
		log.Infof("Opened %s", dir)
		return nil
	},
}

func openFileBrowser(dir string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer", dir).Start()
	case "darwin":
		return exec.Command("open", dir).Start()
	default:
		return exec.Command("xdg-open", dir).Start()
	}
}
