package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(retryExtractCmd)
	rootCmd.AddCommand(checkRetryExtractCmd)

	retryExtractCmd.Flags().Bool("online", false, "Mark the install as an online-fix build")
	retryExtractCmd.Flags().Bool("dlc", false, "Mark the install as including DLC")
	retryExtractCmd.Flags().String("game-version", "", "Version string recorded for the install")
	retryExtractCmd.Flags().String("path", "", "Archive or folder to re-extract (defaults to the game directory)")
	retryExtractCmd.Flags().Bool("no-wait", false, "Start the helper and return immediately instead of watching progress")
}

var retryExtractCmd = &cobra.Command{
	Use:   "retry-extract <game>",
	Short: "Re-run extraction for a partially extracted download",
	Long: `Restarts the helper in retry-folder mode for a game whose download
completed but whose extraction failed. The downloaded archives are
re-extracted in place; nothing is re-downloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetryExtract,
}

func runRetryExtract(cmd *cobra.Command, args []string) error {
	game := args[0]
	online, _ := cmd.Flags().GetBool("online")
	dlc, _ := cmd.Flags().GetBool("dlc")
	version, _ := cmd.Flags().GetString("game-version")
	selectedPath, _ := cmd.Flags().GetString("path")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	store := newStore()
	sup := supervisor.New()
	orch, cleanup := newOrchestrator(store, sup)
	defer cleanup()

	if selectedPath == "" {
		dir, err := store.GameDir(game)
		if err != nil {
			return err
		}
		selectedPath = dir
	}

	if err := orch.RetryExtract(game, online, dlc, version, selectedPath); err != nil {
		log.WithError(err).Errorf("Failed to restart extraction for %s", game)
		return err
	}
	log.Infof("Extraction restarted for %s", game)

	if noWait {
		return nil
	}
	return watchDownload(store, sup, game)
}

var checkRetryExtractCmd = &cobra.Command{
	Use:   "check-retry-extract <game>",
	Short: "Report whether a failed download can retry extraction",
	Long: `Checks whether the game directory holds extracted content beyond the
status sidecar file. Exit code 0 means retry-extract is worthwhile,
exit code 1 means the download should be restarted from scratch.`,
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		sup := supervisor.New()
		orch, cleanup := newOrchestrator(store, sup)
		defer cleanup()

		ok, err := orch.CheckRetryExtractable(args[0])
		if err != nil {
			log.WithError(err).Errorf("Failed to inspect game directory for %s", args[0])
			return err
		}
		if !ok {
			fmt.Println("false")
			return fmt.Errorf("nothing to re-extract for %s", args[0])
		}
		fmt.Println("true")
		return nil
	},
}
