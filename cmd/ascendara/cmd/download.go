package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/orchestrator"
	"go-ascendara-launcher/internal/reconciler"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringP("game", "g", "", "Name of the game being downloaded (required)")
	downloadCmd.Flags().Bool("online", false, "Mark the install as an online-fix build")
	downloadCmd.Flags().Bool("dlc", false, "Mark the install as including DLC")
	downloadCmd.Flags().Bool("vr", false, "Mark the install as a VR title")
	downloadCmd.Flags().String("game-version", "", "Version string recorded for the install")
	downloadCmd.Flags().String("size", "", "Expected download size, passed through to the helper")
	downloadCmd.Flags().String("cover", "", "Cover image ID to fetch from the API")
	downloadCmd.Flags().Bool("no-wait", false, "Start the helper and return immediately instead of watching progress")

	viper.BindPFlag("download.game", downloadCmd.Flags().Lookup("game"))
	viper.BindPFlag("download.online", downloadCmd.Flags().Lookup("online"))
	viper.BindPFlag("download.dlc", downloadCmd.Flags().Lookup("dlc"))
	viper.BindPFlag("download.vr", downloadCmd.Flags().Lookup("vr"))
	viper.BindPFlag("download.game_version", downloadCmd.Flags().Lookup("game-version"))
	viper.BindPFlag("download.size", downloadCmd.Flags().Lookup("size"))
	viper.BindPFlag("download.cover", downloadCmd.Flags().Lookup("cover"))
	viper.BindPFlag("download.no_wait", downloadCmd.Flags().Lookup("no-wait"))
}

var downloadCmd = &cobra.Command{
	Use:   "download <link>",
	Short: "Start downloading a game from a provider link",
	Long: `Starts a download for the given provider link. Gofile links and configured
direct hosts are handled specially; everything else goes to the generic
download helper unmodified. Progress is written to the game's status
sidecar file and shown here until the download finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	link := args[0]

	// Resolve through viper so the [download] table in the config file can
	// supply anything the flags left unset; flags win when both are given.
	game := viper.GetString("download.game")
	if game == "" {
		return errors.New("--game is required")
	}
	online := viper.GetBool("download.online")
	dlc := viper.GetBool("download.dlc")
	vr := viper.GetBool("download.vr")
	version := viper.GetString("download.game_version")
	size := viper.GetString("download.size")
	cover := viper.GetString("download.cover")
	noWait := viper.GetBool("download.no_wait")

	store := newStore()
	sup := supervisor.New()
	orch, cleanup := newOrchestrator(store, sup)
	defer cleanup()

	req := orchestrator.StartRequest{
		Link:         link,
		Game:         game,
		Online:       online,
		DLC:          dlc,
		IsVR:         vr,
		Version:      version,
		CoverImageID: cover,
		Size:         size,
	}
	if err := orch.StartDownload(req); err != nil {
		log.WithError(err).Errorf("Failed to start download for %s", game)
		return err
	}
	log.Infof("Download started for %s", game)

	if noWait {
		return nil
	}
	return watchDownload(store, sup, game)
}

// watchDownload polls the game's sidecar until the download leaves the
// in-flight set, rendering progress in place.
func watchDownload(store *registry.Store, sup *supervisor.Supervisor, game string) error {
	interval := time.Duration(globalConfig.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	// The helper clears the downloadingData block itself on success; give it
	// a couple of polls after process exit before declaring it stuck.
	helperGonePolls := 0
	for {
		rec, err := store.ReadGameRecord(game)
		if err != nil {
			if errors.Is(err, registry.ErrGameNotFound) {
				// Stop command deleted the directory out from under us.
				fmt.Fprintf(writer, "%s: download cancelled\n", game)
				return nil
			}
			log.WithError(err).Warn("Failed to read download status")
			time.Sleep(interval)
			continue
		}

		state := reconciler.Classify(rec)
		switch state {
		case reconciler.StateInstalled:
			fmt.Fprintf(writer, "%s: installed\n", game)
			return nil
		case reconciler.StateErrored:
			msg := ""
			if rec.DownloadingData != nil {
				msg = rec.DownloadingData.Message
			}
			fmt.Fprintf(writer, "%s: failed: %s\n", game, msg)
			return fmt.Errorf("download failed for %s: %s", game, msg)
		default:
			fmt.Fprintf(writer, "%s: %s %s\n", game, state, formatProgress(rec))
		}

		if !sup.IsDownloading(game) && state == reconciler.StateDownloading {
			helperGonePolls++
			if helperGonePolls > 2 {
				fmt.Fprintf(writer, "%s: helper exited without finishing\n", game)
				return fmt.Errorf("download helper for %s exited without finishing", game)
			}
		} else {
			helperGonePolls = 0
		}

		time.Sleep(interval)
	}
}

func formatProgress(rec models.GameRecord) string {
	d := rec.DownloadingData
	if d == nil {
		return ""
	}
	parts := []string{}
	if d.ProgressCompleted != "" {
		parts = append(parts, d.ProgressCompleted+"%")
	}
	if d.ProgressDownloadSpeeds != "" {
		parts = append(parts, d.ProgressDownloadSpeeds)
	}
	if d.TimeUntilComplete != "" {
		parts = append(parts, "ETA "+d.TimeUntilComplete)
	}
	return strings.Join(parts, " ")
}
