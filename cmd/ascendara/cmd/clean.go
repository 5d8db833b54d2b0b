package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/registry"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolP("magnets", "m", false, "Also remove *-magnet.txt files")
	cleanCmd.Flags().Bool("orphans", false, "Also remove sidecar files whose game directory holds nothing else")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary files from the download directory",
	Long: `Recursively scans the download directory and removes files left behind by
interrupted downloads: *.tmp always, *.torrent and *-magnet.txt when
requested.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	cleanTorrents, _ := cmd.Flags().GetBool("torrents")
	cleanMagnets, _ := cmd.Flags().GetBool("magnets")
	cleanOrphans, _ := cmd.Flags().GetBool("orphans")

	store := newStore()
	downloadDir, err := store.DownloadDir()
	if err != nil {
		log.WithError(err).Error("Download directory is not configured, nothing to clean")
		return err
	}
	info, err := os.Stat(downloadDir)
	if os.IsNotExist(err) {
		log.Errorf("Download directory does not exist: %s", downloadDir)
		return err
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("download directory is not a directory: " + downloadDir)
	}

	log.Infof("Scanning for leftover files in %s...", downloadDir)

	var tmpRemoved, torrentRemoved, magnetRemoved int64
	var filesFailed int64

	walkErr := filepath.Walk(downloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		lowerName := strings.ToLower(info.Name())
		shouldRemove := false
		fileType := ""

		if strings.HasSuffix(lowerName, ".tmp") {
			shouldRemove = true
			fileType = ".tmp"
		} else if cleanTorrents && strings.HasSuffix(lowerName, ".torrent") {
			shouldRemove = true
			fileType = ".torrent"
		} else if cleanMagnets && strings.HasSuffix(lowerName, "-magnet.txt") {
			shouldRemove = true
			fileType = "-magnet.txt"
		}

		if !shouldRemove {
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warnf("Failed to remove %s file %q: %v", fileType, path, err)
			filesFailed++
			return nil
		}
		log.Debugf("Removed %s file: %s", fileType, path)
		switch fileType {
		case ".tmp":
			tmpRemoved++
		case ".torrent":
			torrentRemoved++
		case "-magnet.txt":
			magnetRemoved++
		}
		return nil
	})
	if walkErr != nil {
		log.WithError(walkErr).Error("Scan failed")
		return walkErr
	}

	orphansRemoved := 0
	if cleanOrphans {
		orphansRemoved, err = removeOrphanSidecars(store, downloadDir)
		if err != nil {
			return err
		}
	}

	log.Infof("Clean complete. Removed: %d .tmp, %d .torrent, %d magnet, %d orphaned game dirs (%d failures)",
		tmpRemoved, torrentRemoved, magnetRemoved, orphansRemoved, filesFailed)
	if filesFailed > 0 {
		return errors.New("some files could not be removed")
	}
	return nil
}

// removeOrphanSidecars deletes game directories that contain only a sidecar
// file, the debris of a download that never got to write any content.
func removeOrphanSidecars(store *registry.Store, downloadDir string) (int, error) {
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		game := entry.Name()
		sidecar := filepath.Join(downloadDir, game, game+registry.SidecarSuffix)
		if _, err := os.Stat(sidecar); err != nil {
			continue
		}
		contents, err := os.ReadDir(filepath.Join(downloadDir, game))
		if err != nil || len(contents) != 1 {
			continue
		}
		if err := store.DeleteGameDirectory(game); err != nil {
			log.WithError(err).Warnf("Failed to remove orphaned game dir for %s", game)
			continue
		}
		log.Infof("Removed orphaned game dir: %s", game)
		removed++
	}
	return removed, nil
}
