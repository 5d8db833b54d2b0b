package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/reconciler"
)

// Struct to hold job parameters for torrent workers
type torrentJob struct {
	Game           string
	SourcePath     string
	Trackers       []string
	OutputDir      string
	Overwrite      bool
	GenerateMagnet bool
}

func torrentWorker(id int, jobs <-chan torrentJob, wg *sync.WaitGroup, successCounter *atomic.Int64, failureCounter *atomic.Int64) {
	defer wg.Done()
	log.Debugf("Torrent Worker %d starting", id)
	for job := range jobs {
		logFields := log.Fields{"game": job.Game, "directory": job.SourcePath}
		err := generateTorrentFile(job.SourcePath, job.Trackers, job.OutputDir, job.Overwrite, job.GenerateMagnet)
		if err != nil {
			log.WithFields(logFields).WithError(err).Errorf("Worker %d: Failed to generate torrent", id)
			failureCounter.Add(1)
		} else {
			log.WithFields(logFields).Infof("Worker %d: Generated torrent", id)
			successCounter.Add(1)
		}
	}
	log.Debugf("Torrent Worker %d finished", id)
}

var (
	announceURLs        []string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
	torrentConcurrency  int
)

func init() {
	rootCmd.AddCommand(exportTorrentCmd)

	exportTorrentCmd.Flags().StringSliceVarP(&announceURLs, "announce", "a", []string{}, "Tracker announce URL (repeatable, required)")
	exportTorrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory for .torrent files (default: inside each game directory)")
	exportTorrentCmd.Flags().BoolVar(&overwriteTorrents, "overwrite", false, "Overwrite existing .torrent files")
	exportTorrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet", false, "Also write a *-magnet.txt file per game")
	exportTorrentCmd.Flags().IntVarP(&torrentConcurrency, "concurrency", "c", 4, "Number of concurrent torrent generators")
}

var exportTorrentCmd = &cobra.Command{
	Use:   "export-torrent [game...]",
	Short: "Generate .torrent files for installed games",
	Long: `Generates BitTorrent metainfo (.torrent) files for installed game
directories, for sharing a library between machines. Games still
in-flight are skipped. You must specify tracker announce URLs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(announceURLs) == 0 {
			return errors.New("at least one --announce URL is required")
		}
		concurrency := torrentConcurrency
		if concurrency <= 0 {
			log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
			concurrency = 4
		}

		store := newStore()
		recs, err := store.ListInstalledGames()
		if err != nil {
			log.WithError(err).Error("Failed to scan download directory")
			return err
		}

		wanted := make(map[string]struct{}, len(args))
		for _, name := range args {
			wanted[name] = struct{}{}
		}

		jobs := make(chan torrentJob, concurrency)
		var wg sync.WaitGroup
		var successCounter atomic.Int64
		var failureCounter atomic.Int64

		for i := 1; i <= concurrency; i++ {
			wg.Add(1)
			go torrentWorker(i, jobs, &wg, &successCounter, &failureCounter)
		}

		queued := 0
		skipped := 0
		for _, rec := range recs {
			if len(wanted) > 0 {
				if _, ok := wanted[rec.Game]; !ok {
					continue
				}
			}
			if rec.InFlight() {
				log.Warnf("Skipping %s: still %s", rec.Game, reconciler.Classify(rec))
				skipped++
				continue
			}
			dir, err := store.GameDir(rec.Game)
			if err != nil {
				log.WithError(err).Warnf("Skipping %s", rec.Game)
				skipped++
				continue
			}
			jobs <- torrentJob{
				Game:           rec.Game,
				SourcePath:     dir,
				Trackers:       announceURLs,
				OutputDir:      torrentOutputDir,
				Overwrite:      overwriteTorrents,
				GenerateMagnet: generateMagnetLinks,
			}
			queued++
		}
		close(jobs)

		if queued == 0 {
			log.Warnf("No eligible games to export (%d skipped)", skipped)
			wg.Wait()
			return nil
		}
		log.Infof("Queued %d game(s) for torrent generation (%d skipped). Waiting for workers...", queued, skipped)
		wg.Wait()

		successCount := successCounter.Load()
		failCount := failureCounter.Load()
		log.Infof("Torrent generation complete. Success: %d, Failed: %d", successCount, failCount)
		if failCount > 0 {
			return fmt.Errorf("%d torrents failed to generate", failCount)
		}
		return nil
	},
}

// generateTorrentFile creates a .torrent file for the given sourcePath (file or directory).
// It can optionally also create a text file containing the magnet link.
func generateTorrentFile(sourcePath string, trackers []string, outputDir string, overwrite bool, generateMagnetLinks bool) error {
	stat, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("source path does not exist: %s", sourcePath)
	} else if err != nil {
		return fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	} else if !stat.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourcePath)
	}

	torrentFileName := fmt.Sprintf("%s.torrent", filepath.Base(sourcePath))
	var outPath string
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", outputDir, err)
		}
		outPath = filepath.Join(outputDir, torrentFileName)
	} else {
		// Place the torrent file *inside* the game directory
		outPath = filepath.Join(sourcePath, torrentFileName)
	}

	if !overwrite {
		if _, err := os.Stat(outPath); err == nil {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return nil
		} else if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", outPath).Warn("Could not check status of potential existing torrent file, attempting to overwrite")
		}
	} else {
		if _, err := os.Stat(outPath); err == nil {
			log.WithField("path", outPath).Warn("Overwriting existing torrent file")
		}
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(trackers)),
	}
	for i, tracker := range trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(trackers) > 0 {
		mi.Announce = trackers[0]
	}

	mi.CreatedBy = "go-ascendara-launcher"

	const pieceLength = 512 * 1024
	info := metainfo.Info{PieceLength: pieceLength}

	log.WithField("directory", sourcePath).Debug("Building torrent info...")
	err = info.BuildFromFilePath(sourcePath)
	if err != nil {
		return fmt.Errorf("error building torrent info from path %s: %w", sourcePath, err)
	}
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()

	if err := mi.Write(f); err != nil {
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithField("path", outPath).Info("Successfully generated torrent file")

	if generateMagnetLinks {
		infoHash := mi.HashInfoBytes()
		magnetParts := []string{
			fmt.Sprintf("magnet:?xt=urn:btih:%s", infoHash.HexString()),
			fmt.Sprintf("dn=%s", url.QueryEscape(stat.Name())),
		}
		for _, tracker := range trackers {
			magnetParts = append(magnetParts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
		magnetURI := strings.Join(magnetParts, "&")
		magnetFileName := fmt.Sprintf("%s-magnet.txt", strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath)))
		magnetOutPath := filepath.Join(filepath.Dir(outPath), magnetFileName)

		if err := os.WriteFile(magnetOutPath, []byte(magnetURI+"\n"), 0644); err != nil {
			// Log error but don't fail the whole torrent generation just for the magnet link
			log.WithError(err).WithField("path", magnetOutPath).Error("Failed to write magnet link file")
		} else {
			log.WithField("path", magnetOutPath).Info("Successfully generated magnet link file")
		}
	}

	return nil
}
