package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go-ascendara-launcher/internal/api"
	"go-ascendara-launcher/internal/downloader"
	"go-ascendara-launcher/internal/helpers"
	"go-ascendara-launcher/internal/imagecache"
	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"

	log "github.com/sirupsen/logrus"
)

// Custom Orchestrator Errors
var (
	ErrInvalidGameName    = errors.New("game name is not filesystem-safe")
	ErrDownloadInProgress = errors.New("a download is already in flight for this game")
	ErrNoExecutable       = errors.New("game has no executable configured")
)

// CoverFilePrefix is the base name of the persisted cover art; the extension
// comes from the image response's content-type.
const CoverFilePrefix = "header.ascendara"

// StartRequest carries everything needed to begin a download.
type StartRequest struct {
	Link         string
	Game         string
	Online       bool
	DLC          bool
	IsVR         bool
	Version      string
	CoverImageID string
	// Human size label forwarded to the helper, e.g. "1.2 GB".
	Size string
}

// Orchestrator is the entry point for starting, stopping and retrying
// downloads, and for launching installed games. It coordinates the registry
// store, the process supervisor, the remote API and the direct downloader;
// it owns none of their state.
type Orchestrator struct {
	cfg    models.Config
	store  *registry.Store
	sup    *supervisor.Supervisor
	client *api.Client
	dl     *downloader.Downloader
	images *imagecache.Cache // may be nil; cover caching is best-effort anyway

	// Serializes "start download" per game so two concurrent starts cannot
	// race on directory creation or the initial sidecar write.
	startLocks sync.Map // game name -> *sync.Mutex
}

// New wires an Orchestrator. images may be nil to disable local image caching.
func New(cfg models.Config, store *registry.Store, sup *supervisor.Supervisor, client *api.Client, dl *downloader.Downloader, images *imagecache.Cache) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		sup:    sup,
		client: client,
		dl:     dl,
		images: images,
	}
}

func (o *Orchestrator) startLock(game string) *sync.Mutex {
	mu, _ := o.startLocks.LoadOrStore(game, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// StartDownload validates the request, prepares the game directory and
// initial sidecar, fetches cover art (best effort), and hands off to the
// selected provider. The configuration gate runs first: with no download
// directory set, nothing touches the filesystem.
func (o *Orchestrator) StartDownload(req StartRequest) error {
	if !helpers.IsSafeGameName(req.Game) {
		return fmt.Errorf("%w: %q", ErrInvalidGameName, req.Game)
	}

	downloadDir, err := o.store.DownloadDir()
	if err != nil {
		return err
	}

	dispatched := Dispatch(&o.cfg, req.Link)
	if err := ValidateLink(dispatched); err != nil {
		return err
	}

	mu := o.startLock(req.Game)
	if !mu.TryLock() {
		return fmt.Errorf("%w: %s", ErrDownloadInProgress, req.Game)
	}
	defer mu.Unlock()

	if o.sup.IsDownloading(req.Game) {
		return fmt.Errorf("%w: %s", ErrDownloadInProgress, req.Game)
	}

	gameDir := filepath.Join(downloadDir, req.Game)
	if err := os.MkdirAll(gameDir, 0700); err != nil {
		return fmt.Errorf("creating game directory %s: %w", gameDir, err)
	}

	// Write the starting state synchronously before anything is spawned, so
	// the library view never shows a directory with no status at all, even
	// if the helper dies before its first write.
	initial := models.GameRecord{
		Game:    req.Game,
		Online:  req.Online,
		DLC:     req.DLC,
		Version: req.Version,
		DownloadingData: &models.DownloadingData{
			Downloading:       true,
			ProgressCompleted: "0.00",
		},
	}
	if err := o.store.WriteGameRecord(req.Game, initial); err != nil {
		return err
	}

	// Cover art is best-effort and the API client retries with multi-second
	// backoff; never let it delay the helper spawn.
	go o.fetchCover(req.Game, gameDir, req.CoverImageID)

	switch dispatched.Provider {
	case ProviderDirect:
		go o.runDirectDownload(req.Game, gameDir, dispatched.Link)
	default:
		args := HelperArgs(dispatched, req, downloadDir)
		if _, err := o.sup.StartDownload(req.Game, dispatched.HelperPath, args, o.onHelperExit); err != nil {
			// Spawn failure is synchronous and user-visible; record it so
			// the library shows the errored state rather than a stuck 0%.
			mergeErr := o.store.MergeDownloadingData(req.Game, map[string]interface{}{
				"downloading": false,
				"error":       true,
				"message":     fmt.Sprintf("failed to start download helper: %v", err),
			})
			if mergeErr != nil {
				log.WithError(mergeErr).Warnf("Could not record spawn failure for %s", req.Game)
			}
			return err
		}
	}

	// Fire-and-forget counter; its fate never affects the download.
	go func() {
		if err := o.client.ReportDownload(req.Game); err != nil {
			log.WithError(err).Debugf("Download counter increment failed for %s", req.Game)
		}
	}()

	log.WithFields(log.Fields{"game": req.Game, "provider": dispatched.Provider}).Info("Download started")
	return nil
}

// fetchCover retrieves and persists cover art. Failures are logged and
// swallowed: cover art must never block a download.
func (o *Orchestrator) fetchCover(game, gameDir, imgID string) {
	if imgID == "" {
		return
	}
	data, contentType, err := o.client.GetImage(imgID)
	if err != nil {
		log.WithError(err).Warnf("Cover art fetch failed for %s (continuing without cover)", game)
		return
	}
	ext := api.ExtForContentType(contentType)
	coverPath := filepath.Join(gameDir, CoverFilePrefix+ext)
	if err := os.WriteFile(coverPath, data, 0600); err != nil {
		log.WithError(err).Warnf("Could not persist cover art for %s", game)
		return
	}
	if o.images != nil {
		if err := o.images.Put(imgID, imagecache.Entry{ContentType: contentType, Data: data}); err != nil {
			log.WithError(err).Debugf("Could not cache cover art %s", imgID)
		}
	}
}

// onHelperExit translates a helper's runtime failure into the sidecar error
// state. A clean exit is ignored here: the success signal the UI trusts is
// the sidecar state the helper wrote, not the exit code.
func (o *Orchestrator) onHelperExit(game string, err error) {
	if err == nil {
		return
	}
	// A record that is already gone means the download was stopped and its
	// directory discarded; recording the kill as a failure would resurrect
	// it. The no-create merge makes that check atomic with the write.
	mergeErr := o.store.MergeExistingDownloadingData(game, map[string]interface{}{
		"downloading": false,
		"extracting":  false,
		"updating":    false,
		"error":       true,
		"message":     fmt.Sprintf("download helper ended badly: %v", err),
	})
	switch {
	case errors.Is(mergeErr, registry.ErrGameNotFound):
		log.WithField("game", game).Debug("Helper exit after stop, nothing to record")
	case mergeErr != nil && !errors.Is(mergeErr, registry.ErrNotConfigured):
		log.WithError(mergeErr).Warnf("Could not record helper failure for %s", game)
	}
}

// runDirectDownload performs an in-process download for direct-host links,
// writing the same sidecar progress shape the external helpers do.
func (o *Orchestrator) runDirectDownload(game, gameDir, link string) {
	// All writes here use the no-create merge: once a stop has discarded the
	// record, late progress or failure reports must not rebuild it.
	onProgress := func(p downloader.Progress) {
		err := o.store.MergeExistingDownloadingData(game, map[string]interface{}{
			"downloading":            true,
			"progressCompleted":      p.PercentCompleted,
			"progressDownloadSpeeds": p.Speed,
			"timeUntilComplete":      p.ETA,
		})
		if err != nil {
			log.WithError(err).Debugf("Progress write failed for %s", game)
		}
	}

	if _, err := o.dl.DownloadFile(gameDir, link, models.Hashes{}, onProgress); err != nil {
		log.WithError(err).Errorf("Direct download failed for %s", game)
		mergeErr := o.store.MergeExistingDownloadingData(game, map[string]interface{}{
			"downloading": false,
			"error":       true,
			"message":     err.Error(),
		})
		if mergeErr != nil && !errors.Is(mergeErr, registry.ErrGameNotFound) {
			log.WithError(mergeErr).Warnf("Could not record direct download failure for %s", game)
		}
		return
	}

	if err := o.store.ClearDownloadingData(game); err != nil {
		log.WithError(err).Warnf("Could not finalize record for %s", game)
	}
	log.WithField("game", game).Info("Direct download complete")
}

// StopDownload kills the helper (by process image name) and then
// unconditionally deletes the game's directory: stopping always discards,
// there is no partial resume.
func (o *Orchestrator) StopDownload(game string) error {
	err := o.sup.StopDownload(game)
	if err != nil && !errors.Is(err, supervisor.ErrNotTracked) {
		return err
	}
	if errors.Is(err, supervisor.ErrNotTracked) {
		// Helper may have been spawned by an earlier launcher run; the only
		// handle we have on it is the configured image name.
		o.killConfiguredHelpers(game)
	}
	return o.store.DeleteGameDirectory(game)
}

func (o *Orchestrator) killConfiguredHelpers(game string) {
	for _, path := range []string{o.cfg.DownloadHelperPath, o.cfg.GoFileHelperPath} {
		if path == "" {
			continue
		}
		if err := supervisor.KillImage(path); err != nil {
			log.WithError(err).WithField("game", game).Debugf("No process matched helper image %s", path)
		}
	}
}

// StopAllDownloads stops every tracked download and removes each game's
// directory. Individual failures are logged but do not halt the sweep.
func (o *Orchestrator) StopAllDownloads() []string {
	stopped := o.sup.StopAllDownloads()
	for _, game := range stopped {
		if err := o.store.DeleteGameDirectory(game); err != nil {
			log.WithError(err).Warnf("Could not remove directory for stopped download %s", game)
		}
	}
	return stopped
}

// CheckRetryExtractable reports whether the game directory holds anything
// beyond the sidecar file. More than one entry means some content was
// extracted and "retry extraction" is preferable to starting over. Purely
// structural: a file count, not a content inspection.
func (o *Orchestrator) CheckRetryExtractable(game string) (bool, error) {
	dir, err := o.store.GameDir(game)
	if err != nil {
		return false, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading game directory %s: %w", dir, err)
	}
	return len(entries) > 1, nil
}

// RetryExtract re-invokes the helper in retryfolder mode against a
// user-selected file or folder (the OS picker runs upstream; this receives
// its result). The item's base name rides along as an explicit argument to
// distinguish this from a fresh download invocation.
func (o *Orchestrator) RetryExtract(game string, online, dlc bool, version, selectedPath string) error {
	if _, err := o.store.DownloadDir(); err != nil {
		return err
	}
	if selectedPath == "" {
		return fmt.Errorf("%w: no file or folder selected", ErrInvalidLink)
	}

	if err := o.store.MergeDownloadingData(game, map[string]interface{}{
		"downloading": false,
		"extracting":  true,
		"error":       false,
		"message":     "",
	}); err != nil {
		return err
	}

	itemName := filepath.Base(selectedPath)
	args := RetryArgs(game, online, dlc, version, selectedPath, itemName)
	_, err := o.sup.StartDownload(game, o.cfg.DownloadHelperPath, args, o.onHelperExit)
	return err
}

// Play launches a game through the game handler helper and mirrors the
// running flag into the registry. The sidecar (or games.json entry for
// custom games) supplies the executable.
func (o *Orchestrator) Play(game string, isCustom bool) error {
	executable, err := o.resolveExecutable(game, isCustom)
	if err != nil {
		return err
	}

	onExit := func(game string, exitErr error) {
		o.mirrorRunning(game, isCustom, false)
		if runErr := o.lastRunError(game, isCustom); runErr != "" {
			log.WithField("game", game).Errorf("Game reported launch failure: %s", runErr)
		}
	}

	if _, err := o.sup.StartPlay(game, o.cfg.GameHandlerPath, executable, isCustom, onExit); err != nil {
		return err
	}
	o.mirrorRunning(game, isCustom, true)
	return nil
}

// StopPlay terminates a running play session.
func (o *Orchestrator) StopPlay(game string) error {
	return o.sup.StopPlay(game)
}

// LaunchError returns the runError text the game handler recorded for the
// last session, empty when there was none.
func (o *Orchestrator) LaunchError(game string) string {
	return o.lastRunError(game, false)
}

func (o *Orchestrator) resolveExecutable(game string, isCustom bool) (string, error) {
	if isCustom {
		games, err := o.store.ListCustomGames()
		if err != nil {
			return "", err
		}
		for _, g := range games {
			if g.Game == game {
				if g.Executable == "" {
					return "", fmt.Errorf("%w: %s", ErrNoExecutable, game)
				}
				return g.Executable, nil
			}
		}
		return "", fmt.Errorf("%w: custom game %s", registry.ErrGameNotFound, game)
	}

	rec, err := o.store.ReadGameRecord(game)
	if err != nil {
		return "", err
	}
	if rec.Executable == "" {
		return "", fmt.Errorf("%w: %s", ErrNoExecutable, game)
	}
	executable := rec.Executable
	if !filepath.IsAbs(executable) {
		dir, err := o.store.GameDir(game)
		if err != nil {
			return "", err
		}
		executable = filepath.Join(dir, executable)
	}
	return executable, nil
}

func (o *Orchestrator) mirrorRunning(game string, isCustom, running bool) {
	var err error
	if isCustom {
		err = o.store.SetCustomGameRunning(game, running)
	} else {
		err = o.store.UpdateGameRecord(game, func(rec *models.GameRecord) {
			rec.IsRunning = running
		})
	}
	if err != nil {
		log.WithError(err).Debugf("Could not mirror running=%t for %s", running, game)
	}
}

func (o *Orchestrator) lastRunError(game string, isCustom bool) string {
	if isCustom {
		return ""
	}
	rec, err := o.store.ReadGameRecord(game)
	if err != nil {
		return ""
	}
	return rec.RunError
}
