package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go-ascendara-launcher/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Registry Errors
var (
	// ErrNotConfigured means the settings file has no downloadDirectory. This
	// is deliberately distinct from I/O errors: "not set up yet" is the single
	// most common failure and every caller short-circuits on it.
	ErrNotConfigured = errors.New("download directory not set")

	ErrGameNotFound = errors.New("game record not found")
)

// SidecarSuffix is appended to the game name to form the sidecar filename.
const SidecarSuffix = ".ascendara.json"

// CustomGamesFilename is the shared list of manually-added games, stored
// directly under the download directory.
const CustomGamesFilename = "games.json"

// Store is durable CRUD over the per-game JSON sidecars, the shared custom
// games list and the user settings file.
//
// Every shared JSON file is a serialized resource: settings and games.json
// each have a single-writer mutex, and sidecar read-modify-write cycles are
// serialized per game name. The external helper processes write sidecars too;
// the locks cannot cover them, but they do prevent this process from racing
// itself (two concurrent starts, UI mutation during a merge).
type Store struct {
	settingsPath string

	settingsMu sync.Mutex
	customMu   sync.Mutex

	gameLocks sync.Map // game name -> *sync.Mutex
}

// New creates a Store reading settings from settingsPath.
func New(settingsPath string) *Store {
	return &Store{settingsPath: settingsPath}
}

func (s *Store) gameLock(game string) *sync.Mutex {
	mu, _ := s.gameLocks.LoadOrStore(game, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// --- Settings ---

// ReadSettings reads and parses the settings file. A missing file or an
// empty downloadDirectory yields ErrNotConfigured; malformed JSON propagates
// the parse error so a corrupt file is not mistaken for an absent one.
func (s *Store) ReadSettings() (models.Settings, error) {
	var settings models.Settings
	b, err := os.ReadFile(s.settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, ErrNotConfigured
		}
		return settings, fmt.Errorf("reading settings file %s: %w", s.settingsPath, err)
	}
	if err := json.Unmarshal(b, &settings); err != nil {
		return settings, fmt.Errorf("parsing settings file %s: %w", s.settingsPath, err)
	}
	if settings.DownloadDirectory == "" {
		return settings, ErrNotConfigured
	}
	return settings, nil
}

// WriteSettings rewrites the settings file wholesale, preserving unknown keys
// already carried on the Settings value. Writes are serialized and atomic
// (temp file + rename).
func (s *Store) WriteSettings(settings models.Settings) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.settingsPath), 0700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	return writeJSONAtomic(s.settingsPath, settings)
}

// DownloadDir returns the configured download directory or ErrNotConfigured.
func (s *Store) DownloadDir() (string, error) {
	settings, err := s.ReadSettings()
	if err != nil {
		return "", err
	}
	return settings.DownloadDirectory, nil
}

// GameDir resolves the directory a game lives (or will live) in.
func (s *Store) GameDir(game string) (string, error) {
	root, err := s.DownloadDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, game), nil
}

// SidecarPath resolves a game's sidecar file path.
func (s *Store) SidecarPath(game string) (string, error) {
	dir, err := s.GameDir(game)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, game+SidecarSuffix), nil
}

// --- Sidecar records ---

// ListInstalledGames enumerates immediate subdirectories of the download
// directory and reads each one's sidecar file. Directories without a readable
// sidecar are skipped with a log line, never a failure: one corrupt game must
// not take down the whole library view.
func (s *Store) ListInstalledGames() ([]models.GameRecord, error) {
	root, err := s.DownloadDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			// Configured but not created yet: an empty library, not an error.
			return []models.GameRecord{}, nil
		}
		return nil, fmt.Errorf("reading download directory %s: %w", root, err)
	}

	records := make([]models.GameRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		rec, err := s.readSidecar(filepath.Join(root, name, name+SidecarSuffix))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.WithError(err).Warnf("Skipping unreadable game record for %s", name)
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadGameRecord reads one game's sidecar file. ErrGameNotFound when the file
// does not exist.
func (s *Store) ReadGameRecord(game string) (models.GameRecord, error) {
	path, err := s.SidecarPath(game)
	if err != nil {
		return models.GameRecord{}, err
	}
	rec, err := s.readSidecar(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.GameRecord{}, fmt.Errorf("%w: %s", ErrGameNotFound, game)
	}
	return rec, err
}

func (s *Store) readSidecar(path string) (models.GameRecord, error) {
	var rec models.GameRecord
	b, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	return rec, nil
}

// WriteGameRecord serializes and overwrites the sidecar file, creating the
// game directory first if needed (the "download just started" case).
func (s *Store) WriteGameRecord(game string, rec models.GameRecord) error {
	path, err := s.SidecarPath(game)
	if err != nil {
		return err
	}

	mu := s.gameLock(game)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating game directory for %s: %w", game, err)
	}
	return writeJSONAtomic(path, rec)
}

// UpdateGameRecord applies fn to the current record (an empty shell when the
// sidecar does not exist yet) and writes the result back, all under the
// per-game lock.
func (s *Store) UpdateGameRecord(game string, fn func(*models.GameRecord)) error {
	path, err := s.SidecarPath(game)
	if err != nil {
		return err
	}

	mu := s.gameLock(game)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.readSidecar(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		rec = models.GameRecord{Game: game}
	}
	fn(&rec)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating game directory for %s: %w", game, err)
	}
	return writeJSONAtomic(path, rec)
}

// MergeDownloadingData shallow-merges partial into the record's
// downloadingData sub-object under the per-game lock. Keys absent from
// partial keep whatever value the file already holds, including fields this
// package has never heard of; that is the cooperation contract with the
// external helper processes, which write this same file. A missing sidecar
// is created as a shell record carrying only the game name.
func (s *Store) MergeDownloadingData(game string, partial map[string]interface{}) error {
	return s.mergeDownloadingData(game, partial, true)
}

// MergeExistingDownloadingData is MergeDownloadingData for callers that must
// never create the sidecar: a missing file yields ErrGameNotFound instead of
// a shell record. The existence check happens under the per-game lock, so a
// concurrent DeleteGameDirectory cannot slip in between check and write.
func (s *Store) MergeExistingDownloadingData(game string, partial map[string]interface{}) error {
	return s.mergeDownloadingData(game, partial, false)
}

func (s *Store) mergeDownloadingData(game string, partial map[string]interface{}, createMissing bool) error {
	path, err := s.SidecarPath(game)
	if err != nil {
		return err
	}

	mu := s.gameLock(game)
	mu.Lock()
	defer mu.Unlock()

	// Merge at the raw-JSON level so nothing is normalized away.
	var doc map[string]json.RawMessage
	b, readErr := os.ReadFile(path)
	if readErr != nil {
		if !errors.Is(readErr, os.ErrNotExist) {
			return fmt.Errorf("reading sidecar for %s: %w", game, readErr)
		}
		if !createMissing {
			return fmt.Errorf("%w: %s", ErrGameNotFound, game)
		}
		doc = map[string]json.RawMessage{}
		nameJSON, _ := json.Marshal(game)
		doc["game"] = nameJSON
	} else if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parsing sidecar for %s: %w", game, err)
	}

	var dd map[string]json.RawMessage
	if raw, ok := doc["downloadingData"]; ok {
		if err := json.Unmarshal(raw, &dd); err != nil {
			log.WithError(err).Warnf("Replacing malformed downloadingData for %s", game)
			dd = nil
		}
	}
	if dd == nil {
		dd = map[string]json.RawMessage{}
	}
	for k, v := range partial {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding downloadingData field %s: %w", k, err)
		}
		dd[k] = enc
	}
	ddJSON, err := json.Marshal(dd)
	if err != nil {
		return err
	}
	doc["downloadingData"] = ddJSON

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating game directory for %s: %w", game, err)
	}
	return writeJSONAtomic(path, doc)
}

// ClearDownloadingData removes the downloadingData sub-object, turning the
// record into a plain installed game.
func (s *Store) ClearDownloadingData(game string) error {
	path, err := s.SidecarPath(game)
	if err != nil {
		return err
	}

	mu := s.gameLock(game)
	mu.Lock()
	defer mu.Unlock()

	var doc map[string]json.RawMessage
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading sidecar for %s: %w", game, err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parsing sidecar for %s: %w", game, err)
	}
	if _, ok := doc["downloadingData"]; !ok {
		return nil
	}
	delete(doc, "downloadingData")
	return writeJSONAtomic(path, doc)
}

// DeleteGameDirectory removes the game's directory recursively. Deleting a
// game that is not on disk is not an error.
func (s *Store) DeleteGameDirectory(game string) error {
	dir, err := s.GameDir(game)
	if err != nil {
		return err
	}

	mu := s.gameLock(game)
	mu.Lock()
	defer mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing game directory %s: %w", dir, err)
	}
	return nil
}

// --- Custom games (games.json) ---

func (s *Store) customGamesPath() (string, error) {
	root, err := s.DownloadDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, CustomGamesFilename), nil
}

// ListCustomGames reads games.json; a missing file is an empty list.
func (s *Store) ListCustomGames() ([]models.CustomGameRecord, error) {
	path, err := s.customGamesPath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.CustomGameRecord{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var file models.CustomGamesFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.Games == nil {
		file.Games = []models.CustomGameRecord{}
	}
	return file.Games, nil
}

// AddCustomGame appends (or replaces by name) an entry in games.json,
// creating the file if absent. Never touches any per-game sidecar.
func (s *Store) AddCustomGame(rec models.CustomGameRecord) error {
	s.customMu.Lock()
	defer s.customMu.Unlock()

	games, err := s.ListCustomGames()
	if err != nil {
		return err
	}
	replaced := false
	for i := range games {
		if games[i].Game == rec.Game {
			games[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		games = append(games, rec)
	}
	return s.writeCustomGames(games)
}

// RemoveCustomGame splices the named entry out of games.json. Removing a name
// that is not present is a no-op.
func (s *Store) RemoveCustomGame(game string) error {
	s.customMu.Lock()
	defer s.customMu.Unlock()

	games, err := s.ListCustomGames()
	if err != nil {
		return err
	}
	kept := games[:0]
	for _, g := range games {
		if g.Game != game {
			kept = append(kept, g)
		}
	}
	return s.writeCustomGames(kept)
}

// SetCustomGameRunning mirrors the supervisor's running flag into games.json,
// best effort.
func (s *Store) SetCustomGameRunning(game string, running bool) error {
	s.customMu.Lock()
	defer s.customMu.Unlock()

	games, err := s.ListCustomGames()
	if err != nil {
		return err
	}
	found := false
	for i := range games {
		if games[i].Game == game {
			games[i].IsRunning = running
			found = true
		}
	}
	if !found {
		return nil
	}
	return s.writeCustomGames(games)
}

func (s *Store) writeCustomGames(games []models.CustomGameRecord) error {
	path, err := s.customGamesPath()
	if err != nil {
		return err
	}
	if games == nil {
		games = []models.CustomGameRecord{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	return writeJSONAtomic(path, models.CustomGamesFile{Games: games})
}

// writeJSONAtomic marshals v and writes it via a temp file + rename so a
// crashed writer never leaves a half-written document behind.
func writeJSONAtomic(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}
	return nil
}
