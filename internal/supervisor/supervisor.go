package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNotTracked is returned when asked to stop a process the supervisor has
// no live handle for.
var ErrNotTracked = errors.New("no tracked process for game")

// ExitFunc is invoked from the waiter goroutine when a tracked process ends.
// err is nil on a clean zero exit.
type ExitFunc func(game string, err error)

// Handle is one tracked OS process. In-memory only; a restart of the launcher
// loses all handles by design, the sidecar files carry the durable state.
type Handle struct {
	Game      string
	Path      string
	Cmd       *exec.Cmd
	StartedAt time.Time
}

// Supervisor owns the mapping from game name to live process handle, split
// into two independent concerns: download/extract helpers and play sessions.
// Constructed once per application lifetime and injected into the
// orchestrator; there is no package-level state.
type Supervisor struct {
	mu        sync.RWMutex
	downloads map[string]*Handle
	play      map[string]*Handle
}

// New creates an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{
		downloads: make(map[string]*Handle),
		play:      make(map[string]*Handle),
	}
}

// StartDownload spawns the helper executable with positional args and tracks
// the handle under the game name, overwriting any prior entry for that key
// (the caller decides a prior download is stale before starting a new one).
// Spawn failures surface synchronously; runtime failures arrive via onExit.
func (s *Supervisor) StartDownload(game, exePath string, args []string, onExit ExitFunc) (*Handle, error) {
	h, err := s.spawn(game, exePath, args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.downloads[game] = h
	s.mu.Unlock()

	go s.wait(h, onExit, func() {
		s.mu.Lock()
		if s.downloads[game] == h {
			delete(s.downloads, game)
		}
		s.mu.Unlock()
	})

	log.WithFields(log.Fields{"game": game, "helper": exePath, "pid": h.Cmd.Process.Pid}).
		Info("Download helper started")
	return h, nil
}

// StartPlay spawns the game handler with the target executable path and the
// custom-game flag, tracking the handle in the play map. The entry is removed
// automatically when the process exits.
func (s *Supervisor) StartPlay(game, handlerPath, executablePath string, isCustom bool, onExit ExitFunc) (*Handle, error) {
	h, err := s.spawn(game, handlerPath, []string{executablePath, strconv.FormatBool(isCustom)})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.play[game] = h
	s.mu.Unlock()

	go s.wait(h, onExit, func() {
		s.mu.Lock()
		if s.play[game] == h {
			delete(s.play, game)
		}
		s.mu.Unlock()
	})

	log.WithFields(log.Fields{"game": game, "pid": h.Cmd.Process.Pid}).Info("Play session started")
	return h, nil
}

func (s *Supervisor) spawn(game, exePath string, args []string) (*Handle, error) {
	cmd := exec.Command(exePath, args...)
	configureSysProcAttr(cmd)

	// stdout/stderr are consumed for logging only; progress travels through
	// the sidecar file, not the pipes.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe for %s: %w", exePath, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr pipe for %s: %w", exePath, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s: %w", exePath, err)
	}

	go logPipe(game, "stdout", stdout)
	go logPipe(game, "stderr", stderr)

	return &Handle{Game: game, Path: exePath, Cmd: cmd, StartedAt: time.Now()}, nil
}

func (s *Supervisor) wait(h *Handle, onExit ExitFunc, cleanup func()) {
	err := h.Cmd.Wait()
	cleanup()
	if err != nil {
		log.WithError(err).WithField("game", h.Game).Warnf("Process %s ended with error", filepath.Base(h.Path))
	} else {
		log.WithField("game", h.Game).Debugf("Process %s ended cleanly", filepath.Base(h.Path))
	}
	if onExit != nil {
		onExit(h.Game, err)
	}
}

func logPipe(game, name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.WithField("game", game).Debugf("helper %s: %s", name, scanner.Text())
	}
}

// StopDownload forcefully terminates the download helper for game. The kill
// targets the helper's process image name rather than just the tracked PID:
// download helpers are asynchronous to the parent and may have spawned their
// own children that a single-PID kill would orphan. The supervisor never
// touches the filesystem; the orchestrator deletes the partial directory.
func (s *Supervisor) StopDownload(game string) error {
	s.mu.Lock()
	h, ok := s.downloads[game]
	if ok {
		delete(s.downloads, game)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, game)
	}

	image := filepath.Base(h.Path)
	if err := killByImageName(image); err != nil {
		// The image-name kill can miss (helper already gone, name mismatch);
		// fall back to the tracked handle before reporting failure.
		log.WithError(err).WithField("game", game).Warnf("Kill by image name %s failed, killing tracked PID", image)
		if kerr := h.Cmd.Process.Kill(); kerr != nil {
			return fmt.Errorf("stopping download for %s: %w", game, kerr)
		}
	}
	log.WithField("game", game).Info("Download helper terminated")
	return nil
}

// KillImage terminates every process whose image name matches the given
// executable path, regardless of whether this supervisor spawned it. Used to
// reach helpers started by an earlier run of the launcher.
func KillImage(exePath string) error {
	return killByImageName(filepath.Base(exePath))
}

// StopAllDownloads terminates every tracked download helper and returns the
// game names that were stopped.
func (s *Supervisor) StopAllDownloads() []string {
	s.mu.RLock()
	games := make([]string, 0, len(s.downloads))
	for game := range s.downloads {
		games = append(games, game)
	}
	s.mu.RUnlock()

	stopped := make([]string, 0, len(games))
	for _, game := range games {
		if err := s.StopDownload(game); err != nil {
			log.WithError(err).Warnf("Failed to stop download for %s", game)
			continue
		}
		stopped = append(stopped, game)
	}
	return stopped
}

// StopPlay signals the tracked play process directly. Unlike download
// helpers, play sessions are assumed not to detach.
func (s *Supervisor) StopPlay(game string) error {
	s.mu.RLock()
	h, ok := s.play[game]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, game)
	}
	if err := h.Cmd.Process.Kill(); err != nil {
		return fmt.Errorf("stopping play session for %s: %w", game, err)
	}
	return nil
}

// IsRunning reports play-map membership only. No liveness probe beyond "we
// have not yet observed the exit event".
func (s *Supervisor) IsRunning(game string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.play[game]
	return ok
}

// IsDownloading reports download-map membership.
func (s *Supervisor) IsDownloading(game string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.downloads[game]
	return ok
}

// DownloadingGames lists games with a tracked download helper.
func (s *Supervisor) DownloadingGames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	games := make([]string, 0, len(s.downloads))
	for game := range s.downloads {
		games = append(games, game)
	}
	return games
}
