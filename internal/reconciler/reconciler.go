package reconciler

import (
	"context"
	"time"

	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"

	log "github.com/sirupsen/logrus"
)

// State is the display classification of one game.
type State string

const (
	StateInstalled   State = "installed"
	StateDownloading State = "downloading"
	StateExtracting  State = "extracting"
	StateUpdating    State = "updating"
	StateErrored     State = "errored"
)

// Classify maps a game record to its display state. Pure function over the
// record; the precedence order (error first, then updating, extracting,
// downloading) resolves records where a buggy writer left several flags set.
func Classify(rec models.GameRecord) State {
	d := rec.DownloadingData
	if d == nil {
		return StateInstalled
	}
	switch {
	case d.Error:
		return StateErrored
	case d.Updating:
		return StateUpdating
	case d.Extracting:
		return StateExtracting
	case d.Downloading:
		return StateDownloading
	default:
		// Stale block with nothing set; treat as installed.
		return StateInstalled
	}
}

// FilterInFlight returns the records whose downloadingData marks them as
// downloading, extracting, updating, or errored.
func FilterInFlight(recs []models.GameRecord) []models.GameRecord {
	out := make([]models.GameRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.InFlight() {
			out = append(out, rec)
		}
	}
	return out
}

// GameStatus pairs a record with its classification and live process flags.
type GameStatus struct {
	Record  models.GameRecord
	State   State
	Running bool
	// True when the supervisor still tracks a helper for this game. A record
	// can claim "downloading" with no live helper (crash before cleanup);
	// the UI uses this to offer retry instead of a stuck spinner.
	HelperAlive bool
}

// Snapshot is one poll's view of the whole library.
type Snapshot struct {
	Installed []GameStatus
	Custom    []models.CustomGameRecord
	TakenAt   time.Time
}

// Service polls the registry and supervisor on a fixed interval and
// classifies every known game for display. Every poll re-reads from disk; at
// library scale (tens of games) simplicity beats caching.
type Service struct {
	store    *registry.Store
	sup      *supervisor.Supervisor
	interval time.Duration
}

// NewService creates a polling service. interval falls back to 1.5s when
// non-positive.
func NewService(store *registry.Store, sup *supervisor.Supervisor, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Service{store: store, sup: sup, interval: interval}
}

// Interval exposes the effective poll period.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// GetGames returns every installed or in-flight game record.
func (s *Service) GetGames() ([]models.GameRecord, error) {
	return s.store.ListInstalledGames()
}

// GetCustomGames returns the manually-added games list.
func (s *Service) GetCustomGames() ([]models.CustomGameRecord, error) {
	return s.store.ListCustomGames()
}

// GetDownloadingGames filters the library down to in-flight records.
func (s *Service) GetDownloadingGames() ([]models.GameRecord, error) {
	recs, err := s.store.ListInstalledGames()
	if err != nil {
		return nil, err
	}
	return FilterInFlight(recs), nil
}

// IsGameRunning delegates to supervisor map membership.
func (s *Service) IsGameRunning(game string) bool {
	return s.sup.IsRunning(game)
}

// Snapshot reads and classifies the entire library once.
func (s *Service) Snapshot() (Snapshot, error) {
	recs, err := s.store.ListInstalledGames()
	if err != nil {
		return Snapshot{}, err
	}
	custom, err := s.store.ListCustomGames()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Installed: make([]GameStatus, 0, len(recs)),
		Custom:    custom,
		TakenAt:   time.Now(),
	}
	for _, rec := range recs {
		snap.Installed = append(snap.Installed, GameStatus{
			Record:      rec,
			State:       Classify(rec),
			Running:     s.sup.IsRunning(rec.Game),
			HelperAlive: s.sup.IsDownloading(rec.Game),
		})
	}
	return snap, nil
}

// Watch polls until ctx is done, invoking fn with each snapshot. Poll errors
// are logged and the loop keeps going; a transient read failure should not
// kill the status view.
func (s *Service) Watch(ctx context.Context, fn func(Snapshot)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		snap, err := s.Snapshot()
		if err != nil {
			log.WithError(err).Warn("Library poll failed")
		} else {
			fn(snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
