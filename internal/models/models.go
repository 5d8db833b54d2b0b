package models

import (
	"encoding/json"
)

type (
	// Config is the launcher's own configuration, loaded from config.toml.
	// It is distinct from the user Settings file: Config describes how this
	// installation is wired (helper binaries, API endpoint), Settings holds
	// user preferences that the UI edits at runtime.
	Config struct {
		// Paths to the external helper executables
		DownloadHelperPath string `toml:"DownloadHelperPath"`
		GoFileHelperPath   string `toml:"GoFileHelperPath"`
		GameHandlerPath    string `toml:"GameHandlerPath"`

		// Path to the user settings JSON file (ascendarasettings.json).
		// Defaults to the platform user-config directory when empty.
		SettingsPath string `toml:"SettingsPath"`

		// Remote API
		ApiBaseUrl          string `toml:"ApiBaseUrl"`
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`

		// Link hosts that are downloaded in-process instead of via a helper.
		// Matched by substring against the raw link, same as provider dispatch.
		DirectHosts []string `toml:"DirectHosts"`

		// Local caches / indexes
		ImageCachePath string `toml:"ImageCachePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Library poll interval for status watching, in milliseconds.
		PollIntervalMs int `toml:"PollIntervalMs"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Settings is the user settings document (ascendarasettings.json).
	// DownloadDirectory is the only field this subsystem depends on; every
	// other key the UI stores in the file is carried through Extra untouched.
	Settings struct {
		DownloadDirectory string

		Extra map[string]json.RawMessage
	}

	// DownloadingData is the in-flight download/extract/update status block of
	// a game's sidecar file. It exists only while work is in progress or has
	// failed; a completed install has no DownloadingData at all.
	//
	// The external helper processes write this same JSON shape directly into
	// the sidecar file, so unknown keys from newer helpers must survive a
	// read-modify-write cycle (carried in Extra).
	DownloadingData struct {
		Downloading bool `json:"downloading"`
		Extracting  bool `json:"extracting"`
		Updating    bool `json:"updating"`

		// String-encoded percentage, "0.00" through "100.00".
		ProgressCompleted      string `json:"progressCompleted"`
		ProgressDownloadSpeeds string `json:"progressDownloadSpeeds"`
		TimeUntilComplete      string `json:"timeUntilComplete"`

		Error   bool   `json:"error"`
		Message string `json:"message,omitempty"`

		Extra map[string]json.RawMessage `json:"-"`
	}

	// GameRecord is one game's sidecar document,
	// <downloadDirectory>/<game>/<game>.ascendara.json.
	GameRecord struct {
		Game       string `json:"game"`
		Online     bool   `json:"online"`
		DLC        bool   `json:"dlc"`
		Version    string `json:"version,omitempty"`
		Executable string `json:"executable,omitempty"`
		IsRunning  bool   `json:"isRunning"`

		// Set by the game-launch helper when a play session ends badly.
		RunError string `json:"runError,omitempty"`

		DownloadingData *DownloadingData `json:"downloadingData,omitempty"`

		Extra map[string]json.RawMessage `json:"-"`
	}

	// CustomGameRecord is one entry of the shared games.json list: a game the
	// user added by pointing at an existing executable. Custom games never go
	// through the download pipeline, so there is no DownloadingData here.
	CustomGameRecord struct {
		Game       string `json:"game"`
		Online     bool   `json:"online"`
		DLC        bool   `json:"dlc"`
		Version    string `json:"version,omitempty"`
		Executable string `json:"executable"`
		IsRunning  bool   `json:"isRunning"`

		Extra map[string]json.RawMessage `json:"-"`
	}

	// CustomGamesFile is the on-disk shape of games.json.
	CustomGamesFile struct {
		Games []CustomGameRecord `json:"games"`
	}

	// Hashes carries optional content hashes the catalog may supply for
	// direct-download links. Any single match verifies the file.
	Hashes struct {
		SHA256 string `json:"SHA256"`
		CRC32  string `json:"CRC32"`
		BLAKE3 string `json:"BLAKE3"`
	}
)

// Keys this package owns in a sidecar document. Everything else is an unknown
// field that must round-trip.
var gameRecordKnownKeys = []string{
	"game", "online", "dlc", "version", "executable",
	"isRunning", "runError", "downloadingData",
}

var downloadingDataKnownKeys = []string{
	"downloading", "extracting", "updating",
	"progressCompleted", "progressDownloadSpeeds", "timeUntilComplete",
	"error", "message",
}

var customGameKnownKeys = []string{
	"game", "online", "dlc", "version", "executable", "isRunning",
}

// splitKnown removes the known keys from raw and returns the leftovers,
// or nil when nothing unknown remains.
func splitKnown(raw map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// mergeExtra lays the typed document's fields over a copy of extra.
func mergeExtra(extra map[string]json.RawMessage, typed interface{}) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(extra)+8)
	for k, v := range extra {
		out[k] = v
	}
	b, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(b, &typedMap); err != nil {
		return nil, err
	}
	for k, v := range typedMap {
		out[k] = v
	}
	return out, nil
}

// Aliases avoid MarshalJSON recursion.
type (
	gameRecordAlias      GameRecord
	downloadingDataAlias DownloadingData
	customGameAlias      CustomGameRecord
)

func (r GameRecord) MarshalJSON() ([]byte, error) {
	m, err := mergeExtra(r.Extra, gameRecordAlias(r))
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (r *GameRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var alias gameRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = GameRecord(alias)
	r.Extra = splitKnown(raw, gameRecordKnownKeys)
	return nil
}

func (d DownloadingData) MarshalJSON() ([]byte, error) {
	m, err := mergeExtra(d.Extra, downloadingDataAlias(d))
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (d *DownloadingData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var alias downloadingDataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*d = DownloadingData(alias)
	d.Extra = splitKnown(raw, downloadingDataKnownKeys)
	return nil
}

func (c CustomGameRecord) MarshalJSON() ([]byte, error) {
	m, err := mergeExtra(c.Extra, customGameAlias(c))
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (c *CustomGameRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var alias customGameAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = CustomGameRecord(alias)
	c.Extra = splitKnown(raw, customGameKnownKeys)
	return nil
}

func (s Settings) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(s.Extra)+1)
	for k, v := range s.Extra {
		m[k] = v
	}
	b, err := json.Marshal(s.DownloadDirectory)
	if err != nil {
		return nil, err
	}
	m["downloadDirectory"] = b
	return json.Marshal(m)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["downloadDirectory"]; ok {
		if err := json.Unmarshal(v, &s.DownloadDirectory); err != nil {
			return err
		}
		delete(raw, "downloadDirectory")
	}
	if len(raw) > 0 {
		s.Extra = raw
	} else {
		s.Extra = nil
	}
	return nil
}

// InFlight reports whether the record carries live or failed download state,
// the condition the downloads view filters on.
func (r *GameRecord) InFlight() bool {
	d := r.DownloadingData
	if d == nil {
		return false
	}
	return d.Downloading || d.Extracting || d.Updating || d.Error
}
