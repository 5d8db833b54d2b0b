package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go-ascendara-launcher/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// DefaultApiBaseUrl is the fixed remote catalog/image API.
const DefaultApiBaseUrl = "https://api.ascendara.app"

// LoadConfig reads the launcher configuration from the specified path
// (defaulting to "config.toml") and fills in defaults for anything unset.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	applyDefaults(&cfg)

	if cfg.DownloadHelperPath == "" {
		log.Warn("Warning: DownloadHelperPath is not set in config.toml; helper downloads will fail to spawn")
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// DefaultConfig is the configuration used when no config file is present.
func DefaultConfig() models.Config {
	var cfg models.Config
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-valued fields so a partial (or missing) config file
// still yields a usable configuration.
func applyDefaults(cfg *models.Config) {
	if cfg.ApiBaseUrl == "" {
		cfg.ApiBaseUrl = DefaultApiBaseUrl
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = 30
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 1500
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = DefaultSettingsPath()
	}
	if cfg.GoFileHelperPath == "" {
		// Most installs ship a single helper that handles GoFile itself.
		cfg.GoFileHelperPath = cfg.DownloadHelperPath
	}
}

// DefaultSettingsPath resolves ascendarasettings.json in the platform
// user-config directory, falling back to the working directory if the home
// lookup fails.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		log.WithError(err).Warn("Could not resolve user config dir, using working directory for settings")
		return "ascendarasettings.json"
	}
	return filepath.Join(dir, "ascendara", "ascendarasettings.json")
}
