package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-ascendara-launcher/internal/api"
	"go-ascendara-launcher/internal/config"
	"go-ascendara-launcher/internal/downloader"
	"go-ascendara-launcher/internal/imagecache"
	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/orchestrator"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel / logFormat hold the logging persistent flags
var logLevel string
var logFormat string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// settingsPathFlag holds the value of the --settings flag
var settingsPathFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ascendara",
	Short: "Download and launch games through the Ascendara helpers",
	Long: `Ascendara manages a game library on disk: it starts downloads through
the external helper executables, tracks per-game status sidecar files,
and launches installed games through the game handler.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&settingsPathFlag, "settings", "", "Path to the user settings JSON file (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")

	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	// The same TOML file doubles as viper's source, so keys bound with
	// BindPFlag (e.g. the [download] table) resolve config-file values when
	// their flags are left unset.
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		log.WithError(err).Debugf("Config file not readable by viper, flag defaults apply")
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal: most commands only need the settings path, which has a
		// platform default. Commands check the config fields they need.
		log.WithError(err).Warnf("Failed to load configuration from %s, using defaults", cfgFile)
		globalConfig = config.DefaultConfig()
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	if cmd.Flags().Changed("settings") {
		if settingsPathFlag != "" {
			globalConfig.SettingsPath = settingsPathFlag
			log.Debugf("Overriding SettingsPath based on --settings flag: %s", settingsPathFlag)
		} else {
			log.Warn("--settings flag provided but value is empty, ignoring.")
		}
	}

	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}
	if globalConfig.ApiClientTimeoutSec <= 0 {
		globalConfig.ApiClientTimeoutSec = 30
	}

	// --- Setup Global HTTP Transport ---
	baseTransport := http.DefaultTransport
	globalHttpTransport = baseTransport
	if globalConfig.LogApiRequests {
		log.Debug("API request logging enabled, wrapping global HTTP transport.")
		logFilePath := "api.log"
		if dir := filepath.Dir(cfgFile); dir != "" && dir != "." {
			logFilePath = filepath.Join(dir, logFilePath)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}

// newStore builds the registry store against the configured settings file.
func newStore() *registry.Store {
	return registry.New(globalConfig.SettingsPath)
}

// newApiClient builds the remote API client with the global transport.
func newApiClient() *api.Client {
	httpClient := &http.Client{
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
		Transport: globalHttpTransport,
	}
	return api.NewClient(globalConfig.ApiBaseUrl, httpClient)
}

// openImageCache opens the cover image cache when one is configured. A cache
// failure is not fatal; covers are just fetched without caching.
func openImageCache() *imagecache.Cache {
	if globalConfig.ImageCachePath == "" {
		return nil
	}
	cache, err := imagecache.Open(globalConfig.ImageCachePath)
	if err != nil {
		log.WithError(err).Warnf("Failed to open image cache at %s, continuing without it", globalConfig.ImageCachePath)
		return nil
	}
	return cache
}

// newOrchestrator wires up the full download/launch stack. The returned
// cleanup function releases the image cache lock and must be deferred.
func newOrchestrator(store *registry.Store, sup *supervisor.Supervisor) (*orchestrator.Orchestrator, func()) {
	images := openImageCache()
	orch := orchestrator.New(globalConfig, store, sup, newApiClient(), downloader.NewDownloader(nil), images)
	cleanup := func() {
		if images != nil {
			if err := images.Close(); err != nil {
				log.WithError(err).Warn("Failed to close image cache")
			}
		}
	}
	return orch, cleanup
}
