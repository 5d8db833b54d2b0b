package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/registry"
)

const downloadDirectoryKey = "downloadDirectory"

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and edit the user settings file",
	Long: `The user settings file (ascendarasettings.json) is shared with the UI:
keys this tool does not understand are preserved verbatim. The download
directory is the one key the download pipeline depends on.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the settings file, or a single key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		settings, err := store.ReadSettings()
		if err != nil && !errors.Is(err, registry.ErrNotConfigured) {
			log.WithError(err).Error("Failed to read settings file")
			return err
		}

		if len(args) == 0 {
			doc := map[string]json.RawMessage{}
			for k, v := range settings.Extra {
				doc[k] = v
			}
			dirJson, _ := json.Marshal(settings.DownloadDirectory)
			doc[downloadDirectoryKey] = dirJson
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}

		key := args[0]
		if key == downloadDirectoryKey {
			fmt.Println(settings.DownloadDirectory)
			return nil
		}
		raw, ok := settings.Extra[key]
		if !ok {
			return fmt.Errorf("settings key %q not set", key)
		}
		fmt.Println(string(raw))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one settings key",
	Long: `Sets a settings key. The download directory is stored as a plain string;
any other value is stored as JSON when it parses as JSON, else as a
string.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		store := newStore()
		settings, err := store.ReadSettings()
		if err != nil && !errors.Is(err, registry.ErrNotConfigured) {
			log.WithError(err).Error("Failed to read settings file")
			return err
		}

		if key == downloadDirectoryKey {
			settings.DownloadDirectory = value
		} else {
			var raw json.RawMessage
			if json.Valid([]byte(value)) {
				raw = json.RawMessage(value)
			} else {
				raw, _ = json.Marshal(value)
			}
			if settings.Extra == nil {
				settings.Extra = map[string]json.RawMessage{}
			}
			settings.Extra[key] = raw
		}

		if err := store.WriteSettings(settings); err != nil {
			log.WithError(err).Error("Failed to write settings file")
			return err
		}
		log.Infof("Set %s", key)
		return nil
	},
}
