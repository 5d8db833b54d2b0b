package cmd

import (
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/index"
	"go-ascendara-launcher/internal/helpers"
	"go-ascendara-launcher/internal/reconciler"
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Bool("reindex", false, "Rebuild the index from the library before searching")
	searchCmd.Flags().Int("limit", 20, "Maximum number of results to show")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the game library",
	Long: `Searches the local Bleve index of installed and custom games. Supports
the full query string syntax, e.g. '+custom:true skyrim' or
'+state:errored'. Use --reindex after installing or removing games.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	reindex, _ := cmd.Flags().GetBool("reindex")
	limit, _ := cmd.Flags().GetInt("limit")

	if globalConfig.BleveIndexPath == "" {
		return errors.New("BleveIndexPath is not configured")
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Errorf("Failed to open index at %s", globalConfig.BleveIndexPath)
		return err
	}
	defer idx.Close()

	if reindex {
		if err := rebuildIndex(idx); err != nil {
			return err
		}
	}

	results, err := index.SearchIndex(idx, query)
	if err != nil {
		log.WithError(err).Error("Search failed")
		return err
	}

	if results.Total == 0 {
		log.Info("No results")
		return nil
	}
	shown := 0
	for _, hit := range results.Hits {
		if shown >= limit {
			break
		}
		name, _ := hit.Fields["name"].(string)
		itemType, _ := hit.Fields["type"].(string)
		state, _ := hit.Fields["state"].(string)
		fmt.Printf("%-30s %-12s %s\n", name, itemType, state)
		shown++
	}
	log.Infof("%d result(s), showing %d", results.Total, shown)
	return nil
}

// rebuildIndex re-indexes every installed and custom game.
func rebuildIndex(idx bleve.Index) error {
	store := newStore()

	recs, err := store.ListInstalledGames()
	if err != nil {
		log.WithError(err).Error("Failed to scan download directory")
		return err
	}
	custom, err := store.ListCustomGames()
	if err != nil {
		log.WithError(err).Error("Failed to read custom games list")
		return err
	}

	count := 0
	for _, rec := range recs {
		dir, _ := store.GameDir(rec.Game)
		item := index.Item{
			ID:         "game_" + helpers.ConvertToSlug(rec.Game),
			Type:       "game",
			Name:       rec.Game,
			Version:    rec.Version,
			Executable: rec.Executable,
			Directory:  dir,
			Online:     rec.Online,
			DLC:        rec.DLC,
			State:      string(reconciler.Classify(rec)),
		}
		if err := index.IndexItem(idx, item); err != nil {
			log.WithError(err).Warnf("Failed to index %s", rec.Game)
			continue
		}
		count++
	}
	for _, g := range custom {
		item := index.Item{
			ID:         "custom_" + helpers.ConvertToSlug(g.Game),
			Type:       "custom_game",
			Name:       g.Game,
			Version:    g.Version,
			Executable: g.Executable,
			Online:     g.Online,
			DLC:        g.DLC,
			Custom:     true,
		}
		if err := index.IndexItem(idx, item); err != nil {
			log.WithError(err).Warnf("Failed to index custom game %s", g.Game)
			continue
		}
		count++
	}
	log.Infof("Indexed %d games", count)
	return nil
}
