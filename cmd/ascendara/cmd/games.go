package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/reconciler"
)

func init() {
	rootCmd.AddCommand(gamesCmd)

	gamesCmd.Flags().Bool("custom", false, "List manually added games instead of installed ones")
	gamesCmd.Flags().Bool("downloading", false, "List only in-flight downloads")
	gamesCmd.Flags().Bool("json", false, "Emit the raw records as JSON")
}

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List the games in the library",
	Long: `Lists installed games by scanning the download directory for status
sidecar files. Unreadable or foreign directories are skipped. With
--custom the manually added games from games.json are listed instead.`,
	RunE: runGames,
}

func runGames(cmd *cobra.Command, args []string) error {
	custom, _ := cmd.Flags().GetBool("custom")
	downloading, _ := cmd.Flags().GetBool("downloading")
	asJson, _ := cmd.Flags().GetBool("json")

	store := newStore()

	if custom {
		games, err := store.ListCustomGames()
		if err != nil {
			log.WithError(err).Error("Failed to read custom games list")
			return err
		}
		if asJson {
			return json.NewEncoder(os.Stdout).Encode(games)
		}
		for _, g := range games {
			fmt.Printf("%s\t%s\t%s\n", g.Game, g.Version, g.Executable)
		}
		return nil
	}

	recs, err := store.ListInstalledGames()
	if err != nil {
		log.WithError(err).Error("Failed to scan download directory")
		return err
	}
	if downloading {
		recs = reconciler.FilterInFlight(recs)
	}
	if asJson {
		return json.NewEncoder(os.Stdout).Encode(recs)
	}
	for _, rec := range recs {
		fmt.Printf("%s\t%s\t%s\n", rec.Game, rec.Version, reconciler.Classify(rec))
	}
	return nil
}
