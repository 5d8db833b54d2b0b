package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go-ascendara-launcher/internal/models"
)

// newTestStore builds a store whose settings file points at a temp download
// directory.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tempDir := t.TempDir()
	downloadDir := filepath.Join(tempDir, "games")
	if err := os.MkdirAll(downloadDir, 0700); err != nil {
		t.Fatalf("Failed to create download dir: %v", err)
	}

	settingsPath := filepath.Join(tempDir, "ascendarasettings.json")
	content, _ := json.Marshal(map[string]interface{}{
		"downloadDirectory": downloadDir,
		"theme":             "dark",
	})
	if err := os.WriteFile(settingsPath, content, 0644); err != nil {
		t.Fatalf("Failed to write settings file: %v", err)
	}
	return New(settingsPath), downloadDir
}

func TestReadSettingsMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nope.json"))
	_, err := store.ReadSettings()
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestReadSettingsEmptyDownloadDirectory(t *testing.T) {
	settingsPath := filepath.Join(t.TempDir(), "ascendarasettings.json")
	if err := os.WriteFile(settingsPath, []byte(`{"downloadDirectory": ""}`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := New(settingsPath).ReadSettings()
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured for empty downloadDirectory, got %v", err)
	}
}

func TestReadSettingsMalformedJson(t *testing.T) {
	settingsPath := filepath.Join(t.TempDir(), "ascendarasettings.json")
	if err := os.WriteFile(settingsPath, []byte(`{"downloadDirectory": `), 0644); err != nil {
		t.Fatal(err)
	}
	// A corrupt file is a real error, not an unconfigured install.
	_, err := New(settingsPath).ReadSettings()
	if err == nil || errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected a parse error for malformed settings, got %v", err)
	}
}

func TestWriteSettingsPreservesUnknownKeys(t *testing.T) {
	store, _ := newTestStore(t)

	settings, err := store.ReadSettings()
	if err != nil {
		t.Fatalf("ReadSettings failed: %v", err)
	}
	settings.DownloadDirectory = settings.DownloadDirectory + "-moved"
	if err := store.WriteSettings(settings); err != nil {
		t.Fatalf("WriteSettings failed: %v", err)
	}

	// ReadSettings with the moved directory still works; the unknown theme
	// key written by the UI must survive the rewrite.
	reread, err := store.ReadSettings()
	if err != nil {
		t.Fatalf("ReadSettings after write failed: %v", err)
	}
	if string(reread.Extra["theme"]) != `"dark"` {
		t.Errorf("Unknown settings key lost: %s", reread.Extra["theme"])
	}
}

func TestWriteAndReadGameRecord(t *testing.T) {
	store, downloadDir := newTestStore(t)

	rec := models.GameRecord{Game: "Elden Ring", Online: true, Version: "1.10"}
	if err := store.WriteGameRecord("Elden Ring", rec); err != nil {
		t.Fatalf("WriteGameRecord failed: %v", err)
	}

	// Sidecar lands at <dir>/<game>/<game>.ascendara.json
	sidecar := filepath.Join(downloadDir, "Elden Ring", "Elden Ring.ascendara.json")
	if _, err := os.Stat(sidecar); err != nil {
		t.Fatalf("Sidecar file not created at expected path: %v", err)
	}

	got, err := store.ReadGameRecord("Elden Ring")
	if err != nil {
		t.Fatalf("ReadGameRecord failed: %v", err)
	}
	if got.Game != "Elden Ring" || !got.Online || got.Version != "1.10" {
		t.Errorf("Record mismatch: %+v", got)
	}
}

func TestReadGameRecordNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.ReadGameRecord("Nothing Here")
	if !errors.Is(err, ErrGameNotFound) {
		t.Errorf("Expected ErrGameNotFound, got %v", err)
	}
}

func TestListInstalledGamesSkipsBrokenEntries(t *testing.T) {
	store, downloadDir := newTestStore(t)

	if err := store.WriteGameRecord("Good Game", models.GameRecord{Game: "Good Game"}); err != nil {
		t.Fatal(err)
	}

	// Directory without a sidecar: skipped silently.
	if err := os.MkdirAll(filepath.Join(downloadDir, "Foreign Dir"), 0700); err != nil {
		t.Fatal(err)
	}
	// Directory with a corrupt sidecar: skipped with a warning.
	corruptDir := filepath.Join(downloadDir, "Corrupt Game")
	if err := os.MkdirAll(corruptDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corruptDir, "Corrupt Game.ascendara.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	// A loose file in the download dir: ignored.
	if err := os.WriteFile(filepath.Join(downloadDir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListInstalledGames()
	if err != nil {
		t.Fatalf("ListInstalledGames failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Game != "Good Game" {
		t.Errorf("Expected only Good Game, got %+v", recs)
	}
}

func TestListInstalledGamesMissingRoot(t *testing.T) {
	store, downloadDir := newTestStore(t)
	if err := os.RemoveAll(downloadDir); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListInstalledGames()
	if err != nil {
		t.Fatalf("Expected no error for missing download dir, got %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Expected empty library, got %+v", recs)
	}
}

func TestMergeDownloadingDataPreservesForeignKeys(t *testing.T) {
	store, downloadDir := newTestStore(t)

	// Simulate a helper-written sidecar with keys this package doesn't know.
	sidecarDir := filepath.Join(downloadDir, "Portal 2")
	if err := os.MkdirAll(sidecarDir, 0700); err != nil {
		t.Fatal(err)
	}
	doc := `{
		"game": "Portal 2",
		"helperVersion": "9.1",
		"downloadingData": {
			"downloading": true,
			"progressCompleted": "10.00",
			"chunkMap": [1, 2, 3]
		}
	}`
	if err := os.WriteFile(filepath.Join(sidecarDir, "Portal 2.ascendara.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	err := store.MergeDownloadingData("Portal 2", map[string]interface{}{
		"progressCompleted": "55.00",
	})
	if err != nil {
		t.Fatalf("MergeDownloadingData failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(sidecarDir, "Portal 2.ascendara.json"))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Sidecar no longer valid JSON: %v", err)
	}
	if _, ok := raw["helperVersion"]; !ok {
		t.Error("Top-level foreign key helperVersion lost")
	}
	var dd map[string]json.RawMessage
	if err := json.Unmarshal(raw["downloadingData"], &dd); err != nil {
		t.Fatal(err)
	}
	if string(dd["progressCompleted"]) != `"55.00"` {
		t.Errorf("progressCompleted = %s, want \"55.00\"", dd["progressCompleted"])
	}
	if string(dd["downloading"]) != "true" {
		t.Error("Unmerged key downloading changed")
	}
	if _, ok := dd["chunkMap"]; !ok {
		t.Error("Foreign downloadingData key chunkMap lost")
	}
}

func TestMergeDownloadingDataCreatesShell(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.MergeDownloadingData("Fresh Game", map[string]interface{}{
		"downloading":       true,
		"progressCompleted": "0.00",
	})
	if err != nil {
		t.Fatalf("MergeDownloadingData failed: %v", err)
	}

	rec, err := store.ReadGameRecord("Fresh Game")
	if err != nil {
		t.Fatalf("ReadGameRecord failed: %v", err)
	}
	if rec.Game != "Fresh Game" {
		t.Errorf("Shell record missing game name: %+v", rec)
	}
	if rec.DownloadingData == nil || !rec.DownloadingData.Downloading {
		t.Errorf("Shell record missing downloading state: %+v", rec.DownloadingData)
	}
}

func TestMergeExistingDownloadingDataNeverCreates(t *testing.T) {
	store, downloadDir := newTestStore(t)

	err := store.MergeExistingDownloadingData("Gone Game", map[string]interface{}{
		"error":   true,
		"message": "helper killed",
	})
	if !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("Expected ErrGameNotFound for a missing sidecar, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(downloadDir, "Gone Game")); !os.IsNotExist(statErr) {
		t.Error("No-create merge resurrected the game directory")
	}

	// With a sidecar present it behaves like a normal merge.
	if err := store.MergeDownloadingData("Live Game", map[string]interface{}{"downloading": true}); err != nil {
		t.Fatal(err)
	}
	if err := store.MergeExistingDownloadingData("Live Game", map[string]interface{}{"progressCompleted": "33.00"}); err != nil {
		t.Fatalf("MergeExistingDownloadingData failed: %v", err)
	}
	rec, err := store.ReadGameRecord("Live Game")
	if err != nil {
		t.Fatal(err)
	}
	if rec.DownloadingData == nil || rec.DownloadingData.ProgressCompleted != "33.00" {
		t.Errorf("Merge did not land: %+v", rec.DownloadingData)
	}
}

func TestClearDownloadingData(t *testing.T) {
	store, _ := newTestStore(t)

	rec := models.GameRecord{
		Game:            "Hades",
		DownloadingData: &models.DownloadingData{Downloading: true},
	}
	if err := store.WriteGameRecord("Hades", rec); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearDownloadingData("Hades"); err != nil {
		t.Fatalf("ClearDownloadingData failed: %v", err)
	}

	got, err := store.ReadGameRecord("Hades")
	if err != nil {
		t.Fatal(err)
	}
	if got.DownloadingData != nil {
		t.Errorf("downloadingData still present: %+v", got.DownloadingData)
	}

	// Clearing again, and clearing a game with no sidecar, are no-ops.
	if err := store.ClearDownloadingData("Hades"); err != nil {
		t.Errorf("Second clear failed: %v", err)
	}
	if err := store.ClearDownloadingData("Never Existed"); err != nil {
		t.Errorf("Clear on missing game failed: %v", err)
	}
}

func TestDeleteGameDirectoryIdempotent(t *testing.T) {
	store, downloadDir := newTestStore(t)

	if err := store.WriteGameRecord("Doom", models.GameRecord{Game: "Doom"}); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteGameDirectory("Doom"); err != nil {
		t.Fatalf("DeleteGameDirectory failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(downloadDir, "Doom")); !os.IsNotExist(err) {
		t.Error("Game directory still exists")
	}
	if err := store.DeleteGameDirectory("Doom"); err != nil {
		t.Errorf("Second delete failed: %v", err)
	}
}

func TestCustomGames(t *testing.T) {
	store, _ := newTestStore(t)

	// Missing games.json reads as an empty list.
	games, err := store.ListCustomGames()
	if err != nil {
		t.Fatalf("ListCustomGames failed: %v", err)
	}
	if len(games) != 0 {
		t.Errorf("Expected empty list, got %+v", games)
	}

	if err := store.AddCustomGame(models.CustomGameRecord{Game: "Terraria", Executable: "/opt/t/run"}); err != nil {
		t.Fatalf("AddCustomGame failed: %v", err)
	}
	if err := store.AddCustomGame(models.CustomGameRecord{Game: "Factorio", Executable: "/opt/f/run"}); err != nil {
		t.Fatal(err)
	}

	// Re-adding replaces in place rather than duplicating.
	if err := store.AddCustomGame(models.CustomGameRecord{Game: "Terraria", Executable: "/new/path"}); err != nil {
		t.Fatal(err)
	}
	games, err = store.ListCustomGames()
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 2 {
		t.Fatalf("Expected 2 custom games, got %d", len(games))
	}
	for _, g := range games {
		if g.Game == "Terraria" && g.Executable != "/new/path" {
			t.Errorf("Terraria not replaced: %+v", g)
		}
	}

	if err := store.SetCustomGameRunning("Factorio", true); err != nil {
		t.Fatalf("SetCustomGameRunning failed: %v", err)
	}
	games, _ = store.ListCustomGames()
	for _, g := range games {
		if g.Game == "Factorio" && !g.IsRunning {
			t.Error("Factorio not marked running")
		}
	}

	if err := store.RemoveCustomGame("Terraria"); err != nil {
		t.Fatalf("RemoveCustomGame failed: %v", err)
	}
	// Removing a game that is not in the list is a no-op.
	if err := store.RemoveCustomGame("Terraria"); err != nil {
		t.Errorf("Second remove failed: %v", err)
	}
	games, _ = store.ListCustomGames()
	if len(games) != 1 || games[0].Game != "Factorio" {
		t.Errorf("Expected only Factorio, got %+v", games)
	}
}

func TestUpdateGameRecordCreatesShell(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.UpdateGameRecord("New Game", func(rec *models.GameRecord) {
		rec.Executable = "bin/game.exe"
	})
	if err != nil {
		t.Fatalf("UpdateGameRecord failed: %v", err)
	}

	rec, err := store.ReadGameRecord("New Game")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Game != "New Game" || rec.Executable != "bin/game.exe" {
		t.Errorf("Unexpected record: %+v", rec)
	}
}
