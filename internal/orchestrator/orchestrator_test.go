package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go-ascendara-launcher/internal/api"
	"go-ascendara-launcher/internal/downloader"
	"go-ascendara-launcher/internal/models"
	"go-ascendara-launcher/internal/registry"
	"go-ascendara-launcher/internal/supervisor"
)

// writeFakeHelper drops an executable script that sleeps until killed. The
// file name carries the test's temp dir hash so image-name kills cannot touch
// unrelated processes.
func writeFakeHelper(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake helper scripts are POSIX-only")
	}
	name := fmt.Sprintf("fake-helper-%d.sh", time.Now().UnixNano())
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\nsleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write fake helper: %v", err)
	}
	return path
}

type testEnv struct {
	orch        *Orchestrator
	store       *registry.Store
	sup         *supervisor.Supervisor
	downloadDir string
	helperPath  string
}

func newTestEnv(t *testing.T, apiBase string, mutate func(*models.Config)) *testEnv {
	t.Helper()
	tempDir := t.TempDir()
	downloadDir := filepath.Join(tempDir, "games")
	if err := os.MkdirAll(downloadDir, 0700); err != nil {
		t.Fatal(err)
	}
	settingsPath := filepath.Join(tempDir, "ascendarasettings.json")
	content, _ := json.Marshal(map[string]string{"downloadDirectory": downloadDir})
	if err := os.WriteFile(settingsPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	helperPath := writeFakeHelper(t, tempDir)
	cfg := models.Config{
		DownloadHelperPath: helperPath,
		GoFileHelperPath:   helperPath,
		GameHandlerPath:    helperPath,
		ApiBaseUrl:         apiBase,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := registry.New(settingsPath)
	sup := supervisor.New()
	client := api.NewClient(cfg.ApiBaseUrl, &http.Client{Timeout: 2 * time.Second})
	orch := New(cfg, store, sup, client, downloader.NewDownloader(&http.Client{Timeout: 10 * time.Second}), nil)

	return &testEnv{orch: orch, store: store, sup: sup, downloadDir: downloadDir, helperPath: helperPath}
}

// quietApiServer accepts the fire-and-forget stats calls tests trigger.
func quietApiServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStartDownloadRejectsUnsafeName(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)

	for _, name := range []string{"", "..", "a/b", "bad:name"} {
		err := env.orch.StartDownload(StartRequest{Link: "https://mirror.example.org/x.zip", Game: name})
		if !errors.Is(err, ErrInvalidGameName) {
			t.Errorf("StartDownload(%q) error = %v, want ErrInvalidGameName", name, err)
		}
	}
}

func TestStartDownloadRequiresConfiguredDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake helper scripts are POSIX-only")
	}
	store := registry.New(filepath.Join(t.TempDir(), "missing-settings.json"))
	sup := supervisor.New()
	client := api.NewClient("http://127.0.0.1:9", &http.Client{Timeout: time.Second})
	orch := New(models.Config{}, store, sup, client, downloader.NewDownloader(nil), nil)

	err := orch.StartDownload(StartRequest{Link: "https://mirror.example.org/x.zip", Game: "Some Game"})
	if !errors.Is(err, registry.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestStartDownloadRejectsInvalidGofileLink(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)

	err := env.orch.StartDownload(StartRequest{Link: "https://gofile.io/about", Game: "Some Game"})
	if !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("Expected ErrInvalidLink, got %v", err)
	}
	// Validation failure must happen before any disk write.
	if _, statErr := os.Stat(filepath.Join(env.downloadDir, "Some Game")); !os.IsNotExist(statErr) {
		t.Error("Game directory created despite invalid link")
	}
}

func TestStartDownloadLifecycle(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)
	game := "Elden Ring"

	err := env.orch.StartDownload(StartRequest{
		Link:    "https://mirror.example.org/er.rar",
		Game:    game,
		Online:  true,
		Version: "1.10",
	})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}

	// Initial sidecar is written synchronously, before the helper can have
	// reported anything.
	rec, err := env.store.ReadGameRecord(game)
	if err != nil {
		t.Fatalf("ReadGameRecord failed: %v", err)
	}
	if rec.DownloadingData == nil || !rec.DownloadingData.Downloading {
		t.Fatalf("Initial sidecar not marked downloading: %+v", rec.DownloadingData)
	}
	if rec.DownloadingData.ProgressCompleted != "0.00" {
		t.Errorf("Initial progress = %q, want 0.00", rec.DownloadingData.ProgressCompleted)
	}
	if !rec.Online || rec.Version != "1.10" {
		t.Errorf("Request metadata not recorded: %+v", rec)
	}

	if !env.sup.IsDownloading(game) {
		t.Error("Supervisor does not track the spawned helper")
	}

	// A second start for the same game is refused while the first is alive.
	err = env.orch.StartDownload(StartRequest{Link: "https://mirror.example.org/er.rar", Game: game})
	if !errors.Is(err, ErrDownloadInProgress) {
		t.Errorf("Second start error = %v, want ErrDownloadInProgress", err)
	}

	// Stopping kills the helper and discards the whole directory.
	if err := env.orch.StopDownload(game); err != nil {
		t.Fatalf("StopDownload failed: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(env.downloadDir, game)); !os.IsNotExist(statErr) {
		t.Error("Game directory survived StopDownload")
	}
	if env.sup.IsDownloading(game) {
		t.Error("Supervisor still tracks a stopped download")
	}

	// The killed helper's exit callback must not resurrect the directory.
	time.Sleep(300 * time.Millisecond)
	if _, statErr := os.Stat(filepath.Join(env.downloadDir, game)); !os.IsNotExist(statErr) {
		t.Error("Helper exit callback recreated the deleted directory")
	}
}

func TestHelperExitAfterStopLeavesNoSidecar(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)
	game := "Stopped Game"

	err := env.orch.StartDownload(StartRequest{Link: "https://mirror.example.org/s.rar", Game: game})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}
	if err := env.orch.StopDownload(game); err != nil {
		t.Fatalf("StopDownload failed: %v", err)
	}

	// Deliver the killed helper's exit callback by hand, as if it raced past
	// the stop. The no-create merge must refuse to rebuild the directory.
	env.orch.onHelperExit(game, errors.New("signal: killed"))

	if _, statErr := os.Stat(filepath.Join(env.downloadDir, game)); !os.IsNotExist(statErr) {
		t.Error("Exit callback after stop recreated the game directory")
	}
	if _, readErr := env.store.ReadGameRecord(game); !errors.Is(readErr, registry.ErrGameNotFound) {
		t.Errorf("Expected ErrGameNotFound after stop, got %v", readErr)
	}
}

func TestStartDownloadNotDelayedByCoverFetch(t *testing.T) {
	payload := []byte("bin")
	cover := []byte("png bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image/slowcover":
			time.Sleep(1200 * time.Millisecond)
			w.Header().Set("Content-Type", "image/png")
			w.Write(cover)
		case "/pkg.bin":
			w.Write(payload)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	serverHost := server.Listener.Addr().String()
	env := newTestEnv(t, server.URL, func(cfg *models.Config) {
		cfg.DirectHosts = []string{serverHost}
	})
	game := "Covered Game"

	begin := time.Now()
	err := env.orch.StartDownload(StartRequest{
		Link:         server.URL + "/pkg.bin",
		Game:         game,
		CoverImageID: "slowcover",
	})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 800*time.Millisecond {
		t.Errorf("StartDownload blocked on the cover fetch (%v)", elapsed)
	}

	// The cover still lands, just off the start path.
	coverPath := filepath.Join(env.downloadDir, game, "header.ascendara.png")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if data, readErr := os.ReadFile(coverPath); readErr == nil {
			if string(data) != string(cover) {
				t.Error("Cover art content mismatch")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Cover art never written")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStartDownloadSpawnFailureRecorded(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, func(cfg *models.Config) {
		cfg.DownloadHelperPath = filepath.Join(os.TempDir(), "does-not-exist-helper")
	})
	game := "Broken Game"

	err := env.orch.StartDownload(StartRequest{Link: "https://mirror.example.org/x.zip", Game: game})
	if err == nil {
		t.Fatal("Expected spawn failure")
	}

	rec, readErr := env.store.ReadGameRecord(game)
	if readErr != nil {
		t.Fatalf("ReadGameRecord failed: %v", readErr)
	}
	if rec.DownloadingData == nil || !rec.DownloadingData.Error {
		t.Errorf("Spawn failure not recorded in sidecar: %+v", rec.DownloadingData)
	}
	if rec.DownloadingData != nil && rec.DownloadingData.Downloading {
		t.Error("Record still claims downloading after spawn failure")
	}
}

func TestDirectDownloadCompletes(t *testing.T) {
	payload := []byte("direct download payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pkg.bin" {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			w.Write(payload)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	serverHost := server.Listener.Addr().String()
	env := newTestEnv(t, server.URL, func(cfg *models.Config) {
		cfg.DirectHosts = []string{serverHost}
	})
	game := "Direct Game"

	err := env.orch.StartDownload(StartRequest{Link: server.URL + "/pkg.bin", Game: game})
	if err != nil {
		t.Fatalf("StartDownload failed: %v", err)
	}

	// Direct downloads run in-process on a goroutine; wait for the sidecar to
	// settle into the installed state.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, readErr := env.store.ReadGameRecord(game)
		if readErr == nil && rec.DownloadingData == nil {
			break
		}
		if readErr == nil && rec.DownloadingData != nil && rec.DownloadingData.Error {
			t.Fatalf("Direct download errored: %s", rec.DownloadingData.Message)
		}
		if time.Now().After(deadline) {
			t.Fatal("Direct download did not finish in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	data, err := os.ReadFile(filepath.Join(env.downloadDir, game, "pkg.bin"))
	if err != nil {
		t.Fatalf("Downloaded file missing: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("Downloaded content mismatch")
	}
}

func TestCheckRetryExtractable(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)
	game := "Half Extracted"

	// Missing directory: nothing to retry, not an error.
	ok, err := env.orch.CheckRetryExtractable(game)
	if err != nil || ok {
		t.Errorf("Missing dir: got (%t, %v), want (false, nil)", ok, err)
	}

	// Only the sidecar: nothing was extracted.
	if err := env.store.WriteGameRecord(game, models.GameRecord{Game: game}); err != nil {
		t.Fatal(err)
	}
	ok, err = env.orch.CheckRetryExtractable(game)
	if err != nil || ok {
		t.Errorf("Sidecar only: got (%t, %v), want (false, nil)", ok, err)
	}

	// Sidecar plus content: retry is worthwhile.
	if err := os.WriteFile(filepath.Join(env.downloadDir, game, "archive.rar"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, err = env.orch.CheckRetryExtractable(game)
	if err != nil || !ok {
		t.Errorf("With content: got (%t, %v), want (true, nil)", ok, err)
	}
}

func TestRetryExtractMarksExtracting(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)
	game := "Failed Extract"

	rec := models.GameRecord{
		Game:            game,
		DownloadingData: &models.DownloadingData{Error: true, Message: "extraction failed"},
	}
	if err := env.store.WriteGameRecord(game, rec); err != nil {
		t.Fatal(err)
	}

	selected := filepath.Join(env.downloadDir, game)
	if err := env.orch.RetryExtract(game, false, false, "1.0", selected); err != nil {
		t.Fatalf("RetryExtract failed: %v", err)
	}
	defer env.orch.StopDownload(game)

	got, err := env.store.ReadGameRecord(game)
	if err != nil {
		t.Fatal(err)
	}
	if got.DownloadingData == nil || !got.DownloadingData.Extracting {
		t.Errorf("Record not marked extracting: %+v", got.DownloadingData)
	}
	if got.DownloadingData != nil && (got.DownloadingData.Error || got.DownloadingData.Message != "") {
		t.Errorf("Previous error state not cleared: %+v", got.DownloadingData)
	}
	if !env.sup.IsDownloading(game) {
		t.Error("Helper not tracked after RetryExtract")
	}
}

func TestPlayResolvesExecutable(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)

	// No record at all.
	if err := env.orch.Play("Ghost Game", false); !errors.Is(err, registry.ErrGameNotFound) {
		t.Errorf("Expected ErrGameNotFound, got %v", err)
	}

	// Record without an executable.
	if err := env.store.WriteGameRecord("No Exe", models.GameRecord{Game: "No Exe"}); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.Play("No Exe", false); !errors.Is(err, ErrNoExecutable) {
		t.Errorf("Expected ErrNoExecutable, got %v", err)
	}

	// Custom game that is not in games.json.
	if err := env.orch.Play("Ghost Custom", true); !errors.Is(err, registry.ErrGameNotFound) {
		t.Errorf("Expected ErrGameNotFound for custom game, got %v", err)
	}
}

func TestPlayMirrorsRunningFlag(t *testing.T) {
	env := newTestEnv(t, quietApiServer(t).URL, nil)
	game := "Runnable"

	rec := models.GameRecord{Game: game, Executable: "run.sh"}
	if err := env.store.WriteGameRecord(game, rec); err != nil {
		t.Fatal(err)
	}

	if err := env.orch.Play(game, false); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	got, err := env.store.ReadGameRecord(game)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsRunning {
		t.Error("isRunning not mirrored into the record")
	}
	if !env.sup.IsRunning(game) {
		t.Error("Supervisor does not track the play session")
	}

	if err := env.orch.StopPlay(game); err != nil {
		t.Fatalf("StopPlay failed: %v", err)
	}

	// The exit callback clears the flag asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err = env.store.ReadGameRecord(game)
		if err == nil && !got.IsRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("isRunning never cleared after StopPlay")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestReportDownloadFireAndForget(t *testing.T) {
	// StartDownload must succeed even when the stats endpoint is down.
	env := newTestEnv(t, "http://127.0.0.1:9", nil)
	game := "Offline Stats"

	err := env.orch.StartDownload(StartRequest{Link: "https://mirror.example.org/x.zip", Game: game})
	if err != nil {
		t.Fatalf("StartDownload failed with unreachable stats endpoint: %v", err)
	}
	env.orch.StopDownload(game)
}
