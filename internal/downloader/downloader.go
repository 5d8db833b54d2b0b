package downloader

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go-ascendara-launcher/internal/helpers"
	"go-ascendara-launcher/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHashMismatch = errors.New("downloaded file hash mismatch")
	ErrHttpStatus   = errors.New("unexpected HTTP status code")
	ErrFileSystem   = errors.New("filesystem error")
	ErrHttpRequest  = errors.New("HTTP request creation/execution error")
)

// Progress is a snapshot of an in-flight direct download, shaped for the
// sidecar file's downloadingData block.
type Progress struct {
	// "0.00" through "100.00"; "0.00" when total size is unknown.
	PercentCompleted string
	// Human speed string, e.g. "1.23 MB/s".
	Speed string
	// Human ETA, empty when total size is unknown.
	ETA string

	BytesWritten uint64
	TotalBytes   uint64
}

// ProgressFunc receives throttled progress updates during a download.
type ProgressFunc func(Progress)

// Downloader performs direct in-process HTTP downloads for providers that
// need no external helper, reporting progress to the caller.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	return &Downloader{client: client}
}

// progressWriter wraps helpers.CounterWriter and calls onProgress at most
// once per interval.
type progressWriter struct {
	counter    *helpers.CounterWriter
	total      uint64
	started    time.Time
	lastReport time.Time
	interval   time.Duration
	onProgress ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.counter.Write(p)
	if err != nil {
		return n, err
	}
	if pw.onProgress != nil && time.Since(pw.lastReport) >= pw.interval {
		pw.lastReport = time.Now()
		pw.onProgress(pw.snapshot())
	}
	return n, nil
}

func (pw *progressWriter) snapshot() Progress {
	written := pw.counter.Total
	elapsed := time.Since(pw.started).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(written) / elapsed
	}

	prog := Progress{
		PercentCompleted: "0.00",
		Speed:            fmt.Sprintf("%s/s", helpers.BytesToSize(uint64(speed))),
		BytesWritten:     written,
		TotalBytes:       pw.total,
	}
	if pw.total > 0 {
		pct := float64(written) / float64(pw.total) * 100
		if pct > 100 {
			pct = 100
		}
		prog.PercentCompleted = strconv.FormatFloat(pct, 'f', 2, 64)
		if speed > 0 && written < pw.total {
			remaining := time.Duration(float64(pw.total-written)/speed) * time.Second
			prog.ETA = remaining.Round(time.Second).String()
		}
	}
	return prog
}

// DownloadFile downloads url into targetDir, verifying hashes when provided
// and honoring the Content-Disposition filename when the server sends one.
// Returns the final file path. The partial file never lands at its final
// name: data goes to a temp file first and is renamed on success.
func (d *Downloader) DownloadFile(targetDir, url string, hashes models.Hashes, onProgress ProgressFunc) (string, error) {
	if !helpers.CheckAndMakeDir(targetDir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating download request for %s: %v", ErrHttpRequest, url, err)
	}

	log.Infof("Attempting to download from URL: %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	// Prefer the filename the server declares; fall back to the URL's base.
	fileName := filepath.Base(req.URL.Path)
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			fileName = filepath.Base(params["filename"])
			log.Infof("Received filename from Content-Disposition: %s", fileName)
		}
	}
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "download.bin"
	}
	finalPath := filepath.Join(targetDir, fileName)

	tempFile, err := os.CreateTemp(targetDir, fileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file in %s: %v", ErrFileSystem, targetDir, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)

	pw := &progressWriter{
		counter:    &helpers.CounterWriter{Writer: tempFile},
		total:      size,
		started:    time.Now(),
		interval:   500 * time.Millisecond,
		onProgress: onProgress,
	}

	log.Infof("Downloading to %s (Target: %s, Size: %s)...", tempFile.Name(), finalPath, helpers.BytesToSize(size))
	if _, err = io.Copy(pw, resp.Body); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temp file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	hashesProvided := hashes.SHA256 != "" || hashes.BLAKE3 != "" || hashes.CRC32 != ""
	if hashesProvided {
		if !helpers.CheckHash(tempFile.Name(), hashes) {
			log.Errorf("Hash mismatch for downloaded file: %s", tempFile.Name())
			return "", ErrHashMismatch
		}
		log.Infof("Hash verified for %s.", tempFile.Name())
	}

	if err = os.Rename(tempFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: renaming temporary file %s to %s: %v", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false

	if onProgress != nil {
		final := pw.snapshot()
		final.PercentCompleted = "100.00"
		final.ETA = "0s"
		onProgress(final)
	}

	log.Infof("Successfully downloaded %s", finalPath)
	return finalPath, nil
}
