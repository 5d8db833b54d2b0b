package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited = errors.New("API rate limit exceeded")
	ErrNotFound    = errors.New("API resource not found")
	ErrServerError = errors.New("API server error")
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
)

// Client talks to the fixed remote catalog/image API. Only two endpoints
// matter to this subsystem: cover image fetch and the download counter.
type Client struct {
	BaseUrl    string
	HttpClient *http.Client
}

// NewClient creates an API client. A nil httpClient gets a sane default.
func NewClient(baseUrl string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseUrl: baseUrl, HttpClient: httpClient}
}

// GetImage fetches GET {base}/image/{imgID} and returns the raw bytes plus
// the response content-type, which the caller uses to pick the cover file's
// extension. Retries transient failures with backoff.
func (c *Client) GetImage(imgID string) ([]byte, string, error) {
	reqURL := fmt.Sprintf("%s/image/%s", c.BaseUrl, imgID)

	var lastErr error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := c.HttpClient.Get(reqURL)
		if err != nil {
			lastErr = fmt.Errorf("fetching image %s (attempt %d/%d): %w", imgID, attempt+1, maxRetries, err)
			if attempt < maxRetries-1 {
				log.WithError(err).Warnf("Retrying image fetch (%d/%d)...", attempt+1, maxRetries)
				time.Sleep(time.Duration(attempt+1) * 2 * time.Second)
				continue
			}
			break
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, "", fmt.Errorf("reading image response for %s: %w", imgID, readErr)
			}
			return body, resp.Header.Get("Content-Type"), nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, "", fmt.Errorf("%w: image %s", ErrNotFound, imgID)
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = ErrRateLimited
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, "", fmt.Errorf("%w: received status %d for image %s", ErrHttpStatus, resp.StatusCode, imgID)
		}

		if attempt < maxRetries-1 {
			sleep := time.Duration(attempt+1) * 3 * time.Second
			log.WithError(lastErr).Warnf("Retrying image fetch (%d/%d) after %s...", attempt+1, maxRetries, sleep)
			time.Sleep(sleep)
		}
	}
	return nil, "", lastErr
}

// ReportDownload posts the download-counter increment for a game. Callers
// treat any failure as non-fatal; this method just reports it.
func (c *Client) ReportDownload(game string) error {
	payload, err := json.Marshal(map[string]string{"game": game})
	if err != nil {
		return fmt.Errorf("encoding stats payload: %w", err)
	}
	reqURL := fmt.Sprintf("%s/stats/download", c.BaseUrl)
	resp, err := c.HttpClient.Post(reqURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting download stat for %s: %w", game, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: received status %d posting download stat", ErrHttpStatus, resp.StatusCode)
	}
	return nil
}

// ExtForContentType maps an image content-type to the cover file extension.
// Unknown types get no extension at all rather than a guess.
func ExtForContentType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
