package imagecache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when an image is not in the cache.
var ErrNotFound = errors.New("image not cached")

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// Entry is one cached image: the raw bytes plus the content-type the API
// reported, which decides the file extension when materialized to disk.
type Entry struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Cache is a local bitcask-backed store of cover and card images keyed by the
// remote image ID, so the UI does not refetch art on every library render.
type Cache struct {
	db           *bitcask.Bitcask
	sync.RWMutex // guards db across concurrent poll/render paths
}

// Open initializes the cache at path, creating parent directories as needed.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create image cache directory %s: %w", dir, err)
		}
	}

	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image cache at %s: %w", path, err)
	}
	log.Debugf("Image cache opened at %s", path)
	return &Cache{db: db}, nil
}

// Close safely closes the cache.
func (c *Cache) Close() error {
	c.Lock()
	defer c.Unlock()
	return c.db.Close()
}

func key(imgID string) []byte {
	return []byte("img_" + imgID)
}

// Has checks whether an image is cached.
func (c *Cache) Has(imgID string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.db.Has(key(imgID))
}

// Get retrieves a cached image, decompressing if necessary.
func (c *Cache) Get(imgID string) (Entry, error) {
	c.RLock()
	value, err := c.db.Get(key(imgID))
	c.RUnlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("error getting image %s: %w", imgID, err)
	}

	value, err = decompressIfGzipped(value)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, fmt.Errorf("error decoding cached image %s: %w", imgID, err)
	}
	return entry, nil
}

// Put compresses and stores an image.
func (c *Cache) Put(imgID string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error encoding image %s: %w", imgID, err)
	}
	compressed, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing image %s: %w", imgID, err)
	}

	c.Lock()
	err = c.db.Put(key(imgID), compressed)
	c.Unlock()
	if err != nil {
		return fmt.Errorf("error putting image %s: %w", imgID, err)
	}
	return nil
}

// Delete removes an image from the cache. Missing keys are not an error.
func (c *Cache) Delete(imgID string) error {
	c.Lock()
	err := c.db.Delete(key(imgID))
	c.Unlock()
	if err != nil && !errors.Is(err, bitcask.ErrKeyNotFound) {
		return fmt.Errorf("error deleting image %s: %w", imgID, err)
	}
	return nil
}

// --- Compression Helpers ---

func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		gReader, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			log.WithError(err).Warn("Error creating gzip reader for cached value, returning raw data")
			return value, nil
		}
		defer gReader.Close()

		decompressed, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warn("Error decompressing cached value, returning raw data")
			return value, nil
		}
		return decompressed, nil
	}
	return value, nil
}

func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data: %w", err)
	}
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
