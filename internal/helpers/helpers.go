package helpers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"strings"

	"go-ascendara-launcher/internal/models"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// CheckHash verifies a file against provided hashes (BLAKE3, CRC32, SHA256).
// It returns true if any of the hashes match.
func CheckHash(filepath string, hashes models.Hashes) bool {
	if _, err := os.Stat(filepath); err == nil {
		file, err := os.ReadFile(filepath)
		if err != nil {
			log.WithError(err).Errorf("Error reading file %s for hash check", filepath)
			return false
		}

		if hashes.BLAKE3 != "" {
			blake3Hash := blake3.Sum256(file)
			calculated := strings.ToUpper(hex.EncodeToString(blake3Hash[:]))
			expected := strings.ToUpper(strings.TrimSpace(hashes.BLAKE3))
			if calculated == expected {
				log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", filepath)
				return true
			}
		}

		if hashes.CRC32 != "" {
			crc32Hasher := crc32.NewIEEE()
			if _, err := io.Copy(crc32Hasher, bytes.NewReader(file)); err != nil {
				log.WithError(err).Warnf("Error calculating CRC32 hash for %s", filepath)
			} else {
				calculated := fmt.Sprintf("%x", crc32Hasher.Sum32())
				expected := strings.ToLower(strings.TrimSpace(hashes.CRC32))
				if expected == calculated {
					log.WithField("hash", "CRC32").Debugf("Hash match for %s", filepath)
					return true
				}
			}
		}

		if hashes.SHA256 != "" {
			sha256Hasher := sha256.New()
			sha256Hasher.Write(file)
			calculated := hex.EncodeToString(sha256Hasher.Sum(nil))
			expected := strings.ToLower(strings.TrimSpace(hashes.SHA256))
			if expected == calculated {
				log.WithField("hash", "SHA256").Debugf("Hash match for %s", filepath)
				return true
			}
		}
	} else if !os.IsNotExist(err) {
		log.WithError(err).Warnf("Error stating file %s during hash check", filepath)
	}

	return false
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// It's used to compute download progress.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// IsSafeGameName reports whether a game name is usable as a directory name:
// no path separators, no traversal, no reserved characters. The name doubles
// as the game's identity, so rejection happens before any disk write.
func IsSafeGameName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\:*?"<>|`) {
		return false
	}
	return strings.TrimSpace(name) == name
}

// ConvertToSlug converts a string into a filesystem-friendly slug, used for
// export artifact names (torrent files, magnet text files).
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")
	str = strings.Trim(str, "_-")

	return str
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
