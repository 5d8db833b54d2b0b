package cmd

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/api"
	"go-ascendara-launcher/internal/imagecache"
)

func init() {
	rootCmd.AddCommand(imageCmd)

	imageCmd.Flags().StringP("output", "o", "", "File to write the image to (default: <id> plus content-type extension)")
	imageCmd.Flags().Bool("no-cache", false, "Bypass the local image cache")
}

var imageCmd = &cobra.Command{
	Use:   "image <image-id>",
	Short: "Fetch a cover image from the API",
	Long: `Fetches the given cover image, preferring the local cache when one is
configured. Fresh fetches are written back into the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runImage,
}

func runImage(cmd *cobra.Command, args []string) error {
	imgID := args[0]
	output, _ := cmd.Flags().GetString("output")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	var cache *imagecache.Cache
	if !noCache {
		cache = openImageCache()
		if cache != nil {
			defer cache.Close()
		}
	}

	var data []byte
	var contentType string
	if cache != nil {
		if entry, err := cache.Get(imgID); err == nil {
			log.Debugf("Image %s served from cache", imgID)
			data, contentType = entry.Data, entry.ContentType
		} else if !errors.Is(err, imagecache.ErrNotFound) {
			log.WithError(err).Warn("Image cache read failed, fetching from API")
		}
	}

	if data == nil {
		var err error
		data, contentType, err = newApiClient().GetImage(imgID)
		if err != nil {
			log.WithError(err).Errorf("Failed to fetch image %s", imgID)
			return err
		}
		if cache != nil {
			if err := cache.Put(imgID, imagecache.Entry{ContentType: contentType, Data: data}); err != nil {
				log.WithError(err).Warn("Failed to cache fetched image")
			}
		}
	}

	if output == "" {
		output = imgID + api.ExtForContentType(contentType)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return err
	}
	log.Infof("Wrote %s (%d bytes, %s)", output, len(data), contentType)
	return nil
}
