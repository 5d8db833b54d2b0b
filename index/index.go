package index

import (
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "ascendara.bleve"

// Item represents one library entry in the search index. All fields are
// indexed and searchable by their lowercase JSON tag names (e.g. query
// '+version:1.2' or '+custom:true').
type Item struct {
	ID         string `json:"id"`                   // Unique ID (e.g., game_<slug>, custom_<slug>)
	Type       string `json:"type"`                 // "game" or "custom_game"
	Name       string `json:"name"`                 // Display name of the game
	Version    string `json:"version,omitempty"`    // Installed version string
	Executable string `json:"executable,omitempty"` // Configured executable path
	Directory  string `json:"directory,omitempty"`  // Install directory
	Online     bool   `json:"online"`               // Online-fix build
	DLC        bool   `json:"dlc"`                  // Includes DLC
	Custom     bool   `json:"custom"`               // Manually added game
	State      string `json:"state,omitempty"`      // Last classified state (installed, downloading, ...)
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	return os.RemoveAll(indexPath)
}
