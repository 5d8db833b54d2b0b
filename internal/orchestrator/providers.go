package orchestrator

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go-ascendara-launcher/internal/models"
)

// ErrInvalidLink is returned when a link fails the selected provider's
// validation, before any process is spawned.
var ErrInvalidLink = errors.New("invalid link for this provider")

// Provider names.
const (
	ProviderGoFile  = "gofile"
	ProviderDirect  = "direct"
	ProviderGeneric = "generic"
)

// Dispatched is the outcome of provider dispatch for one link.
type Dispatched struct {
	Provider string
	// Link to hand to the helper, possibly rewritten (GoFile links are
	// forced to https).
	Link string
	// Helper executable to spawn; empty for the direct provider, which
	// downloads in-process.
	HelperPath string
}

// provider is one entry of the ordered dispatch table. First match wins; the
// table is additive, new sources get a new row rather than new conditionals.
type provider struct {
	name     string
	match    func(cfg *models.Config, link string) bool
	dispatch func(cfg *models.Config, link string) Dispatched
}

var gofilePattern = regexp.MustCompile(`gofile\.io/(d|download)/\w+`)

var providers = []provider{
	{
		name: ProviderGoFile,
		match: func(cfg *models.Config, link string) bool {
			return strings.Contains(link, "gofile.io")
		},
		dispatch: func(cfg *models.Config, link string) Dispatched {
			return Dispatched{
				Provider:   ProviderGoFile,
				Link:       forceHTTPS(link),
				HelperPath: cfg.GoFileHelperPath,
			}
		},
	},
	{
		name: ProviderDirect,
		match: func(cfg *models.Config, link string) bool {
			for _, host := range cfg.DirectHosts {
				if host != "" && strings.Contains(link, host) {
					return true
				}
			}
			return false
		},
		dispatch: func(cfg *models.Config, link string) Dispatched {
			return Dispatched{Provider: ProviderDirect, Link: link}
		},
	},
	{
		// Fallback: everything else goes to the generic helper unmodified.
		name: ProviderGeneric,
		match: func(cfg *models.Config, link string) bool {
			return true
		},
		dispatch: func(cfg *models.Config, link string) Dispatched {
			return Dispatched{
				Provider:   ProviderGeneric,
				Link:       link,
				HelperPath: cfg.DownloadHelperPath,
			}
		},
	},
}

// Dispatch selects the provider for a raw link by substring match, in table
// order, and returns the (possibly rewritten) link plus helper selection.
func Dispatch(cfg *models.Config, link string) Dispatched {
	for _, p := range providers {
		if p.match(cfg, link) {
			return p.dispatch(cfg, link)
		}
	}
	// Unreachable: the generic row matches everything.
	return Dispatched{Provider: ProviderGeneric, Link: link, HelperPath: cfg.DownloadHelperPath}
}

// forceHTTPS rewrites a link to carry an https:// prefix regardless of how it
// was submitted ("gofile.io/...", "//gofile.io/...", "http://gofile.io/...").
func forceHTTPS(link string) string {
	trimmed := link
	for _, prefix := range []string{"https://", "http://", "//"} {
		if strings.HasPrefix(trimmed, prefix) {
			trimmed = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}
	return "https://" + trimmed
}

// ValidateLink checks a link against the dispatched provider's expected
// shape. This runs before any directory is created or process spawned.
func ValidateLink(d Dispatched) error {
	switch d.Provider {
	case ProviderGoFile:
		if !gofilePattern.MatchString(d.Link) {
			return fmt.Errorf("%w: %s does not look like a GoFile download link", ErrInvalidLink, d.Link)
		}
	default:
		u, err := url.Parse(d.Link)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: cannot parse %q", ErrInvalidLink, d.Link)
		}
	}
	return nil
}

// HelperArgs builds the positional argument list for the download helper:
// [link, game, online, dlc, version, size, downloadRootDir].
func HelperArgs(d Dispatched, req StartRequest, downloadDir string) []string {
	return []string{
		d.Link,
		req.Game,
		strconv.FormatBool(req.Online),
		strconv.FormatBool(req.DLC),
		req.Version,
		req.Size,
		downloadDir,
	}
}

// RetryArgs builds the positional argument list for retry-extract mode:
// ["retryfolder", game, online, dlc, version, selectedPath, itemName].
func RetryArgs(game string, online, dlc bool, version, selectedPath, itemName string) []string {
	return []string{
		"retryfolder",
		game,
		strconv.FormatBool(online),
		strconv.FormatBool(dlc),
		version,
		selectedPath,
		itemName,
	}
}
