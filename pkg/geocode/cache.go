package geocode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// lookupCache is the persistent name+postal-code cache used by the Nominatim
// provider. Entries are written through to disk after every addition; misses
// are never stored so a later run can retry with fresher upstream data.
type lookupCache struct {
	path    string
	entries map[string]Result
}

func cacheKey(city, postalCode string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(city), postalCode)
}

// loadLookupCache reads the cache file, starting empty if it is absent or
// unreadable. A corrupt cache only costs re-lookups, never a failed run.
func loadLookupCache(path string) *lookupCache {
	c := &lookupCache{path: path, entries: map[string]Result{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("geocode: unreadable lookup cache, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		zap.L().Warn("geocode: corrupt lookup cache, starting empty",
			zap.String("path", path), zap.Error(err))
		c.entries = map[string]Result{}
		return c
	}
	zap.L().Info("geocode: lookup cache loaded",
		zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c
}

func (c *lookupCache) get(city, postalCode string) (*Result, bool) {
	entry, ok := c.entries[cacheKey(city, postalCode)]
	if !ok {
		return nil, false
	}
	entry.Source = "cache"
	return &entry, true
}

// put stores a successful lookup and flushes the whole cache to disk.
func (c *lookupCache) put(city, postalCode string, result Result) {
	c.entries[cacheKey(city, postalCode)] = result
	if err := c.save(); err != nil {
		zap.L().Warn("geocode: saving lookup cache failed", zap.Error(err))
	}
}

func (c *lookupCache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return eris.Wrap(err, "geocode: create cache dir")
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "geocode: marshal lookup cache")
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return eris.Wrap(err, "geocode: write lookup cache")
	}
	return nil
}

func (c *lookupCache) size() int { return len(c.entries) }

// CachedLookups reports how many entries the Nominatim lookup cache at path
// holds. Absent or unreadable files count as zero.
func CachedLookups(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var entries map[string]Result
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0
	}
	return len(entries)
}

// CachedCommunes reports how many gazetteer entries the geo.api.gouv.fr cache
// at path holds. Absent or unreadable files count as zero.
func CachedCommunes(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var communes []Commune
	if err := json.Unmarshal(data, &communes); err != nil {
		return 0
	}
	return len(communes)
}
