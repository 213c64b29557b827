package fallback

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/source"
)

// EnglishCache holds the English tables of one compilation run, keyed by
// country code, so each English file is parsed once no matter how many
// languages share the country. Concurrent misses for the same country are
// collapsed into a single read.
type EnglishCache struct {
	inputDir string
	logger   *slog.Logger

	mu     sync.RWMutex
	tables map[core.CountryCode]*cacheEntry
	group  singleflight.Group

	loads int
}

type cacheEntry struct {
	table  *core.PrefixTable
	exists bool
}

// NewEnglishCache creates a cache that reads <inputDir>/en/<cc>.txt on demand.
func NewEnglishCache(inputDir string, logger *slog.Logger) *EnglishCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EnglishCache{
		inputDir: inputDir,
		logger:   logger.With("component", "EnglishCache"),
		tables:   make(map[core.CountryCode]*cacheEntry),
	}
}

// Lookup returns the English table for cc. ok is false when there is no
// English sibling file. The returned table is shared and must not be mutated.
func (c *EnglishCache) Lookup(cc core.CountryCode) (*core.PrefixTable, bool, error) {
	c.mu.RLock()
	e, hit := c.tables[cc]
	c.mu.RUnlock()
	if hit {
		return e.table, e.exists, nil
	}

	v, err, _ := c.group.Do(cc.String(), func() (interface{}, error) {
		c.mu.RLock()
		e, hit := c.tables[cc]
		c.mu.RUnlock()
		if hit {
			return e, nil
		}
		e, err := c.load(cc)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tables[cc] = e
		if e.exists {
			c.loads++
		}
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	e = v.(*cacheEntry)
	return e.table, e.exists, nil
}

func (c *EnglishCache) load(cc core.CountryCode) (*cacheEntry, error) {
	path := source.TablePath(c.inputDir, core.EnglishLanguage, cc)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("No English table, compression disabled for country.", "country_code", cc)
			return &cacheEntry{}, nil
		}
		return nil, &core.MissingInputFileError{Path: path, Err: err}
	}
	table, err := source.ReadTable(path)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Loaded English table.", "country_code", cc, "entries", table.Len())
	return &cacheEntry{table: table, exists: true}, nil
}

// Prime stores an English table that was already read, e.g. while compiling
// the English file itself. The table is cloned, so later changes by the
// caller are not observed.
func (c *EnglishCache) Prime(cc core.CountryCode, table *core.PrefixTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[cc]; ok {
		return
	}
	c.tables[cc] = &cacheEntry{table: table.Clone(), exists: true}
}

// Len returns the number of countries cached, including negative entries.
func (c *EnglishCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

// Loads returns how many English files were read from disk.
func (c *EnglishCache) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}
