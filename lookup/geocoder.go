// Package lookup answers "where is this number" queries from a compiled
// output directory.
package lookup

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/INLOpen/phoneprefix/cache"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/manifest"
	"github.com/INLOpen/phoneprefix/source"
	"github.com/INLOpen/phoneprefix/sstable"
)

var (
	// ErrUnknownShard is returned by Dump for a shard the manifest does not list.
	ErrUnknownShard = errors.New("shard not listed in manifest")
	// ErrInvalidNumber is returned for input that holds no digits.
	ErrInvalidNumber = errors.New("number has no digits")
)

const (
	DefaultShardCacheCapacity = 64
	DefaultBlockCacheCapacity = 1024
)

// Options configures a Geocoder.
type Options struct {
	DataDir            string
	ShardExtension     string
	ShardCacheCapacity int
	BlockCacheCapacity int
	Tracer             trace.Tracer
	Logger             *slog.Logger
}

// Result is the answer to one query.
type Result struct {
	// Description is empty when no language had a usable entry.
	Description string
	// Language is the language the description came from.
	Language core.LanguageCode
	Prefix   string
	Shard    core.ShardID
}

// Found reports whether a description was found.
func (r Result) Found() bool {
	return r.Description != ""
}

// Geocoder serves lookups. Shards are opened on demand and kept in an LRU
// cache; it is safe for concurrent use.
type Geocoder struct {
	dir      string
	ext      string
	manifest *manifest.Manifest
	format   manifest.Format

	shards *cache.LRUCache[*sstable.Shard]
	blocks *cache.LRUCache[[]byte]
	loads  singleflight.Group

	tracer trace.Tracer
	logger *slog.Logger

	shardHits, shardMisses *expvar.Int
}

// Open reads the manifest of opts.DataDir.
func Open(opts Options) (*Geocoder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "Geocoder")

	m, format, err := manifest.Read(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if opts.ShardExtension == "" {
		opts.ShardExtension = core.DefaultShardExtension
	}
	if opts.ShardCacheCapacity <= 0 {
		opts.ShardCacheCapacity = DefaultShardCacheCapacity
	}
	if opts.BlockCacheCapacity < 0 {
		opts.BlockCacheCapacity = 0
	}

	g := &Geocoder{
		dir:         opts.DataDir,
		ext:         opts.ShardExtension,
		manifest:    m,
		format:      format,
		blocks:      cache.NewLRUCache[[]byte](opts.BlockCacheCapacity, nil),
		tracer:      opts.Tracer,
		logger:      logger,
		shardHits:   new(expvar.Int),
		shardMisses: new(expvar.Int),
	}
	g.shards = cache.NewLRUCache[*sstable.Shard](opts.ShardCacheCapacity, func(key string, s *sstable.Shard) {
		if err := s.Close(); err != nil && !errors.Is(err, sstable.ErrClosed) {
			g.logger.Warn("Failed to close evicted shard.", "shard", key, "error", err)
		}
	})
	g.shards.SetMetrics(g.shardHits, g.shardMisses)
	logger.Info("Geocoder opened.", "dir", opts.DataDir, "manifest", format, "languages", len(m.Languages()), "shards", m.Len())
	return g, nil
}

// Manifest returns the manifest the geocoder serves.
func (g *Geocoder) Manifest() *manifest.Manifest {
	return g.manifest
}

// Describe returns the description of number in lang. Languages are tried in
// order: lang, its base language (zh for zh_Hant), then English. A blank
// entry in a language means "same as English" and moves on to the next one.
func (g *Geocoder) Describe(lang core.LanguageCode, number string) (Result, error) {
	digits := NormalizeNumber(number)
	if digits == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	for _, l := range g.fallbackChain(lang) {
		res, err := g.describeIn(l, digits)
		if err != nil {
			return Result{}, err
		}
		if res.Found() {
			return res, nil
		}
	}
	return Result{}, nil
}

func (g *Geocoder) fallbackChain(lang core.LanguageCode) []core.LanguageCode {
	chain := []core.LanguageCode{lang}
	if base, ok := source.BaseLanguage(lang); ok {
		chain = append(chain, base)
	}
	if !lang.IsEnglish() {
		chain = append(chain, core.EnglishLanguage)
	}
	return chain
}

// describeIn finds the longest matching prefix of digits over every shard of
// lang that could hold it.
func (g *Geocoder) describeIn(lang core.LanguageCode, digits string) (Result, error) {
	var best Result
	found := false
	for _, bucket := range g.manifest.Buckets(lang) {
		if !bucket.IsCatchAll() && !bucket.Matches(digits) {
			continue
		}
		id := core.ShardID{Language: lang, Bucket: bucket}
		prefix, value, err := g.longestPrefix(id, digits)
		if errors.Is(err, sstable.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if !found || len(prefix) > len(best.Prefix) {
			best = Result{Description: string(value), Language: lang, Prefix: prefix, Shard: id}
			found = true
		}
	}
	return best, nil
}

// longestPrefix queries one shard. If a concurrent eviction closed the cached
// shard mid-query, the file is opened privately for this one query.
func (g *Geocoder) longestPrefix(id core.ShardID, digits string) (string, []byte, error) {
	shard, err := g.shard(id)
	if err != nil {
		return "", nil, err
	}
	prefix, value, err := shard.LongestPrefix(digits)
	if !errors.Is(err, sstable.ErrClosed) {
		return prefix, value, err
	}
	private, err := g.open(id)
	if err != nil {
		return "", nil, err
	}
	defer private.Close()
	return private.LongestPrefix(digits)
}

func (g *Geocoder) shard(id core.ShardID) (*sstable.Shard, error) {
	key := id.String()
	if s, ok := g.shards.Get(key); ok {
		return s, nil
	}
	v, err, _ := g.loads.Do(key, func() (interface{}, error) {
		s, err := g.open(id)
		if err != nil {
			return nil, err
		}
		g.shards.Put(key, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sstable.Shard), nil
}

func (g *Geocoder) open(id core.ShardID) (*sstable.Shard, error) {
	s, err := sstable.Load(sstable.LoadOptions{
		FilePath:   filepath.Join(g.dir, id.RelPath(g.ext)),
		BlockCache: g.blocks,
		Tracer:     g.tracer,
		Logger:     g.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open shard %s: %w", id, err)
	}
	return s, nil
}

// Dump returns every entry of one shard.
func (g *Geocoder) Dump(lang core.LanguageCode, bucket core.BucketPrefix) (*core.PrefixTable, error) {
	if !g.manifest.Has(lang, bucket) {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownShard, lang, bucket)
	}
	shard, err := g.open(core.ShardID{Language: lang, Bucket: bucket})
	if err != nil {
		return nil, err
	}
	defer shard.Close()
	return shard.ReadAll()
}

// ManifestFormat returns the format of the manifest that was read.
func (g *Geocoder) ManifestFormat() manifest.Format {
	return g.format
}

// ShardCacheHitRate returns the hit rate of the open-shard cache.
func (g *Geocoder) ShardCacheHitRate() float64 {
	return g.shards.GetHitRate()
}

// Close closes every open shard.
func (g *Geocoder) Close() error {
	g.shards.Clear()
	g.blocks.Clear()
	return nil
}

// NormalizeNumber keeps the digits of number, dropping a leading '+' and any
// separators.
func NormalizeNumber(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
