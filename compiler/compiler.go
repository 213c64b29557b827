// Package compiler turns a directory of per-language geocoding tables into
// sharded lookup files and a manifest.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/phoneprefix/compressors"
	"github.com/INLOpen/phoneprefix/config"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/diag"
	"github.com/INLOpen/phoneprefix/expander"
	"github.com/INLOpen/phoneprefix/fallback"
	"github.com/INLOpen/phoneprefix/hooks"
	"github.com/INLOpen/phoneprefix/manifest"
	"github.com/INLOpen/phoneprefix/memtable"
	"github.com/INLOpen/phoneprefix/partition"
	"github.com/INLOpen/phoneprefix/source"
	"github.com/INLOpen/phoneprefix/sstable"
	"github.com/INLOpen/phoneprefix/sys"
)

const defaultLockTimeout = 5 * time.Second

// Options configures a Compiler.
type Options struct {
	InputDir  string
	OutputDir string
	// Expand enables bucket expansion for the countries in Policy.
	Expand  bool
	Workers int
	Policy  expander.Policy
	OnMiss  partition.MissPolicy

	Compression       core.CompressionType
	BlockSize         int
	BloomFilterFPRate float64
	ShardExtension    string
	ManifestFormat    manifest.Format

	// ReportFile is resolved against OutputDir when relative. Empty disables the report.
	ReportFile       string
	MinFreeDiskBytes uint64
	LockTimeout      time.Duration

	WriterFactory core.ShardWriterFactory
	HookManager   hooks.HookManager
	Tracer        trace.Tracer
	Metrics       *Metrics
	Logger        *slog.Logger
}

// OptionsFromConfig maps a loaded configuration onto compiler options.
// Hooks, tracer, metrics and logger are left for the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	onMiss, err := partition.ParseMissPolicy(cfg.Partition.OnMiss)
	if err != nil {
		return Options{}, err
	}
	compression, ok := core.ParseCompressionType(cfg.Shard.Compression)
	if !ok {
		return Options{}, fmt.Errorf("unknown compression '%s'", cfg.Shard.Compression)
	}
	format, err := manifest.ParseFormat(cfg.Manifest.Format)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		InputDir:          cfg.InputDir,
		OutputDir:         cfg.OutputDir,
		Expand:            cfg.ExpandCountries,
		Workers:           cfg.Workers,
		Policy:            cfg.ExpansionPolicy(),
		OnMiss:            onMiss,
		Compression:       compression,
		BlockSize:         cfg.Shard.BlockSizeBytes,
		BloomFilterFPRate: cfg.Shard.BloomFilterFPRate,
		ShardExtension:    cfg.Shard.Extension,
		ManifestFormat:    format,
		MinFreeDiskBytes:  cfg.Preflight.MinFreeDiskBytes,
		LockTimeout:       config.ParseDuration(cfg.Lock.Timeout, defaultLockTimeout, nil),
	}
	if cfg.Report.Enabled {
		opts.ReportFile = cfg.Report.File
	}
	return opts, nil
}

// Compiler runs the build pipeline. A Compiler may be reused for several
// runs but not concurrently.
type Compiler struct {
	opts       Options
	compressor core.Compressor
	hooks      hooks.HookManager
	tracer     trace.Tracer
	metrics    *Metrics
	logger     *slog.Logger
}

// New validates opts, fills defaults and returns a Compiler.
func New(opts Options) (*Compiler, error) {
	if opts.InputDir == "" {
		return nil, errors.New("compiler: input directory must be set")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("compiler: output directory must be set")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Workers > 4*runtime.NumCPU() {
		opts.Workers = 4 * runtime.NumCPU()
	}
	if opts.Policy.Countries == nil {
		opts.Policy = expander.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("compiler: invalid expansion policy: %w", err)
	}
	if opts.ShardExtension == "" {
		opts.ShardExtension = core.DefaultShardExtension
	}
	if opts.ManifestFormat == "" {
		opts.ManifestFormat = manifest.FormatBinary
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.WriterFactory == nil {
		opts.WriterFactory = sstable.NewWriter
	}

	compressor, err := compressors.ForType(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "Compiler")

	hm := opts.HookManager
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("phoneprefix/compiler")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(false, "")
	}

	return &Compiler{
		opts:       opts,
		compressor: compressor,
		hooks:      hm,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Metrics returns the metrics the compiler updates.
func (c *Compiler) Metrics() *Metrics {
	return c.metrics
}

// fileResult is what one worker hands back for one input file.
type fileResult struct {
	file   FileReport
	shards []ShardReport
}

// Run compiles every discovered input table. On success the manifest lists
// exactly the shards written by this run. On failure no manifest is left in
// the output directory.
func (c *Compiler) Run(ctx context.Context) (report *Report, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "Compiler.Run", trace.WithAttributes(
		attribute.String("input_dir", c.opts.InputDir),
		attribute.String("output_dir", c.opts.OutputDir),
		attribute.Bool("expand", c.opts.Expand),
		attribute.Int("workers", c.opts.Workers),
	))
	defer span.End()

	c.metrics.RunsTotal.Add(1)
	var inputs []core.InputFile
	defer func() {
		elapsed := time.Since(start)
		c.metrics.LastRunDurationSeconds.Set(elapsed.Seconds())
		post := hooks.PostCompileRunPayload{
			InputDir:  c.opts.InputDir,
			OutputDir: c.opts.OutputDir,
			Files:     len(inputs),
			Duration:  elapsed,
			Error:     err,
		}
		if err != nil {
			c.metrics.RunErrorsTotal.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "compile_run_failed")
			c.logger.Error("Compilation failed.", "error", err, "duration", elapsed)
		} else {
			post.Shards = report.Totals.Shards
			post.Entries = report.Totals.Entries
			c.logger.Info("Compilation finished.", "files", len(inputs), "shards", post.Shards, "entries", post.Entries, "duration", elapsed)
		}
		_ = c.hooks.Trigger(context.WithoutCancel(ctx), hooks.NewPostCompileRunEvent(post))
	}()

	// 1. Take the output directory lock. Two builds into one directory would
	// interleave shards and race on the manifest.
	lock, err := sys.AcquireDirLock(c.opts.OutputDir, core.LockFileName, c.opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to lock output directory: %w", err)
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			c.logger.Warn("Failed to release output directory lock.", "path", lock.Path(), "error", relErr)
		}
	}()

	// 2. Drop any manifest of a previous run so a failure here cannot leave a
	// stale manifest next to fresh shards.
	if err := manifest.Remove(c.opts.OutputDir); err != nil {
		return nil, err
	}
	// Shards of a previous run are not listed in the new manifest and would
	// stay loadable, so they go too.
	if err := c.removeStaleShards(); err != nil {
		return nil, err
	}

	// 3. Preflight: the output volume must have room for the shards.
	if err := diag.CheckFreeDisk(c.opts.OutputDir, c.opts.MinFreeDiskBytes); err != nil {
		return nil, err
	}

	// 4. Discover the input tables.
	inputs, err = source.Discover(c.opts.InputDir, c.logger)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("files", len(inputs)))
	c.logger.Info("Starting compilation.", "input_dir", c.opts.InputDir, "output_dir", c.opts.OutputDir, "files", len(inputs), "workers", c.opts.Workers, "expand", c.opts.Expand)

	if err := c.hooks.Trigger(ctx, hooks.NewPreCompileRunEvent(hooks.CompileRunPayload{
		InputDir:  c.opts.InputDir,
		OutputDir: c.opts.OutputDir,
		Inputs:    inputs,
		Expand:    c.opts.Expand,
	})); err != nil {
		return nil, fmt.Errorf("compilation cancelled by pre-hook: %w", err)
	}

	// 5. Compile every file. Results land in discovery order regardless of
	// the worker count.
	english := fallback.NewEnglishCache(c.opts.InputDir, c.logger)
	results := make([]fileResult, len(inputs))
	if c.opts.Workers == 1 {
		for i, in := range inputs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := c.compileFile(ctx, english, in, i, len(inputs))
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Workers)
		for i, in := range inputs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := c.compileFile(gctx, english, in, i, len(inputs))
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	c.metrics.EnglishTablesLoaded.Add(int64(english.Loads()))

	// 6. Assemble and persist the manifest.
	builder := manifest.NewBuilder()
	report = &Report{
		Notice:      core.GeneratedNotice,
		GeneratedAt: start.UTC(),
		InputDir:    c.opts.InputDir,
		OutputDir:   c.opts.OutputDir,
		Expand:      c.opts.Expand,
		Workers:     c.opts.Workers,
		Compression: c.opts.Compression.String(),
		Manifest:    c.opts.ManifestFormat.FileName(),
	}
	for _, res := range results {
		report.Files = append(report.Files, res.file)
		for _, s := range res.shards {
			if !builder.Add(s.Language, s.Bucket) {
				return nil, fmt.Errorf("shard %s written twice", s.ID())
			}
			report.Shards = append(report.Shards, s)
		}
	}
	m := builder.Build()
	if err := manifest.Write(c.opts.OutputDir, m, c.opts.ManifestFormat); err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(c.opts.OutputDir, c.opts.ManifestFormat.FileName())
	c.hooks.Trigger(ctx, hooks.NewPostManifestWriteEvent(hooks.PostManifestWritePayload{
		Path:   manifestPath,
		Shards: m.Len(),
	}))

	// 7. Summarize and, if asked, persist the build report.
	if report.ManifestDigest, _, err = digestFile(manifestPath); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	report.Host = diag.CollectHostStats(c.opts.OutputDir)
	if err := report.summarize(); err != nil {
		return nil, err
	}
	if c.opts.ReportFile != "" {
		reportPath := c.opts.ReportFile
		if !filepath.IsAbs(reportPath) {
			reportPath = filepath.Join(c.opts.OutputDir, reportPath)
		}
		if err := report.Write(reportPath); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// compileFile reads, compresses, partitions and writes one input table.
func (c *Compiler) compileFile(ctx context.Context, english *fallback.EnglishCache, in core.InputFile, index, total int) (res fileResult, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "Compiler.compileFile", trace.WithAttributes(
		attribute.String("input", in.String()),
	))
	defer span.End()

	post := hooks.PostCompileFilePayload{Input: in, Index: index, Total: total}
	defer func() {
		post.Duration = time.Since(start)
		post.Error = err
		c.metrics.FilesTotal.Add(1)
		observeLatency(c.metrics.FileLatencyHist, post.Duration.Seconds())
		if err != nil {
			c.metrics.FileErrorsTotal.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "compile_file_failed")
		}
		c.hooks.Trigger(context.WithoutCancel(ctx), hooks.NewPostCompileFileEvent(post))
	}()

	if err := c.hooks.Trigger(ctx, hooks.NewPreCompileFileEvent(hooks.PreCompileFilePayload{Input: in, Index: index, Total: total})); err != nil {
		return res, fmt.Errorf("compilation of %s cancelled by pre-hook: %w", in, err)
	}

	info, err := os.Stat(in.Path)
	if err != nil {
		return res, &core.MissingInputFileError{Path: in.Path, Err: err}
	}
	post.SourceBytes = info.Size()

	table, err := source.ReadTable(in.Path)
	if err != nil {
		return res, err
	}
	res.file = FileReport{Input: in.String(), SourceBytes: info.Size(), EntriesRead: table.Len()}
	c.metrics.EntriesReadTotal.Add(int64(table.Len()))

	// Buckets come from the uncompressed table so every language of a
	// country lays out the same shards, even where compression empties one.
	buckets := c.opts.Policy.Buckets(table, in.CountryCode, c.opts.Expand)
	post.Buckets = buckets
	res.file.Buckets = len(buckets)

	if in.Language.IsEnglish() {
		english.Prime(in.CountryCode, table)
		removed := fallback.RemoveEmptyEnglish(table)
		res.file.EmptyEnglishRemoved = removed
		c.metrics.EmptyEnglishTotal.Add(int64(removed))
	} else {
		en, ok, err := english.Lookup(in.CountryCode)
		if err != nil {
			return res, err
		}
		if ok {
			stats := fallback.Compress(table, en)
			res.file.Removed = stats.Removed
			res.file.Blanked = stats.Blanked
			post.Removed = stats.Removed
			post.Blanked = stats.Blanked
			c.metrics.EntriesRemovedTotal.Add(int64(stats.Removed))
			c.metrics.EntriesBlankedTotal.Add(int64(stats.Blanked))
		} else {
			c.logger.Debug("No English table for country, keeping every entry.", "input", in.String())
		}
	}
	post.Entries = table.Len()

	split, err := partition.Split(table, buckets, partition.Options{
		OnMiss:      c.opts.OnMiss,
		CountryCode: in.CountryCode,
		Source:      in.String(),
		Logger:      c.logger,
	})
	if err != nil {
		return res, err
	}
	if split.Unmatched != nil {
		res.file.CatchAllEntries = split.Unmatched.Len()
		c.metrics.CatchAllEntriesTotal.Add(int64(split.Unmatched.Len()))
	}

	for _, shard := range split.All() {
		id := core.ShardID{Language: in.Language, Bucket: shard.Bucket}
		sr, err := c.writeShard(ctx, id, shard.Table)
		if err != nil {
			return res, err
		}
		res.shards = append(res.shards, sr)
	}
	c.logger.Debug("Compiled input table.", "input", in.String(), "entries", post.Entries, "removed", post.Removed, "blanked", post.Blanked, "shards", len(res.shards))
	return res, nil
}

// writeShard persists one bucket of a language. Empty tables still produce
// a shard file so that the manifest and the directory agree.
// removeStaleShards deletes every shard file under the output directory.
// Language directories left empty are removed as well.
func (c *Compiler) removeStaleShards() error {
	var dirs []string
	removed := 0
	err := filepath.WalkDir(c.opts.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != c.opts.OutputDir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if filepath.Ext(path) != c.opts.ShardExtension {
			return nil
		}
		if err := sys.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale shard %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return err
	}
	// Deepest first; a directory that still holds other files stays.
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	if removed > 0 {
		c.logger.Info("Removed shards of a previous run.", "dir", c.opts.OutputDir, "shards", removed)
	}
	return nil
}

func (c *Compiler) writeShard(ctx context.Context, id core.ShardID, table *core.PrefixTable) (ShardReport, error) {
	start := time.Now()
	_, span := c.tracer.Start(ctx, "Compiler.writeShard", trace.WithAttributes(
		attribute.String("shard", id.String()),
		attribute.Int("entries", table.Len()),
	))
	defer span.End()

	rel := id.RelPath(c.opts.ShardExtension)
	path := filepath.Join(c.opts.OutputDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ShardReport{}, fmt.Errorf("failed to create shard directory for %s: %w", id, err)
	}

	mt := memtable.FromTable(table)
	c.logger.Debug("Writing shard.", "shard", id, "entries", mt.Len(), "buffered_bytes", mt.Size())
	writer, err := c.opts.WriterFactory(core.ShardWriterOptions{
		FilePath:                     path,
		EstimatedKeys:                uint64(mt.Len()),
		BloomFilterFalsePositiveRate: c.opts.BloomFilterFPRate,
		BlockSize:                    c.opts.BlockSize,
		Tracer:                       c.tracer,
		Compressor:                   c.compressor,
		Logger:                       c.logger,
	})
	if err != nil {
		span.RecordError(err)
		return ShardReport{}, fmt.Errorf("failed to create writer for shard %s: %w", id, err)
	}
	if err := mt.FlushToShard(writer); err != nil {
		_ = writer.Abort()
		span.RecordError(err)
		return ShardReport{}, fmt.Errorf("failed to write shard %s: %w", id, err)
	}
	if err := writer.Finish(); err != nil {
		span.RecordError(err)
		return ShardReport{}, fmt.Errorf("failed to finish shard %s: %w", id, err)
	}

	digest, size, err := digestFile(path)
	if err != nil {
		return ShardReport{}, err
	}
	c.metrics.ShardsWrittenTotal.Add(1)
	c.metrics.ShardBytesWrittenTotal.Add(size)
	observeLatency(c.metrics.ShardWriteLatencyHist, time.Since(start).Seconds())

	c.hooks.Trigger(ctx, hooks.NewPostShardWriteEvent(hooks.PostShardWritePayload{
		Shard:   id,
		Path:    path,
		Entries: mt.Len(),
		Bytes:   size,
	}))
	return ShardReport{
		Language: id.Language,
		Bucket:   id.Bucket,
		Path:     filepath.ToSlash(rel),
		Entries:  mt.Len(),
		Bytes:    size,
		Digest:   digest,
	}, nil
}
