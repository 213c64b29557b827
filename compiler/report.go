package compiler

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caio/go-tdigest/v4"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/diag"
	"github.com/INLOpen/phoneprefix/sys"
)

// ShardReport describes one written shard.
type ShardReport struct {
	Language core.LanguageCode `yaml:"language"`
	Bucket   core.BucketPrefix `yaml:"bucket"`
	Path     string            `yaml:"path"` // relative to the output directory
	Entries  int               `yaml:"entries"`
	Bytes    int64             `yaml:"bytes"`
	Digest   string            `yaml:"blake2b_256"`
}

// ID returns the shard identity.
func (s ShardReport) ID() core.ShardID {
	return core.ShardID{Language: s.Language, Bucket: s.Bucket}
}

// FileReport describes one compiled input file.
type FileReport struct {
	Input               string `yaml:"input"`
	SourceBytes         int64  `yaml:"source_bytes"`
	EntriesRead         int    `yaml:"entries_read"`
	EmptyEnglishRemoved int    `yaml:"empty_english_removed,omitempty"`
	Removed             int    `yaml:"removed"`
	Blanked             int    `yaml:"blanked"`
	Buckets             int    `yaml:"buckets"`
	CatchAllEntries     int    `yaml:"catchall_entries,omitempty"`
}

// Totals sums the per-file and per-shard figures.
type Totals struct {
	Files       int   `yaml:"files"`
	Shards      int   `yaml:"shards"`
	EntriesRead int   `yaml:"entries_read"`
	Removed     int   `yaml:"removed"`
	Blanked     int   `yaml:"blanked"`
	Entries     int   `yaml:"entries_written"`
	Bytes       int64 `yaml:"bytes_written"`
}

// Quantiles summarizes a distribution over all shards.
type Quantiles struct {
	P50 float64 `yaml:"p50"`
	P90 float64 `yaml:"p90"`
	P99 float64 `yaml:"p99"`
	Max float64 `yaml:"max"`
}

// Report is the outcome of a successful run.
type Report struct {
	Notice          string         `yaml:"notice"`
	GeneratedAt     time.Time      `yaml:"generated_at"`
	Duration        time.Duration  `yaml:"duration"`
	InputDir        string         `yaml:"input_dir"`
	OutputDir       string         `yaml:"output_dir"`
	Expand          bool           `yaml:"expand_countries"`
	Workers         int            `yaml:"workers"`
	Compression     string         `yaml:"compression"`
	Manifest        string         `yaml:"manifest"`
	ManifestDigest  string         `yaml:"manifest_blake2b_256"`
	Totals          Totals         `yaml:"totals"`
	EntriesPerShard Quantiles      `yaml:"entries_per_shard"`
	BytesPerShard   Quantiles      `yaml:"bytes_per_shard"`
	Host            diag.HostStats `yaml:"host"`
	Files           []FileReport   `yaml:"files"`
	Shards          []ShardReport  `yaml:"shards"`
}

// summarize fills the totals and distributions from Files and Shards.
func (r *Report) summarize() error {
	r.Totals = Totals{Files: len(r.Files), Shards: len(r.Shards)}
	for _, f := range r.Files {
		r.Totals.EntriesRead += f.EntriesRead
		r.Totals.Removed += f.Removed
		r.Totals.Blanked += f.Blanked
	}
	entries := make([]float64, 0, len(r.Shards))
	sizes := make([]float64, 0, len(r.Shards))
	for _, s := range r.Shards {
		r.Totals.Entries += s.Entries
		r.Totals.Bytes += s.Bytes
		entries = append(entries, float64(s.Entries))
		sizes = append(sizes, float64(s.Bytes))
	}
	var err error
	if r.EntriesPerShard, err = quantiles(entries); err != nil {
		return err
	}
	if r.BytesPerShard, err = quantiles(sizes); err != nil {
		return err
	}
	return nil
}

// Write stores the report as YAML at path.
func (r *Report) Write(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode build report: %w", err)
	}
	if err := sys.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write build report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by Write.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build report: %w", err)
	}
	r := &Report{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode build report: %w", err)
	}
	return r, nil
}

func quantiles(values []float64) (Quantiles, error) {
	if len(values) == 0 {
		return Quantiles{}, nil
	}
	td, err := tdigest.New()
	if err != nil {
		return Quantiles{}, fmt.Errorf("tdigest.New failed: %w", err)
	}
	var q Quantiles
	for _, v := range values {
		if err := td.Add(v); err != nil {
			return Quantiles{}, fmt.Errorf("tdigest add failed: %w", err)
		}
		if v > q.Max {
			q.Max = v
		}
	}
	q.P50 = td.Quantile(0.5)
	q.P90 = td.Quantile(0.9)
	q.P99 = td.Quantile(0.99)
	return q, nil
}

// digestFile returns the hex BLAKE2b-256 of a file and its size.
func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s for digest: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
