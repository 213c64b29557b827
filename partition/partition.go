// Package partition routes the entries of a country table to its planned
// buckets.
package partition

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/phoneprefix/core"
)

// MissPolicy decides what happens to an entry that matches no bucket.
type MissPolicy int

const (
	// MissError fails the split with *core.PartitionMissError.
	MissError MissPolicy = iota
	// MissCatchAll routes the entry to the country's catch-all bucket.
	MissCatchAll
)

func (p MissPolicy) String() string {
	switch p {
	case MissError:
		return "error"
	case MissCatchAll:
		return "catchall"
	default:
		return fmt.Sprintf("MissPolicy(%d)", int(p))
	}
}

// ParseMissPolicy converts a configuration value into a MissPolicy.
func ParseMissPolicy(s string) (MissPolicy, error) {
	switch s {
	case "", "error":
		return MissError, nil
	case "catchall":
		return MissCatchAll, nil
	default:
		return MissError, fmt.Errorf("unknown partition miss policy '%s' (want error or catchall)", s)
	}
}

// Options configures Split.
type Options struct {
	OnMiss MissPolicy
	// CountryCode names the catch-all bucket.
	CountryCode core.CountryCode
	// Source names the input file in errors and logs.
	Source string
	Logger *slog.Logger
}

// Shard is the part of a table routed to one bucket.
type Shard struct {
	Bucket core.BucketPrefix
	Table  *core.PrefixTable
	// Members holds the ordinals, in source table order, of the entries
	// routed to this bucket.
	Members *roaring.Bitmap
}

// Result holds one shard per planned bucket, in bucket order, empty ones
// included. Unmatched is non-nil only when entries were routed to the
// catch-all bucket.
type Result struct {
	Shards           []Shard
	Unmatched        *core.PrefixTable
	UnmatchedMembers *roaring.Bitmap
	CatchAllBucket   core.BucketPrefix
}

// All returns the planned shards followed by the catch-all shard, if any.
func (r *Result) All() []Shard {
	if r.Unmatched == nil {
		return r.Shards
	}
	out := make([]Shard, 0, len(r.Shards)+1)
	out = append(out, r.Shards...)
	return append(out, Shard{Bucket: r.CatchAllBucket, Table: r.Unmatched, Members: r.UnmatchedMembers})
}

// Verify checks that every one of total source entries was routed to exactly
// one shard: the member sets must be pairwise disjoint and their union must
// be [0, total).
func (r *Result) Verify(total int) error {
	seen := roaring.New()
	for _, s := range r.All() {
		if s.Members == nil {
			continue
		}
		if seen.Intersects(s.Members) {
			dup := roaring.And(seen, s.Members)
			return fmt.Errorf("bucket %s shares %d entries with another bucket (first ordinal %d)", s.Bucket, dup.GetCardinality(), dup.Minimum())
		}
		if got, want := s.Members.GetCardinality(), uint64(s.Table.Len()); got != want {
			return fmt.Errorf("bucket %s holds %d entries but %d members", s.Bucket, want, got)
		}
		seen.Or(s.Members)
	}
	want := roaring.New()
	want.AddRange(0, uint64(total))
	if missing := roaring.AndNot(want, seen); !missing.IsEmpty() {
		return fmt.Errorf("%d of %d entries were not routed (first ordinal %d)", missing.GetCardinality(), total, missing.Minimum())
	}
	if extra := roaring.AndNot(seen, want); !extra.IsEmpty() {
		return fmt.Errorf("%d routed ordinals lie outside the %d source entries", extra.GetCardinality(), total)
	}
	return nil
}

// Route returns the index of the first bucket in list order that is a
// leading substring of prefix, or -1.
func Route(prefix string, buckets []core.BucketPrefix) int {
	for i, b := range buckets {
		if b.Matches(prefix) {
			return i
		}
	}
	return -1
}

// Split assigns every entry of table to exactly one bucket.
func Split(table *core.PrefixTable, buckets []core.BucketPrefix, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	res := &Result{
		Shards:         make([]Shard, len(buckets)),
		CatchAllBucket: core.CatchAllBucketFor(opts.CountryCode),
	}
	for i, b := range buckets {
		res.Shards[i] = Shard{Bucket: b, Table: core.NewPrefixTable(0), Members: roaring.New()}
	}

	var ordinal uint32
	var missErr error
	table.Range(func(prefix, description string) bool {
		idx := Route(prefix, buckets)
		switch {
		case idx >= 0:
			res.Shards[idx].Table.Set(prefix, description)
			res.Shards[idx].Members.Add(ordinal)
		case opts.OnMiss == MissCatchAll:
			if res.Unmatched == nil {
				res.Unmatched = core.NewPrefixTable(0)
				res.UnmatchedMembers = roaring.New()
			}
			res.Unmatched.Set(prefix, description)
			res.UnmatchedMembers.Add(ordinal)
			logger.Warn("Prefix matches no planned bucket, routed to catch-all shard.",
				"prefix", prefix, "source", opts.Source, "bucket", res.CatchAllBucket)
		default:
			missErr = &core.PartitionMissError{Prefix: prefix, Source: opts.Source, Buckets: buckets}
			return false
		}
		ordinal++
		return true
	})
	if missErr != nil {
		return nil, missErr
	}

	if err := res.Verify(table.Len()); err != nil {
		return nil, fmt.Errorf("partition of %s: %w", opts.Source, err)
	}
	return res, nil
}
