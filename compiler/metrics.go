package compiler

import (
	"expvar"
	"fmt"
)

// Metrics holds the expvar variables of a Compiler.
type Metrics struct {
	PublishedGlobally bool // Indicates if the metrics are published to the global expvar namespace.

	RunsTotal       *expvar.Int
	RunErrorsTotal  *expvar.Int
	FilesTotal      *expvar.Int
	FileErrorsTotal *expvar.Int

	EntriesReadTotal     *expvar.Int
	EntriesRemovedTotal  *expvar.Int
	EntriesBlankedTotal  *expvar.Int
	EmptyEnglishTotal    *expvar.Int
	CatchAllEntriesTotal *expvar.Int

	ShardsWrittenTotal     *expvar.Int
	ShardBytesWrittenTotal *expvar.Int
	EnglishTablesLoaded    *expvar.Int

	FileLatencyHist       *expvar.Map
	ShardWriteLatencyHist *expvar.Map

	LastRunDurationSeconds *expvar.Float
}

// latencyBuckets defines the buckets for latency histograms (in seconds).
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}

// NewMetrics creates the compiler metrics. With publishGlobally the variables
// are registered in the expvar namespace under prefix; tests pass false to
// get private instances.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	var newIntFunc func(string) *expvar.Int
	var newFloatFunc func(string) *expvar.Float
	var newMapFunc func(string) *expvar.Map

	if publishGlobally {
		newIntFunc = publishExpvarInt
		newFloatFunc = publishExpvarFloat
		newMapFunc = publishExpvarMap
	} else {
		newIntFunc = func(_ string) *expvar.Int { return new(expvar.Int) }
		newFloatFunc = func(_ string) *expvar.Float { return new(expvar.Float) }
		newMapFunc = func(_ string) *expvar.Map {
			m := new(expvar.Map)
			m.Init()
			return m
		}
	}

	m := &Metrics{
		PublishedGlobally: publishGlobally,
		RunsTotal:         newIntFunc(prefix + "runs_total"),
		RunErrorsTotal:    newIntFunc(prefix + "run_errors_total"),
		FilesTotal:        newIntFunc(prefix + "files_total"),
		FileErrorsTotal:   newIntFunc(prefix + "file_errors_total"),

		EntriesReadTotal:     newIntFunc(prefix + "entries_read_total"),
		EntriesRemovedTotal:  newIntFunc(prefix + "entries_removed_total"),
		EntriesBlankedTotal:  newIntFunc(prefix + "entries_blanked_total"),
		EmptyEnglishTotal:    newIntFunc(prefix + "empty_english_removed_total"),
		CatchAllEntriesTotal: newIntFunc(prefix + "catchall_entries_total"),

		ShardsWrittenTotal:     newIntFunc(prefix + "shards_written_total"),
		ShardBytesWrittenTotal: newIntFunc(prefix + "shard_bytes_written_total"),
		EnglishTablesLoaded:    newIntFunc(prefix + "english_tables_loaded_total"),

		FileLatencyHist:       newMapFunc(prefix + "file_latency_seconds"),
		ShardWriteLatencyHist: newMapFunc(prefix + "shard_write_latency_seconds"),

		LastRunDurationSeconds: newFloatFunc(prefix + "last_run_duration_seconds"),
	}

	for _, hist := range []*expvar.Map{m.FileLatencyHist, m.ShardWriteLatencyHist} {
		hist.Set("count", new(expvar.Int))
		hist.Set("sum", new(expvar.Float))
		for _, b := range latencyBuckets {
			hist.Set(fmt.Sprintf("le_%.3f", b), new(expvar.Int))
		}
		hist.Set("le_inf", new(expvar.Int))
	}
	return m
}

// observeLatency records the duration in the provided histogram map.
func observeLatency(histMap *expvar.Map, durationSeconds float64) {
	if histMap == nil {
		return
	}
	if countInt, ok := histMap.Get("count").(*expvar.Int); ok {
		countInt.Add(1)
	}
	if sumFloat, ok := histMap.Get("sum").(*expvar.Float); ok {
		sumFloat.Add(durationSeconds)
	}
	// Cumulative: a value counts in every bucket at or above it.
	for _, b := range latencyBuckets {
		if durationSeconds <= b {
			if bucketInt, ok := histMap.Get(fmt.Sprintf("le_%.3f", b)).(*expvar.Int); ok {
				bucketInt.Add(1)
			}
		}
	}
	if infInt, ok := histMap.Get("le_inf").(*expvar.Int); ok {
		infInt.Add(1)
	}
}

// publishExpvarInt safely publishes an expvar.Int.
// If the name already exists and is an *expvar.Int, it resets it and returns it.
// If the name exists but is not an *expvar.Int, it panics.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// publishExpvarFloat safely publishes an expvar.Float.
func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0.0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap safely publishes an expvar.Map, clearing an existing one.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		mv.Init()
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
