package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/phoneprefix/config"
	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/lookup"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-data dir] [-lang code] <number>...\n       %s [-data dir] -dump <lang>/<bucket>\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func run() int {
	configPath := flag.String("config", "phoneprefix.yaml", "Path to the configuration file")
	dataDir := flag.String("data", "", "Compiled output directory (defaults to output_dir of the configuration)")
	lang := flag.String("lang", string(core.EnglishLanguage), "Language of the descriptions")
	dump := flag.String("dump", "", "Print every entry of one shard, given as <lang>/<bucket>")
	verbose := flag.Bool("v", false, "Log debug output to stderr")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}
	if *dataDir == "" {
		*dataDir = cfg.OutputDir
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	g, err := lookup.Open(lookup.Options{
		DataDir:            *dataDir,
		ShardExtension:     cfg.Shard.Extension,
		ShardCacheCapacity: cfg.Lookup.ShardCacheCapacity,
		BlockCacheCapacity: cfg.Lookup.BlockCacheCapacity,
		Logger:             logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "phoneprefix-lookup: %v\n", err)
		return 1
	}
	defer g.Close()

	if *dump != "" {
		l, b, ok := strings.Cut(*dump, "/")
		if !ok || l == "" || b == "" {
			fmt.Fprintf(os.Stderr, "phoneprefix-lookup: -dump wants <lang>/<bucket>, got %q\n", *dump)
			return 2
		}
		table, err := g.Dump(core.LanguageCode(l), core.BucketPrefix(b))
		if err != nil {
			fmt.Fprintf(os.Stderr, "phoneprefix-lookup: %v\n", err)
			return 1
		}
		table.Range(func(prefix, description string) bool {
			fmt.Printf("%s|%s\n", prefix, description)
			return true
		})
		return 0
	}

	if flag.NArg() == 0 {
		usage()
		fmt.Fprintln(os.Stderr, "\nlanguages:", strings.Join(languageNames(g), " "))
		return 2
	}

	status := 0
	for _, number := range flag.Args() {
		res, err := g.Describe(core.LanguageCode(*lang), number)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", number, err)
			status = 1
			continue
		}
		if !res.Found() {
			fmt.Printf("%s\t-\n", number)
			continue
		}
		fmt.Printf("%s\t%s\t(%s, prefix %s, shard %s)\n", number, res.Description, res.Language, res.Prefix, res.Shard)
	}
	logger.Debug("Lookup finished.", "shard_cache_hit_rate", g.ShardCacheHitRate())
	return status
}

func languageNames(g *lookup.Geocoder) []string {
	langs := g.Manifest().SortedLanguages()
	out := make([]string, len(langs))
	for i, l := range langs {
		out[i] = string(l)
	}
	return out
}

func main() {
	os.Exit(run())
}
