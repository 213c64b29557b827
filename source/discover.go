package source

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/INLOpen/phoneprefix/core"
)

// ignoredNames are entries of the input tree that are never inputs.
var ignoredNames = map[string]struct{}{
	".":    {},
	"..":   {},
	".svn": {},
	".git": {},
}

// Discover lists every <language>/<countryCode>.txt file under inputDir.
// Languages are returned sorted by directory name and files sorted by name
// within a language, so the result is stable across runs and platforms.
func Discover(inputDir string, logger *slog.Logger) ([]core.InputFile, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "Discover")

	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, &core.MissingInputFileError{Path: inputDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &core.MissingInputFileError{Path: inputDir, Err: fmt.Errorf("not a directory")}
	}

	langEntries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, &core.MissingInputFileError{Path: inputDir, Err: err}
	}
	sort.Slice(langEntries, func(i, j int) bool { return langEntries[i].Name() < langEntries[j].Name() })

	var inputs []core.InputFile
	for _, langEntry := range langEntries {
		name := langEntry.Name()
		if isIgnored(name) || !langEntry.IsDir() {
			continue
		}
		if _, err := ParseLanguage(name); err != nil {
			logger.Warn("Language directory is not a well-formed language tag, compiling it anyway.", "language", name, "error", err)
		}

		langDir := filepath.Join(inputDir, name)
		files, err := os.ReadDir(langDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list language directory %s: %w", langDir, err)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

		for _, f := range files {
			fileName := f.Name()
			if isIgnored(fileName) || f.IsDir() {
				continue
			}
			if filepath.Ext(fileName) != core.SourceFileExtension {
				logger.Debug("Skipping non-table file.", "path", filepath.Join(name, fileName))
				continue
			}
			stem := strings.TrimSuffix(fileName, core.SourceFileExtension)
			cc, ok := core.ParseCountryCode(stem)
			if !ok {
				return nil, &core.InvalidInputNameError{
					Path:   filepath.Join(name, fileName),
					Reason: fmt.Sprintf("'%s' is not a country calling code", stem),
				}
			}
			inputs = append(inputs, core.InputFile{
				Language:    core.LanguageCode(name),
				CountryCode: cc,
				Path:        filepath.Join(langDir, fileName),
			})
		}
	}
	logger.Debug("Discovered input tables.", "count", len(inputs), "input_dir", inputDir)
	return inputs, nil
}

// TablePath returns the location of <language>/<cc>.txt under inputDir.
func TablePath(inputDir string, lang core.LanguageCode, cc core.CountryCode) string {
	return filepath.Join(inputDir, string(lang), cc.String()+core.SourceFileExtension)
}

// ParseLanguage interprets a directory name such as "zh_Hant" as a BCP 47 tag.
func ParseLanguage(name string) (language.Tag, error) {
	return language.Parse(strings.ReplaceAll(name, "_", "-"))
}

// BaseLanguage returns the base language of a directory name, e.g. "zh" for
// "zh_Hant". ok is false when the name has no more general form.
func BaseLanguage(name core.LanguageCode) (core.LanguageCode, bool) {
	tag, err := ParseLanguage(string(name))
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	b := core.LanguageCode(base.String())
	if b == name {
		return "", false
	}
	return b, true
}

func isIgnored(name string) bool {
	if _, ok := ignoredNames[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}
