package core

import (
	"path/filepath"
	"strconv"
	"strings"
)

// CountryCode is an international calling code, e.g. 1 or 86.
type CountryCode int

// String returns the decimal digits of the calling code.
func (cc CountryCode) String() string {
	return strconv.Itoa(int(cc))
}

// ParseCountryCode parses the decimal digits of a calling code.
// Only strictly positive values made of ASCII digits are accepted.
func ParseCountryCode(s string) (CountryCode, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return CountryCode(n), true
}

// LanguageCode names a language directory, e.g. "en", "de" or "zh_Hant".
type LanguageCode string

// EnglishLanguage is the fallback baseline every other language is compressed against.
const EnglishLanguage LanguageCode = "en"

// IsEnglish reports whether l is the fallback baseline.
func (l LanguageCode) IsEnglish() bool { return l == EnglishLanguage }

// BucketPrefix is the shard discriminator derived from a country's prefixes.
type BucketPrefix string

// Matches reports whether the bucket is a leading substring of prefix.
func (b BucketPrefix) Matches(prefix string) bool {
	return len(prefix) >= len(b) && prefix[:len(b)] == string(b)
}

// CatchAllBucketFor returns the catch-all bucket of a country, e.g.
// "86-unmatched". It never matches a digit prefix.
func CatchAllBucketFor(cc CountryCode) BucketPrefix {
	return BucketPrefix(cc.String() + "-" + CatchAllSuffix)
}

// IsCatchAll reports whether b is a catch-all bucket.
func (b BucketPrefix) IsCatchAll() bool {
	return strings.HasSuffix(string(b), "-"+CatchAllSuffix)
}

// ShardID identifies one output shard by language and bucket.
type ShardID struct {
	Language LanguageCode
	Bucket   BucketPrefix
}

// String returns "<language>/<bucket>".
func (id ShardID) String() string {
	return string(id.Language) + "/" + string(id.Bucket)
}

// RelPath returns the shard path relative to the output directory.
func (id ShardID) RelPath(ext string) string {
	return filepath.Join(string(id.Language), string(id.Bucket)+ext)
}

// InputFile is one discovered source table.
type InputFile struct {
	Language    LanguageCode
	CountryCode CountryCode
	Path        string
}

// String returns "<language>/<cc>.txt".
func (f InputFile) String() string {
	return string(f.Language) + "/" + f.CountryCode.String() + SourceFileExtension
}
