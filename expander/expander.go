// Package expander decides how the table of a large country is split into
// several buckets instead of a single shard per country.
package expander

import (
	"errors"
	"fmt"
	"strings"

	"github.com/INLOpen/phoneprefix/core"
)

// ExpansionRule overrides the bucket length for prefixes starting with Prefix.
type ExpansionRule struct {
	Prefix string `yaml:"prefix"`
	Length int    `yaml:"length"`
}

// CountryExpansion configures bucketing for one country.
//
// PrefixLength is the bucket length applied to every prefix; zero means the
// length of the country code itself. Rules are applied in order and the last
// matching rule decides.
type CountryExpansion struct {
	CountryCode  core.CountryCode `yaml:"country_code"`
	PrefixLength int              `yaml:"prefix_length"`
	Rules        []ExpansionRule  `yaml:"rules"`
}

// Policy lists the countries whose tables are expanded.
type Policy struct {
	Countries []CountryExpansion `yaml:"countries"`
}

// NANPACountryCode is the North American Numbering Plan calling code.
const NANPACountryCode core.CountryCode = 1

// DefaultPolicy expands NANPA into 4-digit buckets and China's 861 range
// into 5-digit buckets.
func DefaultPolicy() Policy {
	return Policy{
		Countries: []CountryExpansion{
			{CountryCode: NANPACountryCode, PrefixLength: 4},
			{CountryCode: 86, Rules: []ExpansionRule{{Prefix: "861", Length: 5}}},
		},
	}
}

// For returns the expansion configured for cc.
func (p Policy) For(cc core.CountryCode) (CountryExpansion, bool) {
	for _, c := range p.Countries {
		if c.CountryCode == cc {
			return c, true
		}
	}
	return CountryExpansion{}, false
}

// Validate checks that every configured length and rule is usable.
func (p Policy) Validate() error {
	seen := make(map[core.CountryCode]struct{}, len(p.Countries))
	var errs []error
	for i, c := range p.Countries {
		if c.CountryCode <= 0 {
			errs = append(errs, fmt.Errorf("countries[%d]: country_code must be positive", i))
			continue
		}
		if _, dup := seen[c.CountryCode]; dup {
			errs = append(errs, fmt.Errorf("countries[%d]: country_code %s configured twice", i, c.CountryCode))
		}
		seen[c.CountryCode] = struct{}{}
		if c.PrefixLength < 0 {
			errs = append(errs, fmt.Errorf("countries[%d]: prefix_length must not be negative", i))
		}
		for j, r := range c.Rules {
			if r.Prefix == "" {
				errs = append(errs, fmt.Errorf("countries[%d].rules[%d]: prefix must not be empty", i, j))
			}
			if r.Length <= 0 {
				errs = append(errs, fmt.Errorf("countries[%d].rules[%d]: length must be positive", i, j))
			}
		}
	}
	return errors.Join(errs...)
}

// Buckets plans the output buckets of a country's table. Without expansion,
// or for a country the policy does not mention, the only bucket is the
// country code itself. Otherwise every prefix is truncated to its bucket
// length and the distinct results are returned in first-seen order.
func (p Policy) Buckets(table *core.PrefixTable, cc core.CountryCode, expand bool) []core.BucketPrefix {
	ccBucket := []core.BucketPrefix{core.BucketPrefix(cc.String())}
	if !expand {
		return ccBucket
	}
	country, ok := p.For(cc)
	if !ok {
		return ccBucket
	}
	base := country.PrefixLength
	if base <= 0 {
		base = len(cc.String())
	}

	seen := make(map[core.BucketPrefix]struct{})
	buckets := make([]core.BucketPrefix, 0)
	table.Range(func(prefix, _ string) bool {
		b := country.bucketOf(prefix, base)
		if _, dup := seen[b]; !dup {
			seen[b] = struct{}{}
			buckets = append(buckets, b)
		}
		return true
	})
	return buckets
}

func (c CountryExpansion) bucketOf(prefix string, base int) core.BucketPrefix {
	length := base
	for _, r := range c.Rules {
		if strings.HasPrefix(prefix, r.Prefix) {
			length = r.Length
		}
	}
	if length < len(prefix) {
		return core.BucketPrefix(prefix[:length])
	}
	return core.BucketPrefix(prefix)
}
