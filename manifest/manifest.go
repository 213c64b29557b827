// Package manifest records which shards exist for each language.
package manifest

import (
	"sort"

	"github.com/INLOpen/phoneprefix/core"
)

// Manifest maps each language to the ordered list of buckets written for it.
// Languages keep the order in which their first shard was recorded.
type Manifest struct {
	languages []core.LanguageCode
	buckets   map[core.LanguageCode][]core.BucketPrefix
	index     map[core.ShardID]struct{}
}

func newManifest() *Manifest {
	return &Manifest{
		buckets: make(map[core.LanguageCode][]core.BucketPrefix),
		index:   make(map[core.ShardID]struct{}),
	}
}

// Languages returns the languages in manifest order.
func (m *Manifest) Languages() []core.LanguageCode {
	out := make([]core.LanguageCode, len(m.languages))
	copy(out, m.languages)
	return out
}

// Buckets returns the buckets written for lang, in write order.
func (m *Manifest) Buckets(lang core.LanguageCode) []core.BucketPrefix {
	b := m.buckets[lang]
	out := make([]core.BucketPrefix, len(b))
	copy(out, b)
	return out
}

// Has reports whether the shard (lang, bucket) was written.
func (m *Manifest) Has(lang core.LanguageCode, bucket core.BucketPrefix) bool {
	_, ok := m.index[core.ShardID{Language: lang, Bucket: bucket}]
	return ok
}

// HasLanguage reports whether any shard exists for lang.
func (m *Manifest) HasLanguage(lang core.LanguageCode) bool {
	_, ok := m.buckets[lang]
	return ok
}

// Len returns the number of shards listed.
func (m *Manifest) Len() int {
	return len(m.index)
}

// Shards returns every listed shard, languages first, in manifest order.
func (m *Manifest) Shards() []core.ShardID {
	out := make([]core.ShardID, 0, len(m.index))
	for _, lang := range m.languages {
		for _, b := range m.buckets[lang] {
			out = append(out, core.ShardID{Language: lang, Bucket: b})
		}
	}
	return out
}

// SortedLanguages returns the languages sorted by name.
func (m *Manifest) SortedLanguages() []core.LanguageCode {
	out := m.Languages()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manifest) add(lang core.LanguageCode, bucket core.BucketPrefix) bool {
	id := core.ShardID{Language: lang, Bucket: bucket}
	if _, dup := m.index[id]; dup {
		return false
	}
	if _, ok := m.buckets[lang]; !ok {
		m.languages = append(m.languages, lang)
	}
	m.buckets[lang] = append(m.buckets[lang], bucket)
	m.index[id] = struct{}{}
	return true
}

// Builder accumulates written shards during a run. It is not safe for
// concurrent use; the compiler records shards from a single goroutine.
type Builder struct {
	m *Manifest
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{m: newManifest()}
}

// Add records that the shard (lang, bucket) was written. Recording the same
// shard twice has no effect; the return value reports whether it was new.
func (b *Builder) Add(lang core.LanguageCode, bucket core.BucketPrefix) bool {
	return b.m.add(lang, bucket)
}

// Len returns the number of shards recorded so far.
func (b *Builder) Len() int {
	return b.m.Len()
}

// Build returns a snapshot of the recorded shards.
func (b *Builder) Build() *Manifest {
	out := newManifest()
	for _, id := range b.m.Shards() {
		out.add(id.Language, id.Bucket)
	}
	return out
}
