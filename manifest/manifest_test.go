package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/phoneprefix/core"
)

func sampleManifest() *Manifest {
	b := NewBuilder()
	b.Add("en", "1201")
	b.Add("en", "1212")
	b.Add("de", "1201")
	b.Add("en", "44")
	return b.Build()
}

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	assert.True(t, b.Add("en", "2125"))
	assert.True(t, b.Add("de", "2125"))
	assert.False(t, b.Add("en", "2125"), "duplicate shard must be ignored")

	m := b.Build()
	assert.Equal(t, []core.LanguageCode{"en", "de"}, m.Languages())
	assert.Equal(t, []core.BucketPrefix{"2125"}, m.Buckets("en"))
	assert.Equal(t, []core.BucketPrefix{"2125"}, m.Buckets("de"))
	assert.True(t, m.Has("de", "2125"))
	assert.False(t, m.Has("fr", "2125"))
	assert.False(t, m.HasLanguage("fr"))
	assert.Equal(t, 2, m.Len())

	// The snapshot does not change with the builder.
	b.Add("fr", "33")
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 3, b.Len())
}

func TestManifest_Shards(t *testing.T) {
	m := sampleManifest()
	assert.Equal(t, []core.ShardID{
		{Language: "en", Bucket: "1201"},
		{Language: "en", Bucket: "1212"},
		{Language: "en", Bucket: "44"},
		{Language: "de", Bucket: "1201"},
	}, m.Shards())
	assert.Equal(t, []core.LanguageCode{"de", "en"}, m.SortedLanguages())
}

func TestWriteRead(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			want := sampleManifest()
			require.NoError(t, Write(dir, want, format))

			_, err := os.Stat(filepath.Join(dir, format.FileName()))
			require.NoError(t, err)
			_, err = os.Stat(core.FormatTempFilename(filepath.Join(dir, format.FileName())))
			assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

			got, gotFormat, err := Read(dir)
			require.NoError(t, err)
			assert.Equal(t, format, gotFormat)
			assert.Equal(t, want.Shards(), got.Shards())
			assert.Equal(t, want.Languages(), got.Languages())
		})
	}
}

func TestWrite_ReplacesOtherFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, sampleManifest(), FormatBinary))
	require.NoError(t, Write(dir, sampleManifest(), FormatJSON))

	_, err := os.Stat(filepath.Join(dir, core.ManifestFileName))
	assert.True(t, os.IsNotExist(err))

	_, format, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
}

func TestBinaryIsDeterministic(t *testing.T) {
	a, err := Marshal(sampleManifest(), FormatBinary)
	require.NoError(t, err)
	b, err := Marshal(sampleManifest(), FormatBinary)
	require.NoError(t, err)
	// The header carries a timestamp; the payload after it must match.
	assert.Equal(t, a[core.FileHeaderSize:], b[core.FileHeaderSize:])
}

func TestEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, NewBuilder().Build(), FormatBinary))
	m, _, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Languages())
}

func TestRead_NotFound(t *testing.T) {
	_, _, err := Read(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRead_Corrupted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, sampleManifest(), FormatBinary))

	path := filepath.Join(dir, core.ManifestFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[core.FileHeaderSize+6] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, _, err = Read(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, sampleManifest(), FormatBinary))
	require.NoError(t, os.WriteFile(filepath.Join(dir, core.ManifestJSONFileName), []byte("{}"), 0644))

	require.NoError(t, Remove(dir))
	_, _, err := Read(dir)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Remove(dir), "removing twice is fine")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, f)
	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
