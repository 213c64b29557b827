package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCompressors() []core.Compressor {
	return []core.Compressor{
		&NoCompressionCompressor{},
		NewSnappyCompressor(),
		NewLz4Compressor(),
		NewZstdCompressor(),
	}
}

func TestCompressors_RoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{name: "empty data", data: []byte{}},
		{name: "short string", data: []byte("1201|New Jersey")},
		{name: "repetitive data", data: bytes.Repeat([]byte("1212555|New York, NY\n"), 200)},
		{name: "utf8 descriptions", data: []byte("861|北京市\n8620|广州市\n7495|Москва")},
		{name: "incompressible", data: []byte("82f7b5a3e1d9c0f4b8a6d2c1e0f3a9b8d7c6e5f4a3b2c1d0e9f8a7b6c5d4e3f2")},
	}

	for _, compressor := range allCompressors() {
		for _, tc := range testCases {
			t.Run(compressor.Type().String()+"/"+tc.name, func(t *testing.T) {
				compressed, err := compressor.Compress(tc.data)
				require.NoError(t, err)
				assertDecompressesTo(t, compressor, compressed, tc.data)

				var buf bytes.Buffer
				buf.WriteString("stale content must be discarded")
				require.NoError(t, compressor.CompressTo(&buf, tc.data))
				assertDecompressesTo(t, compressor, buf.Bytes(), tc.data)
			})
		}
	}
}

func assertDecompressesTo(t *testing.T, c core.Compressor, compressed, want []byte) {
	t.Helper()
	rc, err := c.Decompress(compressed)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, len(want), len(got))
	assert.True(t, bytes.Equal(want, got), "decompressed data does not match original")
}

func TestCompressors_RepetitiveDataShrinks(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 4096)
	for _, compressor := range allCompressors()[1:] {
		compressed, err := compressor.Compress(data)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(data), compressor.Type().String())
	}
}

func TestLZ4Compressor_RejectsCorruptPayload(t *testing.T) {
	c := NewLz4Compressor()
	_, err := c.Decompress(nil)
	assert.Error(t, err)

	compressed, err := c.Compress(bytes.Repeat([]byte("abc"), 500))
	require.NoError(t, err)
	_, err = c.Decompress(compressed[:len(compressed)/2])
	assert.Error(t, err)
}

func TestForType(t *testing.T) {
	for _, want := range allCompressors() {
		got, err := ForType(want.Type())
		require.NoError(t, err)
		assert.Equal(t, want.Type(), got.Type())

		named, err := ForName(want.Type().String())
		require.NoError(t, err)
		assert.Equal(t, want.Type(), named.Type())
	}

	_, err := ForType(core.CompressionType(42))
	assert.Error(t, err)
	_, err = ForName("brotli")
	assert.Error(t, err)
}

func BenchmarkSnappyCompress(b *testing.B) {
	compressor := NewSnappyCompressor()
	data := bytes.Repeat([]byte("1212555|New York, NY\n"), 100)
	var buf bytes.Buffer

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = compressor.CompressTo(&buf, data)
	}
}
