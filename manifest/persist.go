package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/sys"
)

// ErrNotFound is returned by Read when the directory holds no manifest.
var ErrNotFound = errors.New("manifest not found")

// Format selects the on-disk encoding of the manifest.
type Format string

const (
	// FormatBinary writes core.ManifestFileName: a file header, a length
	// prefixed protobuf payload and a CRC32 of the payload.
	FormatBinary Format = "binary"
	// FormatJSON writes core.ManifestJSONFileName as protobuf JSON.
	FormatJSON Format = "json"
)

// ParseFormat converts a configuration value into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatBinary:
		return FormatBinary, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown manifest format '%s' (want binary or json)", s)
	}
}

// FileName returns the file the format is written to.
func (f Format) FileName() string {
	if f == FormatJSON {
		return core.ManifestJSONFileName
	}
	return core.ManifestFileName
}

const (
	fieldVersion   = "format_version"
	fieldNotice    = "notice"
	fieldLanguages = "languages"
	fieldLanguage  = "language"
	fieldBuckets   = "buckets"
)

// toStruct encodes m as a protobuf Struct. Languages are a list so their
// order survives the round trip.
func toStruct(m *Manifest) (*structpb.Struct, error) {
	langs := make([]interface{}, 0, len(m.languages))
	for _, lang := range m.languages {
		buckets := make([]interface{}, 0, len(m.buckets[lang]))
		for _, b := range m.buckets[lang] {
			buckets = append(buckets, string(b))
		}
		langs = append(langs, map[string]interface{}{
			fieldLanguage: string(lang),
			fieldBuckets:  buckets,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		fieldVersion:   int(core.FormatVersion),
		fieldNotice:    core.GeneratedNotice,
		fieldLanguages: langs,
	})
}

func fromStruct(s *structpb.Struct) (*Manifest, error) {
	if v := s.GetFields()[fieldVersion].GetNumberValue(); v != float64(core.FormatVersion) {
		return nil, fmt.Errorf("unsupported manifest version %v, want %d", v, core.FormatVersion)
	}
	m := newManifest()
	for i, v := range s.GetFields()[fieldLanguages].GetListValue().GetValues() {
		entry := v.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("manifest language entry %d is not an object", i)
		}
		lang := core.LanguageCode(entry.GetFields()[fieldLanguage].GetStringValue())
		if lang == "" {
			return nil, fmt.Errorf("manifest language entry %d has no language", i)
		}
		buckets := entry.GetFields()[fieldBuckets].GetListValue().GetValues()
		if len(buckets) == 0 {
			// A language is only listed once a shard was written for it.
			return nil, fmt.Errorf("manifest language %s has no buckets", lang)
		}
		for _, b := range buckets {
			m.add(lang, core.BucketPrefix(b.GetStringValue()))
		}
	}
	return m, nil
}

// Marshal encodes m in the given format.
func Marshal(m *Manifest, format Format) ([]byte, error) {
	s, err := toStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest struct: %w", err)
	}
	switch format {
	case FormatJSON:
		data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest as JSON: %w", err)
		}
		return append(data, '\n'), nil
	case FormatBinary:
		payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		buf := new(bytes.Buffer)
		header := core.NewFileHeader(core.ManifestMagicNumber, core.CompressionNone)
		if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
			return nil, fmt.Errorf("failed to write manifest header: %w", err)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(payload))); err != nil {
			return nil, fmt.Errorf("failed to write manifest length: %w", err)
		}
		buf.Write(payload)
		if err := binary.Write(buf, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
			return nil, fmt.Errorf("failed to write manifest checksum: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown manifest format '%s'", format)
	}
}

// Unmarshal decodes data written by Marshal.
func Unmarshal(data []byte, format Format) (*Manifest, error) {
	s := &structpb.Struct{}
	switch format {
	case FormatJSON:
		if err := protojson.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to decode JSON manifest: %w", err)
		}
	case FormatBinary:
		r := bytes.NewReader(data)
		if _, err := core.ReadFileHeader(r, core.ManifestMagicNumber); err != nil {
			return nil, fmt.Errorf("invalid manifest header: %w", err)
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("failed to read manifest length: %w", err)
		}
		if int64(length) > int64(r.Len()) {
			return nil, fmt.Errorf("manifest payload length %d exceeds file size", length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("failed to read manifest payload: %w", err)
		}
		var checksum uint32
		if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
			return nil, fmt.Errorf("failed to read manifest checksum: %w", err)
		}
		if got := crc32.ChecksumIEEE(payload); got != checksum {
			return nil, fmt.Errorf("manifest checksum mismatch: got %x, want %x", got, checksum)
		}
		if err := proto.Unmarshal(payload, s); err != nil {
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format '%s'", format)
	}
	return fromStruct(s)
}

// Write persists m in dir using write-and-rename, so a reader sees either the
// previous manifest or the complete new one. A manifest of the other format
// left in dir is removed.
func Write(dir string, m *Manifest, format Format) error {
	data, err := Marshal(m, format)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, format.FileName())
	if err := sys.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	other := FormatJSON
	if format == FormatJSON {
		other = FormatBinary
	}
	if err := removeIfExists(filepath.Join(dir, other.FileName())); err != nil {
		return err
	}
	return nil
}

// Read loads the manifest in dir, preferring the binary file when both exist.
func Read(dir string) (*Manifest, Format, error) {
	for _, format := range []Format{FormatBinary, FormatJSON} {
		path := filepath.Join(dir, format.FileName())
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("failed to read manifest %s: %w", path, err)
		}
		m, err := Unmarshal(data, format)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
		return m, format, nil
	}
	return nil, "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// Remove deletes every manifest file in dir. A run calls it before writing
// any shard, so a failed run never leaves a manifest behind.
func Remove(dir string) error {
	for _, format := range []Format{FormatBinary, FormatJSON} {
		path := filepath.Join(dir, format.FileName())
		if err := removeIfExists(path); err != nil {
			return err
		}
		if err := removeIfExists(core.FormatTempFilename(path)); err != nil {
			return err
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := sys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
