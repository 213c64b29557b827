// Package source reads the pipe-delimited prefix tables and discovers them
// on disk.
package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/INLOpen/phoneprefix/core"
	"github.com/INLOpen/phoneprefix/sys"
)

// Separator splits a line into prefix and description.
const Separator = "|"

// CommentMarker starts a line that is ignored entirely.
const CommentMarker = "#"

// maxLineSize bounds a single source line.
const maxLineSize = 1 << 20

// ParseTable reads "prefix|description" lines from r.
//
// Empty lines, comment lines and lines without a separator are skipped. The
// description is everything after the first separator. A prefix seen twice
// keeps its first position and takes the later description.
func ParseTable(r io.Reader) (*core.PrefixTable, error) {
	table := core.NewPrefixTable(0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		prefix, description, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		table.Set(prefix, description)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan prefix table: %w", err)
	}
	return table, nil
}

// ParseLine splits one source line. ok is false for lines that carry no entry.
func ParseLine(line string) (prefix, description string, ok bool) {
	line = strings.ReplaceAll(line, "\n", "")
	line = strings.ReplaceAll(line, "\r", "")
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, CommentMarker) {
		return "", "", false
	}
	idx := strings.Index(line, Separator)
	if idx <= 0 {
		// No separator, or an empty prefix.
		return "", "", false
	}
	return line[:idx], line[idx+len(Separator):], true
}

// ReadTable opens path and parses it. A file that cannot be opened is
// reported as *core.MissingInputFileError; a read failure after that is a
// plain error naming path.
func ReadTable(path string) (*core.PrefixTable, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, &core.MissingInputFileError{Path: path, Err: err}
	}
	defer f.Close()

	table, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return table, nil
}
