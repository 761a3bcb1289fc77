// Package archive lists, validates and extracts submission archives.
// ZIP, RAR and 7z are supported through the Codec interface.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Codec decodes one archive format.
type Codec interface {
	// Format returns the extension this codec handles, e.g. ".zip".
	Format() string

	// ListEntries returns every entry path stored in the archive, in
	// archive order. Folder entries are included and end in "/".
	ListEntries(raw []byte) ([]string, error)

	// Extract writes every file entry into destDir under its normalized
	// name and returns the names written.
	Extract(raw []byte, destDir string) ([]string, error)
}

// DecodeError reports that a payload could not be decoded in its declared
// format, either because it is corrupt or because it was renamed.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s archive: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// codecs is the lookup table from extension to codec.
var codecs = map[string]Codec{
	".zip": Zip{},
	".rar": Rar{},
	".7z":  SevenZip{},
}

// Lookup returns the codec registered for ext. The extension is matched
// case-insensitively and must include the leading dot.
func Lookup(ext string) (Codec, bool) {
	c, ok := codecs[strings.ToLower(ext)]
	return c, ok
}

// NormalizeEntry reduces an archive entry path to its final path segment.
// Folder entries, which end in a separator, normalize to "".
func NormalizeEntry(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "." || path == ".." {
		return ""
	}
	return path
}

// SafeName reduces an attachment filename to a base name that cannot
// escape the directory it is written to.
func SafeName(filename string) string {
	if name := NormalizeEntry(filename); name != "" {
		return name
	}
	return "attachment"
}

// normalizedEntries maps entries through NormalizeEntry and drops folders.
func normalizedEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := NormalizeEntry(e); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// writeEntry copies src into destDir/name, creating destDir if needed.
func writeEntry(destDir, name string, src io.Reader) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	dst, err := os.Create(filepath.Join(destDir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return dst.Close()
}
