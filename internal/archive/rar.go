package archive

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/nwaples/rardecode/v2"
)

// Rar decodes .rar archives (RAR 1.5 through 5).
type Rar struct{}

// Format returns ".rar".
func (Rar) Format() string { return ".rar" }

// ListEntries returns the names of all entries in the archive. Folder
// names are given a trailing "/", which RAR headers do not store.
func (r Rar) ListEntries(raw []byte) ([]string, error) {
	var names []string
	err := r.walk(raw, func(hdr *rardecode.FileHeader, _ io.Reader) error {
		name := hdr.Name
		if hdr.IsDir && !strings.HasSuffix(name, "/") {
			name += "/"
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Extract writes every file entry of the archive into destDir.
func (r Rar) Extract(raw []byte, destDir string) ([]string, error) {
	var written []string
	err := r.walk(raw, func(hdr *rardecode.FileHeader, body io.Reader) error {
		name := NormalizeEntry(hdr.Name)
		if name == "" || hdr.IsDir {
			return nil
		}
		if err := writeEntry(destDir, name, body); err != nil {
			return err
		}
		written = append(written, name)
		return nil
	})
	return written, err
}

// walk calls fn for each entry in archive order. Decoder failures are
// wrapped in a DecodeError; errors returned by fn are passed through.
func (r Rar) walk(raw []byte, fn func(*rardecode.FileHeader, io.Reader) error) error {
	rd, err := rardecode.NewReader(bytes.NewReader(raw))
	if err != nil {
		return &DecodeError{Format: r.Format(), Err: err}
	}

	for {
		hdr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &DecodeError{Format: r.Format(), Err: err}
		}
		if err := fn(hdr, rd); err != nil {
			return err
		}
	}
}
