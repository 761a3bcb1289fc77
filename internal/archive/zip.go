package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Zip decodes .zip archives.
type Zip struct{}

// Format returns ".zip".
func (Zip) Format() string { return ".zip" }

// ListEntries returns the names of all entries in the archive.
func (z Zip) ListEntries(raw []byte) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &DecodeError{Format: z.Format(), Err: err}
	}

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// Extract writes every file entry of the archive into destDir.
func (z Zip) Extract(raw []byte, destDir string) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &DecodeError{Format: z.Format(), Err: err}
	}

	var written []string
	for _, f := range r.File {
		name := NormalizeEntry(f.Name)
		if name == "" || f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return written, &DecodeError{Format: z.Format(), Err: fmt.Errorf("open %s: %w", f.Name, err)}
		}
		err = writeEntry(destDir, name, rc)
		rc.Close()
		if err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}
