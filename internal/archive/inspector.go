package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/submission-triage/internal/naming"
)

// Messages reported by Inspect for the archive as a whole.
const (
	MsgNotCompressed = "not a compressed file (.zip, .rar, .7z)"
	MsgEmpty         = "archive is empty or only contains folders"
	msgRenamed       = "extension was changed, file is not a valid %s"
)

// Finding groups the problems found for one name: an archive entry, or the
// attachment itself for archive-level problems.
type Finding struct {
	Name     string
	Messages []string
}

// Report is the result of inspecting one attachment.
type Report struct {
	Filename  string
	Extension string

	// Supported is false when Extension is not a compression format.
	Supported bool

	// Findings holds only names with problems, in archive order.
	Findings []Finding

	// Quarantined is the path the payload was copied to when it could not
	// be decoded in its declared format.
	Quarantined string
}

// Valid reports whether the attachment is a supported archive whose
// entries all follow the naming grammar.
func (r Report) Valid() bool {
	return r.Supported && len(r.Findings) == 0
}

// Lines renders the findings as human-readable report lines.
func (r Report) Lines() []string {
	lines := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		var b strings.Builder
		fmt.Fprintf(&b, "File %q: ", f.Name)
		for _, m := range f.Messages {
			b.WriteString("\n\t\t" + m)
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Inspector validates submission archives. A zero Inspector works but
// does not keep undecodable payloads.
type Inspector struct {
	// QuarantineDir receives verbatim copies of payloads that fail to
	// decode in their declared format. Empty disables the copy.
	QuarantineDir string
}

// Inspect lists every entry of raw according to ext and validates each
// normalized entry name. Decode failures never abort: the payload is
// quarantined and the failure is reported as a finding.
func (in *Inspector) Inspect(raw []byte, ext, filename string) Report {
	rep := Report{Filename: filename, Extension: strings.ToLower(ext)}

	codec, ok := Lookup(ext)
	if !ok {
		rep.Findings = []Finding{{Name: filename, Messages: []string{MsgNotCompressed}}}
		return rep
	}
	rep.Supported = true

	entries, err := codec.ListEntries(raw)
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		slog.Warn("archive does not decode in its declared format",
			"filename", filename,
			"format", decodeErr.Format,
			"error", decodeErr.Err,
		)
		rep.Findings = []Finding{{Name: filename, Messages: []string{fmt.Sprintf(msgRenamed, codec.Format())}}}
		rep.Quarantined = in.quarantine(filename, raw)
		return rep
	}
	if err != nil {
		rep.Findings = []Finding{{Name: filename, Messages: []string{err.Error()}}}
		return rep
	}

	names := normalizedEntries(entries)
	if len(names) == 0 {
		rep.Findings = []Finding{{Name: filename, Messages: []string{MsgEmpty}}}
		return rep
	}

	for _, name := range names {
		if msgs := naming.Validate(name); len(msgs) > 0 {
			rep.Findings = append(rep.Findings, Finding{Name: name, Messages: msgs})
		}
	}
	return rep
}

// quarantine copies raw verbatim into the quarantine directory and returns
// the path written, or "" when disabled or on failure.
func (in *Inspector) quarantine(filename string, raw []byte) string {
	if in.QuarantineDir == "" {
		return ""
	}
	if err := os.MkdirAll(in.QuarantineDir, 0o755); err != nil {
		slog.Error("failed to create quarantine directory", "dir", in.QuarantineDir, "error", err)
		return ""
	}

	path := filepath.Join(in.QuarantineDir, uuid.NewString()+"_"+SafeName(filename))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.Error("failed to quarantine payload", "path", path, "error", err)
		return ""
	}

	slog.Info("payload quarantined", "filename", filename, "path", path)
	return path
}
