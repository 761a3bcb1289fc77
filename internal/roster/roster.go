// Package roster loads the course roster and defines the Student record
// that flows through reconciliation, validation and filing.
package roster

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"

	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/naming"
)

// firstDataLine is the index of the first student row; line 0 is the
// header and line 1 a separator.
const firstDataLine = 2

// fieldSeparator splits a roster row on `,"`, `, `, `",` or a bare comma.
var fieldSeparator = regexp.MustCompile(`,"|,\s*|",|,`)

var titleCase = cases.Title(language.Spanish)

// Student is one roster entry together with its submission state for the
// current run.
type Student struct {
	// ID is the legajo. 0 means the row could not be parsed.
	ID        int
	Surname   string
	FirstName string

	SubmissionValid bool
	ReplySent       bool

	Files   []email.Attachment
	Message *email.Message
}

// FullName returns "Surname FirstName", the name used for filing.
func (s *Student) FullName() string {
	return strings.TrimSpace(s.Surname + " " + s.FirstName)
}

// Load reads the roster at path, decoding it from the named charset
// ("utf-8", "latin1" or "windows-1252").
func Load(path, encoding string) ([]Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	r, err := decoder(f, encoding)
	if err != nil {
		return nil, err
	}
	return Parse(r)
}

// Parse reads roster rows from r. Rows that cannot be parsed surface as
// students with ID 0 instead of failing the whole roster.
func Parse(r io.Reader) ([]Student, error) {
	var students []Student

	sc := bufio.NewScanner(r)
	for line := 0; sc.Scan(); line++ {
		if line < firstDataLine {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		students = append(students, parseRow(text))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	return students, nil
}

// parseRow converts one data row. The first field is a row label and is
// discarded; the next three are legajo, surname and first name.
func parseRow(row string) Student {
	fields := fieldSeparator.Split(row, -1)
	if len(fields) < 4 {
		slog.Warn("roster row has too few fields", "row", row)
		return Student{}
	}

	id := naming.ParseLegajo(clean(fields[1]))
	if id == 0 {
		slog.Warn("roster row has no numeric legajo", "row", row)
	}

	return Student{
		ID:        id,
		Surname:   titleCase.String(clean(fields[2])),
		FirstName: titleCase.String(clean(fields[3])),
	}
}

func clean(field string) string {
	return strings.Trim(strings.TrimSpace(field), `"`)
}

// decoder wraps r with a charset decoder for the given encoding name.
func decoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(encoding, "_", "-")) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("unsupported roster encoding %q", encoding)
	}
}
