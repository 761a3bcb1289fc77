// Package naming checks archive entry names against the submission naming
// grammar <legajo>-<surname>-<code>.<ext>.
package naming

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/shineum/submission-triage/internal/email"
)

// segments is the number of dash-separated parts a submission name must have.
const segments = 3

// Messages reported by Validate. They end up verbatim in the text reports.
var (
	MsgNoExtension = "no file extension or is a folder"
	MsgNotNumeric  = "the legajo/document number must only contain digits"
	MsgBadFormat   = fmt.Sprintf("name does not follow %q or %q",
		"<legajo>-<surname, name>-E<exercise>",
		"<legajo>-<surname, name>-DNI<F/D>",
	)
)

var letters = regexp.MustCompile(`[a-zA-Z]+`)

// Validate checks a single archive entry name and returns the problems
// found, or nil when the name is well formed.
func Validate(name string) []string {
	var errs []string

	ext := email.Extension(name)
	if ext == "" {
		errs = append(errs, MsgNoExtension)
	} else {
		name = name[:len(name)-len(ext)]
	}

	return append(errs, validateSegments(name)...)
}

// validateSegments runs the three-segment check on a name without extension.
func validateSegments(name string) []string {
	parts := strings.Split(name, "-")
	if len(parts) != segments {
		return []string{MsgBadFormat}
	}
	if ParseLegajo(parts[0]) == 0 {
		return []string{MsgNotNumeric}
	}
	return nil
}

// ParseLegajo strips ASCII letters and surrounding spaces from s and parses
// the rest as an integer. It returns 0 when nothing numeric remains.
func ParseLegajo(s string) int {
	digits := strings.TrimSpace(letters.ReplaceAllString(s, ""))
	n, err := strconv.Atoi(digits)
	if err != nil {
		slog.Debug("not a legajo", "value", s)
		return 0
	}
	return n
}
