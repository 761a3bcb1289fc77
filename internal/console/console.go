// Package console runs the numbered operator menu.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/filer"
	"github.com/shineum/submission-triage/internal/reconcile"
	"github.com/shineum/submission-triage/internal/submission"
)

// DateLayout is the layout operators type dates in.
const DateLayout = "02/01/2006 15:04:05"

// Menu entries, numbered from 1.
const (
	OptProcess = iota + 1
	OptSubmissionReports
	OptStudentReport
	OptAssign
	OptSave
	OptExit
)

var options = []string{
	OptProcess:           "Process submissions and roster",
	OptSubmissionReports: "Write valid/invalid submission reports",
	OptStudentReport:     "Write student report",
	OptAssign:            "Assign reviewers",
	OptSave:              "Save files",
	OptExit:              "Exit",
}

// Stages are the operations behind the menu entries.
type Stages interface {
	Ingested() bool
	Downloaded() bool
	Ingest(ctx context.Context, w email.Window) (reconcile.Stats, error)
	Validate(ctx context.Context, w email.Window) (submission.Outcome, error)
	WriteStudentReport() (string, error)
	AssignReviewers() ([]assign.Reviewer, error)
	SaveFiles(ctx context.Context) (filer.Summary, error)
}

// Console reads operator input line by line.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
	loc *time.Location

	// Echo repeats every line read, for input that is not a terminal.
	Echo bool
}

// New returns a Console reading from in and writing prompts to out.
// Dates are interpreted in loc.
func New(in io.Reader, out io.Writer, loc *time.Location) *Console {
	if loc == nil {
		loc = time.Local
	}
	return &Console{in: bufio.NewScanner(in), out: out, loc: loc}
}

// Run shows the menu until the operator exits or input ends. Stage
// failures are reported and the menu is shown again.
func (c *Console) Run(ctx context.Context, st Stages) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.printMenu()
		opt, err := c.ReadChoice(len(options) - 1)
		if err != nil {
			return ignoreEOF(err)
		}
		if opt == OptExit {
			fmt.Fprintln(c.out, "\nBye.")
			return nil
		}

		if opt != OptProcess && !st.Ingested() {
			fmt.Fprintln(c.out, "\nProcess submissions first, before choosing that option.")
			continue
		}

		if err := c.dispatch(ctx, st, opt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("menu option failed", "option", options[opt], "error", err)
			fmt.Fprintf(c.out, "\n%s failed: %v\n", options[opt], err)
		}
	}
}

func (c *Console) dispatch(ctx context.Context, st Stages, opt int) error {
	switch opt {
	case OptProcess:
		w, err := c.ReadWindow()
		if err != nil {
			return err
		}
		stats, err := st.Ingest(ctx, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "\nSubmissions and students processed: %d messages, %d duplicates, %d without legajo, %d without attachment.\n",
			stats.Fetched, stats.Duplicates, stats.NoSubjectID, stats.NoAttachment)

	case OptSubmissionReports:
		var w email.Window
		if st.Downloaded() {
			fmt.Fprintln(c.out, "\nEnter the window to look for new submissions in.")
			var err error
			if w, err = c.ReadWindow(); err != nil {
				return err
			}
		}
		out, err := st.Validate(ctx, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "\nSubmission reports written: %d valid, %d invalid.\n", len(out.Valid()), len(out.Invalid()))

	case OptStudentReport:
		path, err := st.WriteStudentReport()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "\nStudent report written to %s.\n", path)

	case OptAssign:
		reviewers, err := st.AssignReviewers()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, "\nReviewers assigned:")
		for _, r := range reviewers {
			fmt.Fprintf(c.out, "  %s: %d students\n", r.Name, len(r.StudentIDs))
		}

	case OptSave:
		sum, err := st.SaveFiles(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "\nFiles saved for %d students (%d extracted, %d copied).\n", sum.Students, sum.Extracted, sum.Copied)
		if sum.Missing > 0 {
			fmt.Fprintf(c.out, "%d assigned students have no submission.\n", sum.Missing)
		}
	}
	return nil
}

func (c *Console) printMenu() {
	fmt.Fprintln(c.out)
	for i := 1; i < len(options); i++ {
		fmt.Fprintf(c.out, "%d - %s\n", i, options[i])
	}
}

// ReadChoice reads a menu choice between 1 and n, asking again until the
// input is a whole number in range.
func (c *Console) ReadChoice(n int) (int, error) {
	for {
		line, err := c.prompt("\nChoose an option: ")
		if err != nil {
			return 0, err
		}

		opt, err := strconv.Atoi(line)
		switch {
		case err != nil:
			fmt.Fprintln(c.out, "\nOptions are whole numbers.")
		case opt < 1 || opt > n:
			fmt.Fprintf(c.out, "\nChoose an option between 1 and %d.\n", n)
		default:
			return opt, nil
		}
	}
}

// ReadWindow asks for a start and an end date until the end is after the
// start.
func (c *Console) ReadWindow() (email.Window, error) {
	fmt.Fprintf(c.out, "\nDates are written as %q.\n", "12/06/2021 17:00:00")
	for {
		start, err := c.ReadDate("Start date: ")
		if err != nil {
			return email.Window{}, err
		}
		end, err := c.ReadDate("End date: ")
		if err != nil {
			return email.Window{}, err
		}

		w := email.Window{After: start, Before: end}
		if w.Valid() {
			return w, nil
		}
		fmt.Fprintln(c.out, "\nThe end date must be after the start date.")
	}
}

// ReadDate reads one date in DateLayout, asking again on bad input.
func (c *Console) ReadDate(label string) (time.Time, error) {
	for {
		line, err := c.prompt(label)
		if err != nil {
			return time.Time{}, err
		}

		t, err := time.ParseInLocation(DateLayout, line, c.loc)
		if err == nil {
			return t, nil
		}
		fmt.Fprintf(c.out, "\nWrong date format, expected %s. Example: 12/06/2021 17:00:00\n", "dd/mm/yyyy hh:mm:ss")
	}
}

func (c *Console) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", io.EOF
	}

	line := strings.TrimSpace(c.in.Text())
	if c.Echo {
		fmt.Fprintln(c.out, line)
	}
	return line, nil
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
