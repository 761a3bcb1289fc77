// Package session holds the state of one interactive triage run: the
// working set of students, the reviewer assignment and which stages have
// already run.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/filer"
	"github.com/shineum/submission-triage/internal/mailbox"
	"github.com/shineum/submission-triage/internal/reconcile"
	"github.com/shineum/submission-triage/internal/report"
	"github.com/shineum/submission-triage/internal/roster"
	"github.com/shineum/submission-triage/internal/submission"
)

var (
	// ErrNotIngested is returned by every stage that needs the working set
	// before Ingest has succeeded.
	ErrNotIngested = errors.New("submissions have not been processed yet")

	// ErrNotAssigned is returned by SaveFiles before AssignReviewers.
	ErrNotAssigned = errors.New("reviewers have not been assigned yet")
)

// Roster locates the roster file.
type Roster struct {
	Path     string
	Encoding string
}

// Session is the state shared by the menu entries.
type Session struct {
	Mailbox   mailbox.Mailbox
	Evaluator *submission.Evaluator
	Filer     *filer.Filer
	Roster    Roster
	OutputDir string
	Reviewers []string
	Shuffler  assign.Shuffler

	students   []*roster.Student
	assigned   []assign.Reviewer
	ingested   bool
	downloaded bool
}

// Ingested reports whether Ingest has succeeded at least once.
func (s *Session) Ingested() bool { return s.ingested }

// Downloaded reports whether attachments have been fetched, which makes
// the next Validate an incremental update that needs its own window.
func (s *Session) Downloaded() bool { return s.downloaded }

// Students returns the working set.
func (s *Session) Students() []*roster.Student { return s.students }

// Ingest loads the roster, lists the messages received in w and joins
// them into a fresh working set. Earlier state is discarded.
func (s *Session) Ingest(ctx context.Context, w email.Window) (reconcile.Stats, error) {
	res, err := s.collect(ctx, w)
	if err != nil {
		return reconcile.Stats{}, err
	}

	s.students = res.Students
	s.assigned = nil
	s.ingested = true
	s.downloaded = false
	return res.Stats, nil
}

// Validate downloads and inspects submissions and writes the valid and
// invalid reports. The first call works on the ingested working set and
// ignores w. Later calls collect the messages received in w, skip
// students that are already valid and merge the rest into the working
// set before inspecting again.
func (s *Session) Validate(ctx context.Context, w email.Window) (submission.Outcome, error) {
	if !s.ingested {
		return submission.Outcome{}, ErrNotIngested
	}

	if !s.downloaded {
		s.download(ctx, s.students)
		s.downloaded = true
	} else {
		res, err := s.collect(ctx, w)
		if err != nil {
			return submission.Outcome{}, err
		}
		fresh := submission.ExcludeValid(s.students, res.Students)
		s.download(ctx, fresh)
		s.students = submission.Merge(s.students, fresh)
	}

	out, err := s.Evaluator.Evaluate(ctx, s.students)
	if err != nil {
		return submission.Outcome{}, err
	}
	if err := report.WriteSubmissionReports(s.OutputDir, out); err != nil {
		return out, err
	}
	return out, nil
}

// WriteStudentReport writes the working set with each validity flag.
func (s *Session) WriteStudentReport() (string, error) {
	if !s.ingested {
		return "", ErrNotIngested
	}
	path := filepath.Join(s.OutputDir, report.StudentsFile)
	if err := report.WriteStudents(path, s.students); err != nil {
		return "", err
	}
	return path, nil
}

// AssignReviewers partitions the students of the student report across
// the configured reviewers. When the report has not been written yet the
// working set is used instead.
func (s *Session) AssignReviewers() ([]assign.Reviewer, error) {
	if !s.ingested {
		return nil, ErrNotIngested
	}

	rows, err := report.ReadStudents(filepath.Join(s.OutputDir, report.StudentsFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("student report not found, assigning the working set")
		rows = make([]roster.Student, 0, len(s.students))
		for _, st := range s.students {
			rows = append(rows, *st)
		}
	case err != nil:
		return nil, err
	}

	ids := make([]int, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	reviewers, err := assign.Assign(ids, s.Reviewers, s.Shuffler)
	if err != nil {
		return nil, fmt.Errorf("failed to assign reviewers: %w", err)
	}
	if err := report.WriteAssignments(s.OutputDir, reviewers, rows); err != nil {
		return nil, err
	}

	s.assigned = reviewers
	for _, r := range reviewers {
		slog.Info("reviewer assigned", "reviewer", r.Name, "students", len(r.StudentIDs))
	}
	return reviewers, nil
}

// SaveFiles extracts every assigned submission into the reviewer tree.
func (s *Session) SaveFiles(ctx context.Context) (filer.Summary, error) {
	if !s.ingested {
		return filer.Summary{}, ErrNotIngested
	}
	if s.assigned == nil {
		return filer.Summary{}, ErrNotAssigned
	}
	return s.Filer.File(ctx, s.assigned, s.students)
}

func (s *Session) collect(ctx context.Context, w email.Window) (reconcile.Result, error) {
	if !w.Valid() {
		return reconcile.Result{}, fmt.Errorf("window end %s is not after start %s", w.Before, w.After)
	}

	students, err := roster.Load(s.Roster.Path, s.Roster.Encoding)
	if err != nil {
		return reconcile.Result{}, err
	}

	msgs, err := s.Mailbox.ListMessages(ctx, w)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to list messages from %s: %w", s.Mailbox.Name(), err)
	}

	return reconcile.Reconcile(students, msgs), nil
}

// download fetches the attachments of every student with a message. A
// failed fetch leaves the student without files, which evaluation
// reports as a missing attachment.
func (s *Session) download(ctx context.Context, students []*roster.Student) {
	for _, st := range students {
		if st.Message == nil {
			continue
		}
		files, err := s.Mailbox.FetchAttachments(ctx, st.Message)
		if err != nil {
			slog.Error("failed to download attachments",
				"legajo", st.ID,
				"message_id", st.Message.ID,
				"mailbox", s.Mailbox.Name(),
				"error", err,
			)
			continue
		}
		st.Files = files
	}
}
