package submission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/submission-triage/internal/archive"
	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/provider"
	"github.com/shineum/submission-triage/internal/roster"
)

// MsgNoAttachment is reported for a student whose message had no
// downloadable file.
const MsgNoAttachment = "no attachment could be downloaded"

// defaultWorkers bounds parallel inspections when Workers is not set.
const defaultWorkers = 4

// Result is the validation outcome for one student.
type Result struct {
	Student *roster.Student
	Valid   bool

	// Lines are the report lines describing what is wrong; empty when valid.
	Lines []string
}

// Outcome collects the per-student results of one evaluation, in
// working-set order.
type Outcome struct {
	Results []Result

	Replied       int
	ReplyFailures int
}

// Valid returns the results of valid submissions.
func (o Outcome) Valid() []Result {
	return o.filter(true)
}

// Invalid returns the results of invalid submissions.
func (o Outcome) Invalid() []Result {
	return o.filter(false)
}

func (o Outcome) filter(valid bool) []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Valid == valid {
			out = append(out, r)
		}
	}
	return out
}

// Evaluator validates each student's first attachment and replies with
// the result.
type Evaluator struct {
	Inspector *archive.Inspector

	// Provider delivers replies. Nil disables replies.
	Provider provider.Provider

	// Workers bounds concurrent inspections.
	Workers int
}

// Evaluate inspects every student that is not already valid, updates
// SubmissionValid and sends at most one reply per student. Students are
// inspected in parallel; state is only mutated on the calling goroutine.
func (e *Evaluator) Evaluate(ctx context.Context, students []*roster.Student) (Outcome, error) {
	reports := make([]*archive.Report, len(students))

	workers := e.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range students {
		if s.SubmissionValid || len(s.Files) == 0 {
			continue
		}
		att := s.Files[0]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep := e.Inspector.Inspect(att.Content, att.Extension(), att.Filename)
			reports[i] = &rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("inspection interrupted: %w", err)
	}

	var out Outcome
	for i, s := range students {
		res := Result{Student: s}

		switch {
		case reports[i] != nil:
			res.Valid = reports[i].Valid()
			res.Lines = reports[i].Lines()
			s.SubmissionValid = res.Valid
		case s.SubmissionValid:
			res.Valid = true
		default:
			res.Lines = []string{MsgNoAttachment}
		}

		out.Results = append(out.Results, res)
		e.reply(ctx, res, &out)
	}

	slog.Info("submissions evaluated",
		"students", len(students),
		"valid", len(out.Valid()),
		"invalid", len(out.Invalid()),
		"replied", out.Replied,
		"reply_failures", out.ReplyFailures,
	)

	return out, nil
}

// reply sends the result to the student unless a reply was already sent.
func (e *Evaluator) reply(ctx context.Context, res Result, out *Outcome) {
	s := res.Student
	if e.Provider == nil || s.ReplySent || s.Message == nil {
		return
	}

	if err := e.Provider.Send(ctx, email.ReplyTo(s.Message, ReplyBody(res))); err != nil {
		out.ReplyFailures++
		slog.Error("failed to send reply",
			"legajo", s.ID,
			"provider", e.Provider.Name(),
			"error", err,
		)
		return
	}

	s.ReplySent = true
	out.Replied++
}

// ReplyBody renders the text sent back to a student.
func ReplyBody(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", res.Student.FirstName)

	if res.Valid {
		b.WriteString("Your submission was received and every file follows the naming rules.\n")
		return b.String()
	}

	b.WriteString("Your submission was received but has the following problems:\n\n")
	for _, line := range res.Lines {
		b.WriteString(line + "\n")
	}
	b.WriteString("\nPlease fix them and send the submission again.\n")
	return b.String()
}
