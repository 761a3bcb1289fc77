// Package filer extracts submissions into a reviewer/student folder tree.
package filer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/submission-triage/internal/archive"
	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/roster"
)

const defaultWorkers = 4

// Summary counts what one filing pass did.
type Summary struct {
	Students  int
	Extracted int
	Copied    int

	// Missing counts assigned legajos that have no student in the
	// working set.
	Missing int
}

// Filer writes each student's attachments under
// Root/<reviewer>/<Surname FirstName>/.
type Filer struct {
	Root    string
	Workers int
}

type job struct {
	dir     string
	student *roster.Student
}

type result struct {
	extracted int
	copied    int
}

// File creates one folder per reviewer and one per assigned student, then
// extracts every attachment into the student folder. Attachments that are
// not archives, or that fail to decode, are copied verbatim.
func (f *Filer) File(ctx context.Context, reviewers []assign.Reviewer, students []*roster.Student) (Summary, error) {
	byID := make(map[int]*roster.Student, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}

	var sum Summary
	var jobs []job
	for _, r := range reviewers {
		reviewerDir := filepath.Join(f.Root, r.Name)
		if err := os.MkdirAll(reviewerDir, 0o755); err != nil {
			return sum, fmt.Errorf("failed to create reviewer folder: %w", err)
		}

		for _, id := range r.StudentIDs {
			s, ok := byID[id]
			if !ok {
				sum.Missing++
				slog.Warn("assigned student not in working set", "legajo", id, "reviewer", r.Name)
				continue
			}
			jobs = append(jobs, job{dir: filepath.Join(reviewerDir, s.FullName()), student: s})
		}
	}

	workers := f.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	results := make([]result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fileStudent(j.dir, j.student.Files)
			if err != nil {
				return fmt.Errorf("legajo %d: %w", j.student.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	sum.Students = len(jobs)
	for _, r := range results {
		sum.Extracted += r.extracted
		sum.Copied += r.copied
	}

	slog.Info("submissions filed",
		"root", f.Root,
		"students", sum.Students,
		"extracted", sum.Extracted,
		"copied", sum.Copied,
		"missing", sum.Missing,
	)

	return sum, nil
}

func fileStudent(dir string, files []email.Attachment) (result, error) {
	var res result
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create student folder: %w", err)
	}

	for _, att := range files {
		codec, ok := archive.Lookup(att.Extension())
		if ok {
			names, err := codec.Extract(att.Content, dir)
			if err == nil {
				res.extracted += len(names)
				continue
			}

			var decErr *archive.DecodeError
			if !errors.As(err, &decErr) {
				return res, err
			}
			slog.Warn("archive could not be decoded, copying as is",
				"file", att.Filename,
				"error", err,
			)
		}

		if err := os.WriteFile(filepath.Join(dir, archive.SafeName(att.Filename)), att.Content, 0o644); err != nil {
			return res, fmt.Errorf("failed to copy %s: %w", att.Filename, err)
		}
		res.copied++
	}

	return res, nil
}
