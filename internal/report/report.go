// Package report reads and writes the flat files the operator works with
// between runs.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/naming"
	"github.com/shineum/submission-triage/internal/roster"
	"github.com/shineum/submission-triage/internal/submission"
)

// File names written to the output directory.
const (
	StudentsFile    = "informe_alumnos.csv"
	ValidFile       = "entregas_validas.txt"
	InvalidFile     = "entregas_invalidas.txt"
	ByReviewerFile  = "alumnos_por_corrector.txt"
	AssignmentsFile = "asignaciones.csv"
)

var studentHeader = []string{"legajo", "apellido", "nombre", "entregaValida"}

// WriteStudents writes the roster with each student's validity flag.
func WriteStudents(path string, students []*roster.Student) error {
	return writeCSV(path, studentHeader, func(w *csv.Writer) error {
		for _, s := range students {
			if err := w.Write(studentRow(s)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadStudents loads a file written by WriteStudents. Rows with an
// unparsable legajo are skipped.
func ReadStudents(path string) ([]roster.Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open student report: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []roster.Student
	for line := 0; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read student report: %w", err)
		}
		if line == 0 || len(rec) < len(studentHeader) {
			continue
		}

		id := naming.ParseLegajo(rec[0])
		if id == 0 {
			slog.Warn("skipping student report row", "line", line+1)
			continue
		}
		valid, _ := strconv.ParseBool(rec[3])
		out = append(out, roster.Student{
			ID:              id,
			Surname:         rec[1],
			FirstName:       rec[2],
			SubmissionValid: valid,
		})
	}
	return out, nil
}

// WriteSubmissionReports writes the valid and invalid submission reports
// into dir.
func WriteSubmissionReports(dir string, out submission.Outcome) error {
	var valid, invalid strings.Builder

	for _, r := range out.Valid() {
		fmt.Fprintf(&valid, "%d - %s: SUBMISSION OK\n", r.Student.ID, r.Student.FullName())
	}

	for _, r := range out.Invalid() {
		fmt.Fprintf(&invalid, "%d - %s: \n", r.Student.ID, r.Student.FullName())
		for _, line := range r.Lines {
			fmt.Fprintf(&invalid, "\t%s\n", line)
		}
		invalid.WriteString("\n")
	}

	if err := writeFile(filepath.Join(dir, ValidFile), valid.String()); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, InvalidFile), invalid.String())
}

// WriteAssignments writes who reviews whom, both as the plain
// legajo,reviewer list and as a CSV joined with the student report rows.
// Assigned legajos missing from rows are still listed in the plain file.
func WriteAssignments(dir string, reviewers []assign.Reviewer, rows []roster.Student) error {
	byID := make(map[int]*roster.Student, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	var plain strings.Builder
	for _, r := range reviewers {
		for _, id := range r.StudentIDs {
			fmt.Fprintf(&plain, "%d,%s\n", id, r.Name)
		}
	}
	if err := writeFile(filepath.Join(dir, ByReviewerFile), plain.String()); err != nil {
		return err
	}

	header := append(append([]string{}, studentHeader...), "corrector")
	return writeCSV(filepath.Join(dir, AssignmentsFile), header, func(w *csv.Writer) error {
		for _, r := range reviewers {
			for _, id := range r.StudentIDs {
				s, ok := byID[id]
				if !ok {
					continue
				}
				if err := w.Write(append(studentRow(s), r.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func studentRow(s *roster.Student) []string {
	return []string{
		strconv.Itoa(s.ID),
		s.Surname,
		s.FirstName,
		strconv.FormatBool(s.SubmissionValid),
	}
}

func writeCSV(path string, header []string, rows func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := rows(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
