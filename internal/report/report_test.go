package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/roster"
	"github.com/shineum/submission-triage/internal/submission"
)

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestStudentsRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), StudentsFile)
	students := []*roster.Student{
		{ID: 12345, Surname: "Perez", FirstName: "Juan Carlos", SubmissionValid: true},
		{ID: 23456, Surname: "D'Abbracio", FirstName: "Lautaro"},
	}
	require.NoError(t, WriteStudents(path, students))

	assert.Equal(t,
		"legajo,apellido,nombre,entregaValida\n12345,Perez,Juan Carlos,true\n23456,D'Abbracio,Lautaro,false\n",
		read(t, path))

	got, err := ReadStudents(path)
	require.NoError(t, err)
	assert.Equal(t, []roster.Student{
		{ID: 12345, Surname: "Perez", FirstName: "Juan Carlos", SubmissionValid: true},
		{ID: 23456, Surname: "D'Abbracio", FirstName: "Lautaro"},
	}, got)
}

func TestReadStudents_SkipsBadRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), StudentsFile)
	require.NoError(t, os.WriteFile(path, []byte("legajo,apellido,nombre,entregaValida\nabc,X,Y,true\n\n7,Sosa,Martin,false\nshort\n"), 0o644))

	got, err := ReadStudents(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].ID)
}

func TestReadStudents_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadStudents(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestWriteSubmissionReports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := submission.Outcome{Results: []submission.Result{
		{Student: &roster.Student{ID: 1, Surname: "Perez", FirstName: "Juan"}, Valid: true},
		{
			Student: &roster.Student{ID: 2, Surname: "Gomez", FirstName: "Ana"},
			Lines:   []string{"File \"a.txt\": \n\t\tbad format"},
		},
	}}

	require.NoError(t, WriteSubmissionReports(dir, out))

	assert.Equal(t, "1 - Perez Juan: SUBMISSION OK\n", read(t, filepath.Join(dir, ValidFile)))
	assert.Equal(t, "2 - Gomez Ana: \n\tFile \"a.txt\": \n\t\tbad format\n\n", read(t, filepath.Join(dir, InvalidFile)))
}

func TestWriteAssignments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reviewers := []assign.Reviewer{
		{Name: "Ana", StudentIDs: []int{2, 1}},
		{Name: "Bruno", StudentIDs: []int{3}},
	}
	rows := []roster.Student{
		{ID: 1, Surname: "Perez", FirstName: "Juan", SubmissionValid: true},
		{ID: 2, Surname: "Gomez", FirstName: "Ana"},
	}

	require.NoError(t, WriteAssignments(dir, reviewers, rows))

	assert.Equal(t, "2,Ana\n1,Ana\n3,Bruno\n", read(t, filepath.Join(dir, ByReviewerFile)))
	assert.Equal(t,
		"legajo,apellido,nombre,entregaValida,corrector\n2,Gomez,Ana,false,Ana\n1,Perez,Juan,true,Ana\n",
		read(t, filepath.Join(dir, AssignmentsFile)))
}
