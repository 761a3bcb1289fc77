package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/submission-triage/internal/assign"
	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/filer"
	"github.com/shineum/submission-triage/internal/reconcile"
	"github.com/shineum/submission-triage/internal/submission"
)

type fakeStages struct {
	ingested   bool
	downloaded bool

	windows []email.Window
	calls   []string
	saveErr error
}

func (f *fakeStages) Ingested() bool   { return f.ingested }
func (f *fakeStages) Downloaded() bool { return f.downloaded }

func (f *fakeStages) Ingest(_ context.Context, w email.Window) (reconcile.Stats, error) {
	f.calls = append(f.calls, "ingest")
	f.windows = append(f.windows, w)
	f.ingested = true
	return reconcile.Stats{Fetched: 3}, nil
}

func (f *fakeStages) Validate(_ context.Context, w email.Window) (submission.Outcome, error) {
	f.calls = append(f.calls, "validate")
	f.windows = append(f.windows, w)
	f.downloaded = true
	return submission.Outcome{Results: []submission.Result{{Valid: true}}}, nil
}

func (f *fakeStages) WriteStudentReport() (string, error) {
	f.calls = append(f.calls, "students")
	return "informe_alumnos.csv", nil
}

func (f *fakeStages) AssignReviewers() ([]assign.Reviewer, error) {
	f.calls = append(f.calls, "assign")
	return []assign.Reviewer{{Name: "Ana", StudentIDs: []int{1, 2}}}, nil
}

func (f *fakeStages) SaveFiles(context.Context) (filer.Summary, error) {
	f.calls = append(f.calls, "save")
	return filer.Summary{Students: 2}, f.saveErr
}

func lines(in ...string) *strings.Reader {
	return strings.NewReader(strings.Join(in, "\n") + "\n")
}

func TestReadChoice_Reprompts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(lines("abc", "0", "7", "2.5", "", "4"), &out, time.UTC)

	opt, err := c.ReadChoice(6)
	require.NoError(t, err)
	assert.Equal(t, 4, opt)
	assert.Equal(t, 6, strings.Count(out.String(), "Choose an option: "))
	assert.Contains(t, out.String(), "whole numbers")
	assert.Contains(t, out.String(), "between 1 and 6")
}

func TestReadWindow(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)

	var out bytes.Buffer
	c := New(lines(
		"2021-06-12",
		"12/06/2021 17:00:00",
		"12/06/2021 16:00:00",
		"12/06/2021 17:00:00",
		"15/06/2021 21:10:00",
	), &out, loc)

	w, err := c.ReadWindow()
	require.NoError(t, err)
	assert.True(t, w.After.Equal(time.Date(2021, 6, 12, 20, 0, 0, 0, time.UTC)))
	assert.True(t, w.Before.Equal(time.Date(2021, 6, 16, 0, 10, 0, 0, time.UTC)))
	assert.Contains(t, out.String(), "Wrong date format")
	assert.Contains(t, out.String(), "must be after the start")
}

func TestReadWindow_EqualDatesRejected(t *testing.T) {
	t.Parallel()

	c := New(lines("01/09/2024 10:00:00", "01/09/2024 10:00:00"), &bytes.Buffer{}, time.UTC)
	_, err := c.ReadWindow()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRun_RequiresProcessingFirst(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	st := &fakeStages{}
	c := New(lines("3", "5", "6"), &out, time.UTC)

	require.NoError(t, c.Run(context.Background(), st))
	assert.Empty(t, st.calls)
	assert.Equal(t, 2, strings.Count(out.String(), "Process submissions first"))
}

func TestRun_FullSession(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	st := &fakeStages{}
	c := New(lines(
		"1", "01/09/2024 00:00:00", "08/09/2024 00:00:00",
		"2",
		"2", "08/09/2024 00:00:00", "15/09/2024 00:00:00",
		"3",
		"4",
		"5",
		"6",
	), &out, time.UTC)

	require.NoError(t, c.Run(context.Background(), st))
	assert.Equal(t, []string{"ingest", "validate", "validate", "students", "assign", "save"}, st.calls)

	require.Len(t, st.windows, 3)
	assert.True(t, st.windows[0].After.Equal(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, st.windows[1].After.IsZero(), "first validation reuses the processed messages")
	assert.True(t, st.windows[2].Before.Equal(time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC)))

	assert.Contains(t, out.String(), "Ana: 2 students")
	assert.Contains(t, out.String(), "Files saved for 2 students")
	assert.Contains(t, out.String(), "Bye.")
}

func TestRun_StageFailureKeepsMenu(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	st := &fakeStages{ingested: true, saveErr: errors.New("disk full")}
	c := New(lines("5", "3", "6"), &out, time.UTC)

	require.NoError(t, c.Run(context.Background(), st))
	assert.Equal(t, []string{"save", "students"}, st.calls)
	assert.Contains(t, out.String(), "Save files failed: disk full")
}

func TestRun_EndOfInputExits(t *testing.T) {
	t.Parallel()

	st := &fakeStages{}
	c := New(lines("1", "01/09/2024 00:00:00"), &bytes.Buffer{}, time.UTC)

	require.NoError(t, c.Run(context.Background(), st))
	assert.Empty(t, st.calls)
}

func TestRun_Echo(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(lines("6"), &out, time.UTC)
	c.Echo = true

	require.NoError(t, c.Run(context.Background(), &fakeStages{}))
	assert.Contains(t, out.String(), "Choose an option: 6\n")
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(lines("6"), &bytes.Buffer{}, time.UTC).Run(ctx, &fakeStages{})
	assert.ErrorIs(t, err, context.Canceled)
}
