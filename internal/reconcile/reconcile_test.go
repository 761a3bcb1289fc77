package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/roster"
)

var base = time.Date(2021, 6, 15, 17, 0, 0, 0, time.UTC)

func msg(id, subject string, minutes int, withAttachment bool) *email.Message {
	m := &email.Message{ID: id, Subject: subject, Date: base.Add(time.Duration(minutes) * time.Minute)}
	if withAttachment {
		m.Attachments = []email.AttachmentRef{{ID: "att-" + id, Filename: "entrega.zip"}}
	}
	return m
}

func ids(msgs []*email.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSubjectID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject string
		want    int
	}{
		{subject: "Entrega TP1 - 1", want: 1},
		{subject: "Entrega TP1 - 12345", want: 12345},
		{subject: "12345", want: 12345},
		{subject: "Legajo: 98765", want: 98765},
		{subject: "random", want: 0},
		{subject: "", want: 0},
		{subject: "TP sin legajo", want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SubjectID(tt.subject), tt.subject)
	}
}

func TestDedupe_KeepsLatest(t *testing.T) {
	t.Parallel()

	a := &email.Message{ID: "a", SubjectID: 1, Date: base}
	b := &email.Message{ID: "b", SubjectID: 2, Date: base}
	c := &email.Message{ID: "c", SubjectID: 1, Date: base.Add(time.Hour)}
	d := &email.Message{ID: "d", SubjectID: 1, Date: base.Add(time.Minute)}

	out := Dedupe([]*email.Message{a, b, c, d})
	assert.Equal(t, []string{"b", "c"}, ids(out))
}

func TestDedupe_EqualDatesKeepLaterPosition(t *testing.T) {
	t.Parallel()

	a := &email.Message{ID: "a", SubjectID: 7}
	b := &email.Message{ID: "b", SubjectID: 7}
	c := &email.Message{ID: "c", SubjectID: 7}

	out := Dedupe([]*email.Message{a, b, c})
	assert.Equal(t, []string{"c"}, ids(out))
}

func TestDedupe_UniqueAndIdempotent(t *testing.T) {
	t.Parallel()

	var msgs []*email.Message
	for i := 0; i < 30; i++ {
		msgs = append(msgs, &email.Message{
			ID:        string(rune('a' + i%26)),
			SubjectID: i%7 + 1,
			Date:      base.Add(time.Duration(i*13%17) * time.Minute),
		})
	}

	once := Dedupe(msgs)
	seen := make(map[int]bool)
	for _, m := range once {
		require.False(t, seen[m.SubjectID], "duplicate id %d", m.SubjectID)
		seen[m.SubjectID] = true
	}
	assert.Len(t, once, 7)

	twice := Dedupe(once)
	assert.Equal(t, once, twice)
	assert.Len(t, msgs, 30, "input must not be modified")
}

func TestDropWithoutAttachment(t *testing.T) {
	t.Parallel()

	withRef := msg("1", "1", 0, true)
	bodyOnly := &email.Message{ID: "2", Attachments: []email.AttachmentRef{{Filename: "noname"}}}
	none := msg("3", "3", 0, false)

	out := DropWithoutAttachment([]*email.Message{withRef, bodyOnly, none})
	assert.Equal(t, []string{"1"}, ids(out))
}

func TestReconcile_EndToEnd(t *testing.T) {
	t.Parallel()

	students := []roster.Student{
		{ID: 1, Surname: "Lopez", FirstName: "Ana"},
		{ID: 2, Surname: "Diaz", FirstName: "Leo"},
	}
	msgs := []*email.Message{
		msg("m1", "Entrega TP1 - 1", 0, true),
		msg("m2", "random", 5, true),
	}

	res := Reconcile(students, msgs)

	require.Len(t, res.Students, 1)
	got := res.Students[0]
	assert.Equal(t, 1, got.ID)
	assert.Equal(t, "Lopez", got.Surname)
	assert.Same(t, msgs[0], got.Message)
	assert.False(t, got.SubmissionValid)
	assert.False(t, got.ReplySent)
	assert.Empty(t, res.Unmatched)

	assert.Equal(t, 2, res.Stats.Fetched)
	assert.Equal(t, 1, res.Stats.NoSubjectID)
	assert.Equal(t, 1, res.Stats.StudentsWithout)

	assert.Nil(t, students[0].Message, "roster entries must not be mutated")
}

func TestReconcile_DuplicateAndMissingAttachment(t *testing.T) {
	t.Parallel()

	students := []roster.Student{
		{ID: 0, Surname: "Broken"},
		{ID: 100, Surname: "Perez", FirstName: "Juan"},
		{ID: 200, Surname: "Gomez", FirstName: "Ana"},
	}
	msgs := []*email.Message{
		msg("old", "TP 100", 0, true),
		msg("new", "TP 100", 30, true),
		msg("text", "TP 200", 10, false),
		msg("stranger", "TP 999", 10, true),
	}

	res := Reconcile(students, msgs)

	require.Len(t, res.Students, 1)
	assert.Equal(t, 100, res.Students[0].ID)
	assert.Equal(t, "new", res.Students[0].Message.ID)
	assert.Equal(t, []string{"stranger"}, ids(res.Unmatched))
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.Equal(t, 1, res.Stats.NoAttachment)
}

func TestJoin_OneMessagePerStudent(t *testing.T) {
	t.Parallel()

	students := []roster.Student{
		{ID: 5, Surname: "First"},
		{ID: 5, Surname: "Repeated"},
	}
	m := &email.Message{ID: "x", SubjectID: 5}

	joined, unmatched := Join(students, []*email.Message{m})
	require.Len(t, joined, 1)
	assert.Equal(t, "First", joined[0].Surname)
	assert.Empty(t, unmatched)
}
