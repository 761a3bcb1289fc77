package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/submission-triage/internal/email"
)

func writeEML(t *testing.T, dir, name, subject, date string, withAttachment bool) {
	t.Helper()

	lines := []string{
		"From: Alumno <alumno@example.com>",
		"Subject: " + subject,
		"Date: " + date,
		"Message-Id: <" + name + "@example.com>",
	}
	if withAttachment {
		lines = append(lines,
			"Content-Type: multipart/mixed; boundary=b",
			"",
			"--b",
			"Content-Type: application/zip",
			"Content-Disposition: attachment; filename=\"tp.zip\"",
			"Content-Transfer-Encoding: base64",
			"",
			"SGVsbG8=",
			"--b--",
		)
	} else {
		lines = append(lines, "", "sin adjunto")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\r\n")), 0o644))
}

func TestMailbox(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeEML(t, dir, "b.eml", "TP 2", "Tue, 03 Sep 2024 10:00:00 +0000", false)
	writeEML(t, dir, "a.eml", "TP 1", "Mon, 02 Sep 2024 10:00:00 +0000", true)
	writeEML(t, dir, "late.eml", "TP 3", "Mon, 30 Sep 2024 10:00:00 +0000", true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.eml"), []byte("\x00"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644))

	mb := New(dir)
	w := email.Window{
		After:  time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC),
	}

	msgs, err := mb.ListMessages(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a.eml", msgs[0].ID)
	assert.Equal(t, "TP 1", msgs[0].Subject)
	assert.Equal(t, "alumno@example.com", msgs[0].From)
	assert.True(t, msgs[0].HasAttachment())
	assert.False(t, msgs[1].HasAttachment())

	atts, err := mb.FetchAttachments(context.Background(), msgs[0])
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "tp.zip", atts[0].Filename)
	assert.Equal(t, "Hello", string(atts[0].Content))
}

func TestMailbox_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "nope")).ListMessages(context.Background(), email.Window{})
	assert.Error(t, err)
}
