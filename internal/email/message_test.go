package email

import (
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"
)

func TestExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "zip", in: "entrega.zip", want: ".zip"},
		{name: "upper case", in: "ENTREGA.ZIP", want: ".zip"},
		{name: "seven zip", in: "tp.7z", want: ".7z"},
		{name: "double extension", in: "tp.tar.gz", want: ".gz"},
		{name: "no extension", in: "README", want: ""},
		{name: "trailing dot", in: "folder.", want: ""},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Extension(tt.in); got != tt.want {
				t.Errorf("Extension(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHasAttachment(t *testing.T) {
	t.Parallel()

	msg := &Message{Attachments: []AttachmentRef{{Filename: "body.txt"}}}
	if msg.HasAttachment() {
		t.Error("HasAttachment: got true for ref without ID")
	}

	msg.Attachments = append(msg.Attachments, AttachmentRef{ID: "att-1", Filename: "tp.zip"})
	if !msg.HasAttachment() {
		t.Error("HasAttachment: got false for ref with ID")
	}
}

func TestReplyTo(t *testing.T) {
	t.Parallel()

	msg := &Message{
		ID:        "m-1",
		ThreadID:  "t-1",
		MessageID: "<abc@example.com>",
		From:      "alumno@example.com",
		Subject:   "Entrega TP1 - 1",
	}

	r := ReplyTo(msg, "ok")
	if r.Subject != "Re: Entrega TP1 - 1" {
		t.Errorf("Subject: got %q", r.Subject)
	}
	if r.To != "alumno@example.com" || r.InReplyTo != "<abc@example.com>" || r.ThreadID != "t-1" || r.SourceID != "m-1" {
		t.Errorf("unexpected reply: %+v", r)
	}

	msg.Subject = "RE: again"
	if got := ReplyTo(msg, "ok").Subject; got != "RE: again" {
		t.Errorf("Subject: got %q, want prefix kept", got)
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2021, 6, 15, 17, 0, 0, 0, time.UTC)
	w := Window{After: start, Before: start.Add(4 * time.Hour)}

	if !w.Valid() {
		t.Error("Valid: got false for increasing window")
	}
	if (Window{After: start, Before: start}).Valid() {
		t.Error("Valid: got true for empty window")
	}
	if !w.Contains(start) {
		t.Error("Contains: start should be included")
	}
	if w.Contains(w.Before) {
		t.Error("Contains: end should be excluded")
	}
}

func TestReplyMIME(t *testing.T) {
	t.Parallel()

	r := &Reply{
		To:         "juan@example.com",
		Subject:    "Re: Entrega práctica 12345",
		Body:       "Hola Juan,\n\ntodo correcto.\n",
		InReplyTo:  "<a@example.com>",
		References: "<a@example.com>",
	}

	raw, err := r.MIME("catedra@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("rendered reply does not parse: %v", err)
	}

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("subject decode: %v", err)
	}
	headers := map[string]string{
		"From":        "catedra@example.com",
		"To":          "juan@example.com",
		"In-Reply-To": "<a@example.com>",
		"References":  "<a@example.com>",
	}
	for k, want := range headers {
		if got := msg.Header.Get(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if subject != r.Subject {
		t.Errorf("Subject: got %q, want %q", subject, r.Subject)
	}

	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if err != nil {
		t.Fatalf("body decode: %v", err)
	}
	if got := strings.ReplaceAll(string(body), "\r\n", "\n"); got != r.Body {
		t.Errorf("Body: got %q, want %q", got, r.Body)
	}

	raw, err = (&Reply{To: "x@example.com", Subject: "s"}).MIME("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(raw), "From:") || strings.Contains(string(raw), "In-Reply-To:") {
		t.Errorf("empty headers should be omitted:\n%s", raw)
	}
}
