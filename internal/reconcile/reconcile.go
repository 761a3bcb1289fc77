// Package reconcile matches inbox messages to roster students by the legajo
// found in the message subject.
package reconcile

import (
	"log/slog"
	"regexp"

	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/naming"
	"github.com/shineum/submission-triage/internal/roster"
)

// subjectNoise matches runs of non-digits, optionally swallowing a single
// digit glued between them (e.g. the "1" in "TP1 -").
var subjectNoise = regexp.MustCompile(`\D+\d?\D`)

// Stats counts what each reconciliation step discarded.
type Stats struct {
	Fetched         int
	NoSubjectID     int
	Duplicates      int
	NoAttachment    int
	StudentsWithout int
}

// Result is the outcome of Reconcile.
type Result struct {
	// Students is the working set for this run: roster students joined
	// to exactly one message, in roster order.
	Students []*roster.Student

	// Unmatched holds surviving messages whose legajo is not in the roster.
	Unmatched []*email.Message

	Stats Stats
}

// SubjectID recovers the legajo from a message subject. It returns 0 when
// no number can be recovered.
func SubjectID(subject string) int {
	return naming.ParseLegajo(subjectNoise.ReplaceAllString(subject, ""))
}

// Reconcile sets SubjectID on every message, runs the filtering pipeline
// and joins the survivors to copies of the roster students.
func Reconcile(students []roster.Student, msgs []*email.Message) Result {
	res := Result{Stats: Stats{Fetched: len(msgs)}}

	for _, m := range msgs {
		m.SubjectID = SubjectID(m.Subject)
	}

	surviving := DropUnidentified(msgs)
	res.Stats.NoSubjectID = len(msgs) - len(surviving)

	before := len(surviving)
	surviving = Dedupe(surviving)
	res.Stats.Duplicates = before - len(surviving)

	before = len(surviving)
	surviving = DropWithoutAttachment(surviving)
	res.Stats.NoAttachment = before - len(surviving)

	res.Students, res.Unmatched = Join(students, surviving)
	res.Stats.StudentsWithout = countValid(students) - len(res.Students)

	slog.Info("messages reconciled",
		"fetched", res.Stats.Fetched,
		"no_subject_id", res.Stats.NoSubjectID,
		"duplicates", res.Stats.Duplicates,
		"no_attachment", res.Stats.NoAttachment,
		"joined", len(res.Students),
		"unmatched", len(res.Unmatched),
	)
	for _, m := range res.Unmatched {
		slog.Warn("message legajo not in roster",
			"legajo", m.SubjectID,
			"subject", m.Subject,
			"from", m.From,
		)
	}

	return res
}

// DropUnidentified returns the messages with a non-zero SubjectID.
func DropUnidentified(msgs []*email.Message) []*email.Message {
	out := make([]*email.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SubjectID != 0 {
			out = append(out, m)
		}
	}
	return out
}

// Dedupe removes repeated submissions until every SubjectID appears once.
// Each pass resolves the first duplicated ID in list order and starts
// over. The survivor of a group is the message with the latest Date; on
// equal dates the later list position wins.
func Dedupe(msgs []*email.Message) []*email.Message {
	out := append([]*email.Message(nil), msgs...)

	for {
		group := firstDuplicateGroup(out)
		if group == nil {
			return out
		}

		keep := group[0]
		for _, idx := range group[1:] {
			if !out[idx].Date.Before(out[keep].Date) {
				keep = idx
			}
		}

		drop := make(map[int]bool, len(group)-1)
		for _, idx := range group {
			if idx != keep {
				drop[idx] = true
			}
		}

		next := out[:0:0]
		for i, m := range out {
			if !drop[i] {
				next = append(next, m)
			}
		}
		out = next
	}
}

// firstDuplicateGroup returns the list positions of the first SubjectID,
// in order of first appearance, that occurs more than once; nil if none.
func firstDuplicateGroup(msgs []*email.Message) []int {
	positions := make(map[int][]int)
	order := make([]int, 0, len(msgs))
	for i, m := range msgs {
		if _, seen := positions[m.SubjectID]; !seen {
			order = append(order, m.SubjectID)
		}
		positions[m.SubjectID] = append(positions[m.SubjectID], i)
	}

	for _, id := range order {
		if len(positions[id]) > 1 {
			return positions[id]
		}
	}
	return nil
}

// DropWithoutAttachment returns the messages that carry at least one
// fetchable attachment.
func DropWithoutAttachment(msgs []*email.Message) []*email.Message {
	out := make([]*email.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.HasAttachment() {
			out = append(out, m)
		} else {
			slog.Debug("message has no attachment", "legajo", m.SubjectID, "subject", m.Subject)
		}
	}
	return out
}

// Join attaches each message to the roster student sharing its ID.
// Students without a message are left out of the returned working set;
// each student gets at most one message. Messages whose ID has no
// student are returned as unmatched.
func Join(students []roster.Student, msgs []*email.Message) ([]*roster.Student, []*email.Message) {
	byID := make(map[int]*email.Message, len(msgs))
	for _, m := range msgs {
		if _, ok := byID[m.SubjectID]; !ok {
			byID[m.SubjectID] = m
		}
	}

	joined := make([]*roster.Student, 0, len(msgs))
	used := make(map[int]bool, len(msgs))
	for _, s := range students {
		if s.ID == 0 || used[s.ID] {
			continue
		}
		m, ok := byID[s.ID]
		if !ok {
			continue
		}
		used[s.ID] = true

		st := s
		st.Message = m
		st.Files = nil
		st.SubmissionValid = false
		st.ReplySent = false
		joined = append(joined, &st)
	}

	var unmatched []*email.Message
	for _, m := range msgs {
		if !used[m.SubjectID] {
			unmatched = append(unmatched, m)
		}
	}

	return joined, unmatched
}

func countValid(students []roster.Student) int {
	n := 0
	for _, s := range students {
		if s.ID != 0 {
			n++
		}
	}
	return n
}
