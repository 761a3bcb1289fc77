// Package submission tracks each student's submission state across
// incremental runs and turns archive inspections into reports and replies.
package submission

import (
	"github.com/shineum/submission-triage/internal/roster"
)

// ExcludeValid returns the students of fresh that are not already valid in
// previous. Their attachments never need to be downloaded again.
func ExcludeValid(previous, fresh []*roster.Student) []*roster.Student {
	valid := make(map[int]bool, len(previous))
	for _, s := range previous {
		if s.SubmissionValid {
			valid[s.ID] = true
		}
	}

	out := make([]*roster.Student, 0, len(fresh))
	for _, s := range fresh {
		if !valid[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// Merge folds a freshly reconciled batch into the previous working set.
//
// Previously valid students are kept as they are and their fresh entry is
// discarded. Previously invalid students take the fresh files and message
// and owe a new reply. Students never seen before are appended in fresh
// order. previous keeps its order and its pointers; the returned slice is
// new.
func Merge(previous, fresh []*roster.Student) []*roster.Student {
	byID := make(map[int]*roster.Student, len(fresh))
	for _, s := range fresh {
		if _, ok := byID[s.ID]; !ok {
			byID[s.ID] = s
		}
	}

	merged := make([]*roster.Student, 0, len(previous)+len(fresh))
	known := make(map[int]bool, len(previous))
	for _, prev := range previous {
		known[prev.ID] = true
		merged = append(merged, prev)

		if prev.SubmissionValid {
			continue
		}
		if f, ok := byID[prev.ID]; ok {
			prev.Files = f.Files
			prev.Message = f.Message
			prev.ReplySent = false
		}
	}

	for _, s := range fresh {
		if known[s.ID] {
			continue
		}
		known[s.ID] = true
		merged = append(merged, s)
	}

	return merged
}
