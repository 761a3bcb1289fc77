// Package assign partitions students across reviewers as evenly as
// possible.
package assign

import (
	"errors"
	"fmt"
)

// ErrNoReviewers is returned when there is nobody to assign students to.
var ErrNoReviewers = errors.New("no reviewers configured")

// Shuffler randomizes the order of n elements through swap.
// *math/rand/v2.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Reviewer is a grader and the legajos assigned to them.
type Reviewer struct {
	Name       string
	StudentIDs []int
}

// Assign distributes ids across reviewers. Every reviewer receives
// len(ids)/len(reviewers) students; the remainder goes one each to
// randomly chosen reviewers. The result follows the order of reviewers
// and the ID sets are pairwise disjoint.
func Assign(ids []int, reviewers []string, s Shuffler) ([]Reviewer, error) {
	if len(reviewers) == 0 {
		return nil, ErrNoReviewers
	}

	seen := make(map[string]bool, len(reviewers))
	for _, name := range reviewers {
		if seen[name] {
			return nil, fmt.Errorf("reviewer %q is listed twice", name)
		}
		seen[name] = true
	}

	pool := append([]int(nil), ids...)
	s.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	order := make([]int, len(reviewers))
	for i := range order {
		order[i] = i
	}
	s.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	base := len(pool) / len(reviewers)
	remainder := len(pool) % len(reviewers)

	sizes := make([]int, len(reviewers))
	for rank, idx := range order {
		sizes[idx] = base
		if rank < remainder {
			sizes[idx]++
		}
	}

	out := make([]Reviewer, len(reviewers))
	next := 0
	for i, name := range reviewers {
		out[i] = Reviewer{
			Name:       name,
			StudentIDs: append([]int{}, pool[next:next+sizes[i]]...),
		}
		next += sizes[i]
	}

	return out, nil
}
