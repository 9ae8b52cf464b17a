package session

import (
	"fmt"
	"sort"
)

// DeriveParts returns the sorted set of distinct part numbers present in qs.
// Computed once at load time; a session's parts never change mid-session.
func DeriveParts(qs []Question) []int {
	seen := map[int]bool{}
	for _, q := range qs {
		seen[q.Part] = true
	}
	parts := make([]int, 0, len(seen))
	for p := range seen {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts
}

// QuestionsInPart returns the subset of qs belonging to part, preserving order.
func QuestionsInPart(qs []Question, part int) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		if q.Part == part {
			out = append(out, q)
		}
	}
	return out
}

// ValidateNumbering checks that global numbers form a strictly increasing
// 1..N sequence with no gaps or duplicates once sorted, and that every
// question carries a part number.
func ValidateNumbering(qs []Question) error {
	nums := make([]int, len(qs))
	for i, q := range qs {
		if q.Part < 1 || q.Part > 7 {
			return fmt.Errorf("question %s: part %d out of range", q.ID, q.Part)
		}
		nums[i] = q.GlobalNumber
	}
	sort.Ints(nums)
	for i, n := range nums {
		if n != i+1 {
			return fmt.Errorf("global numbering broken at position %d: got %d, want %d", i, n, i+1)
		}
	}
	return nil
}
