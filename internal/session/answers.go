package session

import (
	"fmt"
	"sync"
)

// AnswerStore holds the in-memory answers for one live session: the selected
// letter per question plus the queue of answers not yet acknowledged by the
// platform. The countdown goroutine and UI callbacks may touch it
// concurrently, so all access goes through the mutex.
type AnswerStore struct {
	mu       sync.RWMutex
	selected map[string]string // questionID -> letter
	unsent   []UnsentAnswer    // at most one entry per questionID
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{selected: map[string]string{}}
}

// Record sets the answer for q and upserts the matching unsent-queue entry.
// The letter must be one of q's actual choice labels: part 2 questions carry
// three choices, the rest four, and stray letters from positional UI wiring
// are rejected instead of being silently stored.
func (s *AnswerStore) Record(q Question, letter string, timeSpentSec int) error {
	ok := false
	for _, c := range q.Choices {
		if c.Label == letter {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("question %s has no choice %q", q.ID, letter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected[q.ID] = letter
	for i := range s.unsent {
		if s.unsent[i].QuestionID == q.ID {
			s.unsent[i].Selected = letter
			s.unsent[i].TimeSpentSec = timeSpentSec
			return nil
		}
	}
	s.unsent = append(s.unsent, UnsentAnswer{QuestionID: q.ID, Selected: letter, TimeSpentSec: timeSpentSec})
	return nil
}

// Selected returns the recorded letter for a question, if any.
func (s *AnswerStore) Selected(questionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.selected[questionID]
	return l, ok
}

// AnsweredCount returns how many questions currently hold an answer.
func (s *AnswerStore) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selected)
}

// Unsent returns a copy of the pending queue in insertion order.
func (s *AnswerStore) Unsent() []UnsentAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UnsentAnswer, len(s.unsent))
	copy(out, s.unsent)
	return out
}

// UnsentForPart returns the pending entries whose question belongs to part.
func (s *AnswerStore) UnsentForPart(qs []Question, part int) []UnsentAnswer {
	inPart := map[string]bool{}
	for _, q := range qs {
		if q.Part == part {
			inPart[q.ID] = true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UnsentAnswer
	for _, u := range s.unsent {
		if inPart[u.QuestionID] {
			out = append(out, u)
		}
	}
	return out
}

// MarkFlushed removes exactly the given entries from the queue. Called only
// after the platform acknowledged the bulk call that carried them; a failed
// call leaves the queue untouched so a retry resends everything. Removal
// matches on the full entry, not the question id: an answer re-recorded
// while the batch was on the wire no longer equals the sent value and stays
// queued for the next flush.
func (s *AnswerStore) MarkFlushed(sent []UnsentAnswer) {
	done := make(map[string]UnsentAnswer, len(sent))
	for _, u := range sent {
		done[u.QuestionID] = u
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.unsent[:0]
	for _, u := range s.unsent {
		if flushed, ok := done[u.QuestionID]; !ok || flushed != u {
			kept = append(kept, u)
		}
	}
	s.unsent = kept
}

// Rehydrate seeds previously flushed answers (from the local cache or the
// results endpoint) without queueing them for re-delivery.
func (s *AnswerStore) Rehydrate(answers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, letter := range answers {
		if letter == "" {
			continue
		}
		if _, exists := s.selected[id]; !exists {
			s.selected[id] = letter
		}
	}
}
