// Package localstate is the client-side counterpart of the browser's
// localStorage: it persists the active session id so a restart can resume
// the same session, and caches answers that were already flushed to the
// platform so a resumed session does not render them as blank.
package localstate

import (
	"context"
	"database/sql"
	"errors"

	"github.com/toeicprep/session-engine/internal/session"
)

const Schema = `
CREATE TABLE IF NOT EXISTS client_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_cache (
  session_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  selected TEXT NOT NULL,
  PRIMARY KEY (session_id, question_id)
);
`

const activeSessionKey = "toeic-session-id"

type Store struct{ DB *sql.DB }

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) ActiveSessionID() (string, error) {
	var id string
	err := s.DB.QueryRow(`SELECT value FROM client_state WHERE key=$1`, activeSessionKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Store) SetActiveSession(id string) error {
	_, err := s.DB.Exec(`
		INSERT INTO client_state (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`,
		activeSessionKey, id)
	return err
}

// CacheAnswers records a flushed batch. Last write wins per question, same
// as the unsent queue it mirrors.
func (s *Store) CacheAnswers(sessionID string, answers []session.UnsentAnswer) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range answers {
		if _, err := tx.Exec(`
			INSERT INTO answer_cache (session_id, question_id, selected) VALUES ($1,$2,$3)
			ON CONFLICT (session_id, question_id) DO UPDATE SET selected=EXCLUDED.selected`,
			sessionID, a.QuestionID, a.Selected); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CachedAnswers(sessionID string) (map[string]string, error) {
	rows, err := s.DB.Query(`SELECT question_id, selected FROM answer_cache WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var qid, sel string
		if err := rows.Scan(&qid, &sel); err != nil {
			return nil, err
		}
		out[qid] = sel
	}
	return out, rows.Err()
}

// ClearSession drops the cached answers for a finalized session and, when it
// is the active one, forgets the active id as well.
func (s *Store) ClearSession(sessionID string) error {
	if _, err := s.DB.Exec(`DELETE FROM answer_cache WHERE session_id=$1`, sessionID); err != nil {
		return err
	}
	_, err := s.DB.Exec(`DELETE FROM client_state WHERE key=$1 AND value=$2`, activeSessionKey, sessionID)
	return err
}

var _ session.StateStore = (*Store)(nil)

// Ping verifies the store is reachable; used at startup.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }
