// Package platform is a self-contained implementation of the session API
// contract, mirroring the production exam platform closely enough that the
// engine can run and be tested against it offline.
package platform

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/toeicprep/session-engine/internal/session"
)

const Schema = `
CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  audio_url TEXT NOT NULL DEFAULT '',
  questions_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id),
  user_id TEXT NOT NULL,
  mode TEXT NOT NULL,
  config_json TEXT NOT NULL,
  questions_json TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  submitted_at INTEGER,
  deadline INTEGER,
  score REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_answers (
  session_id TEXT NOT NULL REFERENCES sessions(id),
  question_id TEXT NOT NULL,
  selected TEXT NOT NULL,
  time_spent INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, question_id)
);
`

var (
	ErrNotFound  = errors.New("not found")
	ErrSubmitted = errors.New("session already submitted")
)

// Test is the server-side test record. Question choices keep their Correct
// flags here; they are stripped before questions are served to a live
// session and only surface again through the results endpoint.
type Test struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	AudioURL  string             `json:"audio_url,omitempty"`
	Questions []session.Question `json:"questions"`
}

type Statistics struct {
	SessionsTaken int     `json:"sessions_taken"`
	Answered      int     `json:"answered"`
	Correct       int     `json:"correct"`
	AvgPercent    float64 `json:"avg_percent"`
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) PutTest(t Test) error {
	qj, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tests (id,title,audio_url,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, audio_url=EXCLUDED.audio_url, questions_json=EXCLUDED.questions_json`,
		t.ID, t.Title, t.AudioURL, string(qj), s.now().Unix())
	return err
}

func (s *SQLStore) GetTest(id string) (Test, error) {
	var t Test
	var qj string
	err := s.db.QueryRow(`SELECT id,title,audio_url,questions_json FROM tests WHERE id=$1`, id).
		Scan(&t.ID, &t.Title, &t.AudioURL, &qj)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, ErrNotFound
	}
	if err != nil {
		return Test{}, err
	}
	if err := json.Unmarshal([]byte(qj), &t.Questions); err != nil {
		return Test{}, err
	}
	return t, nil
}

// StartSession snapshots the test's questions for the selected parts,
// renumbers them 1..N and creates an in-progress session row.
func (s *SQLStore) StartSession(testID, userID, mode string, cfg session.TestConfig) (session.Session, error) {
	t, err := s.GetTest(testID)
	if err != nil {
		return session.Session{}, err
	}
	qs := selectQuestions(t.Questions, cfg)
	if len(qs) == 0 {
		return session.Session{}, fmt.Errorf("no questions for selected parts")
	}
	cfg.Parts = session.DeriveParts(qs)

	id := uuid.NewString()
	started := s.now()
	var deadline sql.NullInt64
	if cfg.TimeLimitMin > 0 {
		deadline = sql.NullInt64{Int64: started.Add(time.Duration(cfg.TimeLimitMin) * time.Minute).Unix(), Valid: true}
	}
	cj, _ := json.Marshal(cfg)
	qj, _ := json.Marshal(qs)
	_, err = s.db.Exec(`INSERT INTO sessions (id,test_id,user_id,mode,config_json,questions_json,status,started_at,deadline)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, testID, userID, mode, string(cj), string(qj), session.StatusInProgress, started.Unix(), deadline)
	if err != nil {
		return session.Session{}, err
	}
	return s.GetSession(id)
}

// selectQuestions filters by the configured parts and renumbers the result.
// Shuffling only reorders standalone questions (parts 1/2/5); grouped
// clusters keep their order so a shared stimulus stays contiguous.
func selectQuestions(all []session.Question, cfg session.TestConfig) []session.Question {
	want := map[int]bool{}
	for _, p := range cfg.Parts {
		want[p] = true
	}
	var qs []session.Question
	for _, q := range all {
		if len(want) == 0 || want[q.Part] {
			qs = append(qs, q)
		}
	}
	if cfg.Shuffle {
		for _, p := range session.DeriveParts(qs) {
			shufflePart(qs, p)
		}
	}
	global := 0
	inPart := map[int]int{}
	for i := range qs {
		global++
		inPart[qs[i].Part]++
		qs[i].GlobalNumber = global
		qs[i].NumberInPart = inPart[qs[i].Part]
	}
	return qs
}

func shufflePart(qs []session.Question, part int) {
	var idx []int
	for i, q := range qs {
		if q.Part == part && q.Group == nil {
			idx = append(idx, i)
		}
	}
	rand.Shuffle(len(idx), func(a, b int) {
		qs[idx[a]], qs[idx[b]] = qs[idx[b]], qs[idx[a]]
	})
}

func (s *SQLStore) GetSession(id string) (session.Session, error) {
	var (
		sess        session.Session
		cj, qj      string
		startedAt   int64
		submittedAt sql.NullInt64
		deadline    sql.NullInt64
		testID      string
	)
	err := s.db.QueryRow(`SELECT id,test_id,mode,config_json,questions_json,status,started_at,submitted_at,deadline
		FROM sessions WHERE id=$1`, id).
		Scan(&sess.ID, &testID, &sess.Mode, &cj, &qj, &sess.Status, &startedAt, &submittedAt, &deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	if err := json.Unmarshal([]byte(cj), &sess.Config); err != nil {
		return session.Session{}, err
	}
	var qs []session.Question
	if err := json.Unmarshal([]byte(qj), &qs); err != nil {
		return session.Session{}, err
	}

	t, err := s.GetTest(testID)
	if err != nil {
		return session.Session{}, err
	}
	sess.Test = session.TestRef{ID: t.ID, Title: t.Title, AudioURL: t.AudioURL}

	answered, err := s.answeredCount(id)
	if err != nil {
		return session.Session{}, err
	}
	sess.Progress = session.Progress{Answered: answered, Total: len(qs)}
	if len(qs) > 0 {
		sess.Progress.Percent = float64(answered) / float64(len(qs)) * 100
	}
	if deadline.Valid && sess.Status == session.StatusInProgress {
		remaining := deadline.Int64 - s.now().Unix()
		if remaining < 0 {
			remaining = 0
		}
		sess.RemainingSec = int(remaining)
	}
	return sess, nil
}

func (s *SQLStore) answeredCount(id string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM session_answers WHERE session_id=$1`, id).Scan(&n)
	return n, err
}

// Questions returns the session's question snapshot with correctness
// stripped, same as the production platform serves a live session.
func (s *SQLStore) Questions(id string) ([]session.Question, error) {
	qs, err := s.rawQuestions(id)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		for j := range qs[i].Choices {
			qs[i].Choices[j].Correct = false
		}
	}
	return qs, nil
}

func (s *SQLStore) rawQuestions(id string) ([]session.Question, error) {
	var qj string
	err := s.db.QueryRow(`SELECT questions_json FROM sessions WHERE id=$1`, id).Scan(&qj)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var qs []session.Question
	if err := json.Unmarshal([]byte(qj), &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// SaveAnswers upserts a batch inside one transaction: either the whole
// batch lands or none of it does, which is what the client's unsent-queue
// draining assumes.
func (s *SQLStore) SaveAnswers(id string, answers []session.UnsentAnswer) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM sessions WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == session.StatusSubmitted {
		return ErrSubmitted
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range answers {
		if _, err := tx.Exec(`
			INSERT INTO session_answers (session_id, question_id, selected, time_spent)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (session_id, question_id)
			DO UPDATE SET selected=EXCLUDED.selected, time_spent=EXCLUDED.time_spent`,
			id, a.QuestionID, a.Selected, a.TimeSpentSec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Submit finalizes the session and scores it against the snapshot's correct
// letters. Submitting twice is accepted and changes nothing.
func (s *SQLStore) Submit(id string) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM sessions WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == session.StatusSubmitted {
		return nil
	}

	qs, err := s.rawQuestions(id)
	if err != nil {
		return err
	}
	selected, err := s.selectedAnswers(id)
	if err != nil {
		return err
	}
	correct := 0
	for _, q := range qs {
		if sel, ok := selected[q.ID]; ok && sel == correctLabel(q) {
			correct++
		}
	}
	score := 0.0
	if len(qs) > 0 {
		score = float64(correct) / float64(len(qs)) * 100
	}
	_, err = s.db.Exec(`UPDATE sessions SET status=$1, submitted_at=$2, score=$3 WHERE id=$4`,
		session.StatusSubmitted, s.now().Unix(), score, id)
	return err
}

func (s *SQLStore) selectedAnswers(id string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT question_id, selected FROM session_answers WHERE session_id=$1`, id)
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

func correctLabel(q session.Question) string {
	for _, c := range q.Choices {
		if c.Correct {
			return c.Label
		}
	}
	return ""
}

// Results returns the finalized session and its stored answers with the
// question embedded and the correct letter exposed. Unanswered questions
// appear with an empty selection so review can render every question.
func (s *SQLStore) Results(id string) (session.Session, []session.UserAnswer, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return session.Session{}, nil, err
	}
	qs, err := s.rawQuestions(id)
	if err != nil {
		return session.Session{}, nil, err
	}
	selected, err := s.selectedAnswers(id)
	if err != nil {
		return session.Session{}, nil, err
	}
	out := make([]session.UserAnswer, 0, len(qs))
	for _, q := range qs {
		out = append(out, session.UserAnswer{
			QuestionID: q.ID,
			Question:   q,
			Selected:   selected[q.ID],
			Correct:    correctLabel(q),
		})
	}
	return sess, out, nil
}

// ListSessions pages through a user's sessions, newest first.
func (s *SQLStore) ListSessions(userID string, page, limit int) ([]session.Session, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(`SELECT id FROM sessions WHERE user_id=$1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, total, nil
}

func (s *SQLStore) Statistics(userID string) (Statistics, error) {
	var st Statistics
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(score),0) FROM sessions WHERE user_id=$1 AND status=$2`,
		userID, session.StatusSubmitted).Scan(&st.SessionsTaken, &st.AvgPercent)
	if err != nil {
		return Statistics{}, err
	}
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM session_answers a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.user_id=$1 AND s.status=$2`, userID, session.StatusSubmitted).Scan(&st.Answered)
	if err != nil {
		return Statistics{}, err
	}
	// Correct count needs the per-session snapshots; sessions are small so
	// recomputing from JSON is fine at this scale.
	rows, err := s.db.Query(`SELECT id FROM sessions WHERE user_id=$1 AND status=$2`, userID, session.StatusSubmitted)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Statistics{}, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}
	for _, id := range ids {
		qs, err := s.rawQuestions(id)
		if err != nil {
			return Statistics{}, err
		}
		selected, err := s.selectedAnswers(id)
		if err != nil {
			return Statistics{}, err
		}
		for _, q := range qs {
			if sel, ok := selected[q.ID]; ok && sel == correctLabel(q) {
				st.Correct++
			}
		}
	}
	return st, nil
}

// Owner reports the user a session belongs to, for request authorization.
func (s *SQLStore) Owner(id string) (string, error) {
	var u string
	err := s.db.QueryRow(`SELECT user_id FROM sessions WHERE id=$1`, id).Scan(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return u, err
}
