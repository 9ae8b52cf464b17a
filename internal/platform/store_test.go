package platform_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/toeicprep/session-engine/internal/db"
	"github.com/toeicprep/session-engine/internal/platform"
	"github.com/toeicprep/session-engine/internal/session"
)

func newStore(t *testing.T) *platform.SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "platform.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn, platform.Schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	store := platform.NewSQLStore(dbh)
	if err := platform.Seed(store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestStore_StartSessionRenumbersSelectedParts(t *testing.T) {
	store := newStore(t)

	sess, err := store.StartSession("sample-mini", "u1", session.ModePractice,
		session.TestConfig{Parts: []int{1, 2}, TimeLimitMin: 10})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sess.Config.Parts) != 2 {
		t.Fatalf("config parts = %v", sess.Config.Parts)
	}
	if sess.RemainingSec <= 0 || sess.RemainingSec > 600 {
		t.Fatalf("remaining = %d, want within (0,600]", sess.RemainingSec)
	}

	qs, err := store.Questions(sess.ID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(qs) != 5 {
		t.Fatalf("parts 1+2 of the sample = %d questions, want 5", len(qs))
	}
	if err := session.ValidateNumbering(qs); err != nil {
		t.Fatalf("renumbering broken: %v", err)
	}
	for _, q := range qs {
		for _, c := range q.Choices {
			if c.Correct {
				t.Fatalf("live questions leaked the correct flag on %s", q.ID)
			}
		}
	}
}

func TestStore_StartSessionUnknownTest(t *testing.T) {
	store := newStore(t)
	if _, err := store.StartSession("nope", "u1", session.ModePractice, session.TestConfig{}); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStore_SaveAnswersIsAllOrNothingAndUpserts(t *testing.T) {
	store := newStore(t)
	sess, err := store.StartSession("sample-mini", "u1", session.ModePractice, session.TestConfig{Parts: []int{2}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := store.SaveAnswers(sess.ID, []session.UnsentAnswer{
		{QuestionID: "q-201", Selected: "A"},
		{QuestionID: "q-202", Selected: "B"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveAnswers(sess.ID, []session.UnsentAnswer{{QuestionID: "q-201", Selected: "C"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Progress.Answered != 2 {
		t.Fatalf("answered = %d, want 2 (upsert must not duplicate)", got.Progress.Answered)
	}

	if err := store.Submit(sess.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err = store.SaveAnswers(sess.ID, []session.UnsentAnswer{{QuestionID: "q-203", Selected: "A"}})
	if !errors.Is(err, platform.ErrSubmitted) {
		t.Fatalf("post-submit save = %v, want ErrSubmitted", err)
	}
}

func TestStore_SubmitScoresAndIsIdempotent(t *testing.T) {
	store := newStore(t)
	sess, err := store.StartSession("sample-mini", "u1", session.ModePractice, session.TestConfig{Parts: []int{2}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// part 2 correct letters: C, A, B — answer two right, one wrong
	_ = store.SaveAnswers(sess.ID, []session.UnsentAnswer{
		{QuestionID: "q-201", Selected: "C"},
		{QuestionID: "q-202", Selected: "A"},
		{QuestionID: "q-203", Selected: "C"},
	})
	if err := store.Submit(sess.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.Submit(sess.ID); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	got, _ := store.GetSession(sess.ID)
	if got.Status != session.StatusSubmitted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.RemainingSec != 0 {
		t.Fatalf("submitted session still reports remaining time %d", got.RemainingSec)
	}

	_, answers, err := store.Results(sess.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("results cover %d questions, want all 3", len(answers))
	}
	correct := 0
	for _, a := range answers {
		if a.Correct == "" {
			t.Fatalf("result for %s missing correct letter", a.QuestionID)
		}
		if a.Selected == a.Correct {
			correct++
		}
	}
	if correct != 2 {
		t.Fatalf("correct = %d, want 2", correct)
	}

	st, err := store.Statistics("u1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.SessionsTaken != 1 || st.Answered != 3 || st.Correct != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStore_ListSessionsPaging(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.StartSession("sample-mini", "u1", session.ModePractice, session.TestConfig{Parts: []int{5}}); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	if _, err := store.StartSession("sample-mini", "other", session.ModePractice, session.TestConfig{Parts: []int{5}}); err != nil {
		t.Fatalf("start other: %v", err)
	}

	sessions, total, err := store.ListSessions("u1", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(sessions) != 2 {
		t.Fatalf("page 1: total=%d len=%d, want 3 and 2", total, len(sessions))
	}
	sessions, _, err = store.ListSessions("u1", 2, 2)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("page 2: len=%d err=%v", len(sessions), err)
	}
}
