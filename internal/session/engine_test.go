package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

/* ---------------- fakes satisfying API and StateStore ---------------- */

type fakeAPI struct {
	mu            sync.Mutex
	session       Session
	questions     []Question
	sessionErr    error
	questionsErr  error
	bulkErr       error
	finalizeErr   error
	bulkCalls     [][]UnsentAnswer
	finalizeCalls int

	// when set, a bulk call signals bulkStarted and parks until bulkRelease
	bulkStarted chan struct{}
	bulkRelease chan struct{}
}

func (f *fakeAPI) GetSession(_ context.Context, id string) (Session, error) {
	if f.sessionErr != nil {
		return Session{}, f.sessionErr
	}
	s := f.session
	s.ID = id
	return s, nil
}

func (f *fakeAPI) GetQuestions(_ context.Context, _ string) ([]Question, error) {
	return f.questions, f.questionsErr
}

func (f *fakeAPI) SubmitAnswersBulk(_ context.Context, _ string, answers []UnsentAnswer) error {
	if f.bulkStarted != nil {
		f.bulkStarted <- struct{}{}
		<-f.bulkRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return f.bulkErr
	}
	batch := make([]UnsentAnswer, len(answers))
	copy(batch, answers)
	f.bulkCalls = append(f.bulkCalls, batch)
	return nil
}

func (f *fakeAPI) FinalizeSession(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalizeCalls++
	return nil
}

func (f *fakeAPI) snapshot() (bulk [][]UnsentAnswer, finalized int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]UnsentAnswer(nil), f.bulkCalls...), f.finalizeCalls
}

type fakeState struct {
	mu      sync.Mutex
	active  string
	cache   map[string]map[string]string
	cleared []string
}

func newFakeState() *fakeState {
	return &fakeState{cache: map[string]map[string]string{}}
}

func (s *fakeState) ActiveSessionID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *fakeState) SetActiveSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	return nil
}

func (s *fakeState) CacheAnswers(id string, answers []UnsentAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.cache[id]
	if m == nil {
		m = map[string]string{}
		s.cache[id] = m
	}
	for _, a := range answers {
		m[a.QuestionID] = a.Selected
	}
	return nil
}

func (s *fakeState) CachedAnswers(id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[id], nil
}

func (s *fakeState) ClearSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, id)
	if s.active == id {
		s.active = ""
	}
	return nil
}

/* ------------------------------- fixtures ------------------------------- */

// genQuestions builds per-part question runs with contiguous global numbers.
func genQuestions(counts map[int]int) []Question {
	var qs []Question
	global := 0
	for _, part := range []int{1, 2, 3, 4, 5, 6, 7} {
		for i := 0; i < counts[part]; i++ {
			global++
			q := q4(questionID(part, i), part, global)
			if part == 2 {
				q = q3(questionID(part, i), part, global)
			}
			q.NumberInPart = i + 1
			qs = append(qs, q)
		}
	}
	return qs
}

func questionID(part, i int) string {
	return "q" + string(rune('0'+part)) + "-" + string(rune('a'+i))
}

func liveSession(limitMin int) Session {
	return Session{
		Mode:   ModePractice,
		Status: StatusInProgress,
		Config: TestConfig{TimeLimitMin: limitMin},
		Test:   TestRef{ID: "t1", Title: "Practice Test"},
	}
}

func newTestEngine(api *fakeAPI, state StateStore) *Engine {
	e := NewEngine(api, state)
	// hand-driven clock so no test depends on wall time
	e.clock.newTicker = func() (<-chan time.Time, func()) {
		return make(chan time.Time), func() {}
	}
	return e
}

/* -------------------------------- tests -------------------------------- */

func TestEngine_LoadDerivesPartsAndCursor(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2, 5: 3})}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := e.Nav().Parts(); !reflect.DeepEqual(got, []int{1, 5}) {
		t.Fatalf("parts = %v, want [1 5]", got)
	}
	if e.Nav().CurrentPart() != 1 || e.Nav().Cursor() != 0 {
		t.Fatalf("start position = part %d cursor %d", e.Nav().CurrentPart(), e.Nav().Cursor())
	}
	if e.Answers().AnsweredCount() != 0 {
		t.Fatalf("answers must start empty")
	}
}

func TestEngine_LoadErrorTaxonomy(t *testing.T) {
	api := &fakeAPI{sessionErr: ErrNotFound}
	e := newTestEngine(api, nil)
	if err := e.Load(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	api = &fakeAPI{session: liveSession(0), questions: nil}
	e = newTestEngine(api, nil)
	if err := e.Load(context.Background(), "empty"); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}
}

func TestEngine_PracticeTwoPartsScenario(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 6, 2: 25})}
	state := newFakeState()
	e := newTestEngine(api, state)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	for n := 1; n <= 6; n++ {
		if err := e.Record(n, "A"); err != nil {
			t.Fatalf("record #%d: %v", n, err)
		}
	}
	if err := e.AdvancePart(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	bulk, _ := api.snapshot()
	if len(bulk) != 1 || len(bulk[0]) != 6 {
		t.Fatalf("bulk calls = %d with %d entries, want 1 call with 6", len(bulk), len(bulk[0]))
	}
	if e.Nav().CurrentPart() != 2 || e.Nav().Cursor() != 0 {
		t.Fatalf("after advance: part %d cursor %d, want part 2 cursor 0", e.Nav().CurrentPart(), e.Nav().Cursor())
	}
	for _, u := range e.Answers().Unsent() {
		for _, q := range QuestionsInPart(e.Questions(), 1) {
			if u.QuestionID == q.ID {
				t.Fatalf("part 1 entry %s survived the flush", u.QuestionID)
			}
		}
	}
	if len(state.cache["s1"]) != 6 {
		t.Fatalf("flushed answers not cached for rehydration: %v", state.cache["s1"])
	}
}

func TestEngine_FlushFailureRetainsQueue(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 3})}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	for n := 1; n <= 3; n++ {
		_ = e.Record(n, "B")
	}
	before := e.Answers().Unsent()

	api.bulkErr = errors.New("boom")
	if err := e.AdvancePart(context.Background()); err == nil {
		t.Fatalf("expected advance to fail")
	}
	after := e.Answers().Unsent()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("queue changed across a failed flush:\nbefore %+v\nafter  %+v", before, after)
	}
	if e.LastError() == "" {
		t.Fatalf("failure must surface as an inline error string")
	}

	// manual retry resends the identical batch
	api.bulkErr = nil
	if err := e.AdvancePart(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	bulk, _ := api.snapshot()
	if len(bulk) != 1 || !reflect.DeepEqual(bulk[0], before) {
		t.Fatalf("retry batch differs from original: %+v", bulk)
	}
	if e.LastError() != "" {
		t.Fatalf("error string must clear after a successful call")
	}
}

func TestEngine_RecordDuringFlushStaysQueued(t *testing.T) {
	api := &fakeAPI{
		session:     liveSession(0),
		questions:   genQuestions(map[int]int{1: 2}),
		bulkStarted: make(chan struct{}),
		bulkRelease: make(chan struct{}),
	}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "A")

	done := make(chan error, 1)
	go func() { done <- e.AdvancePart(context.Background()) }()
	<-api.bulkStarted

	// the answer changes while the batch is on the wire
	if err := e.Record(1, "B"); err != nil {
		t.Fatalf("record mid-flush: %v", err)
	}
	close(api.bulkRelease)
	if err := <-done; err != nil {
		t.Fatalf("advance: %v", err)
	}

	unsent := e.Answers().Unsent()
	if len(unsent) != 1 || unsent[0].Selected != "B" {
		t.Fatalf("mid-flush answer lost from the queue: %+v", unsent)
	}

	// the next flush delivers the newer letter
	api.bulkStarted = nil
	if err := e.AdvancePart(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	bulk, _ := api.snapshot()
	if len(bulk) != 2 || len(bulk[1]) != 1 || bulk[1][0].Selected != "B" {
		t.Fatalf("newer answer never delivered: %+v", bulk)
	}
}

func TestEngine_FinalizeFlushesAllAndRedirects(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2, 2: 2})}
	state := newFakeState()
	e := newTestEngine(api, state)
	defer e.Close()

	var redirected []string
	e.OnResult(func(id string) { redirected = append(redirected, id) })

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "A")
	_ = e.Record(3, "C")

	if err := e.Finalize(context.Background(), false); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	bulk, fin := api.snapshot()
	if len(bulk) != 1 || len(bulk[0]) != 2 {
		t.Fatalf("finalize flush = %+v, want one call with both parts' answers", bulk)
	}
	if fin != 1 {
		t.Fatalf("finalize calls = %d, want 1", fin)
	}
	if len(redirected) != 1 || redirected[0] != "s1" {
		t.Fatalf("redirect = %v, want [s1]", redirected)
	}
	if len(state.cleared) != 1 || state.cleared[0] != "s1" {
		t.Fatalf("local state not cleared: %v", state.cleared)
	}

	// second call is a no-op, even racing a double-click
	if err := e.Finalize(context.Background(), false); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if _, fin := api.snapshot(); fin != 1 {
		t.Fatalf("finalize ran twice")
	}
	if err := e.Record(2, "B"); !errors.Is(err, ErrInputLocked) {
		t.Fatalf("record after finalize = %v, want ErrInputLocked", err)
	}
}

func TestEngine_FinalizeSuppressRedirect(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 1})}
	e := newTestEngine(api, nil)
	defer e.Close()

	redirects := 0
	e.OnResult(func(string) { redirects++ })
	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.Finalize(context.Background(), true); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if redirects != 0 {
		t.Fatalf("redirect fired despite suppression")
	}
}

func TestEngine_FinalizeFailureKeepsQueueForRetry(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2})}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "A")
	api.bulkErr = errors.New("network down")
	if err := e.Finalize(context.Background(), false); err == nil {
		t.Fatalf("expected finalize to fail")
	}
	if len(e.Answers().Unsent()) != 1 {
		t.Fatalf("queue drained on failure")
	}
	if _, fin := api.snapshot(); fin != 0 {
		t.Fatalf("session submitted despite flush failure")
	}

	api.bulkErr = nil
	if err := e.Finalize(context.Background(), false); err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	if _, fin := api.snapshot(); fin != 1 {
		t.Fatalf("retry did not finalize")
	}
}

func TestEngine_FinalizeCachesFlushedAnswersForRestart(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2})}
	state := newFakeState()
	e := newTestEngine(api, state)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "A")
	_ = e.Record(2, "C")

	// the flush lands but the submit itself fails; a process restart must
	// still find the flushed answers in the rehydration cache
	api.finalizeErr = errors.New("gateway timeout")
	if err := e.Finalize(context.Background(), false); err == nil {
		t.Fatalf("expected finalize to fail")
	}
	cached := state.cache["s1"]
	if len(cached) != 2 || cached[questionID(1, 0)] != "A" || cached[questionID(1, 1)] != "C" {
		t.Fatalf("flushed answers missing from cache: %v", cached)
	}
}

func TestEngine_ReloadRestartsCountdown(t *testing.T) {
	api := &fakeAPI{session: liveSession(5), questions: genQuestions(map[int]int{1: 1})}
	api.session.RemainingSec = 2
	e := NewEngine(api, nil)
	defer e.Close()

	tick := make(chan time.Time)
	e.clock.newTicker = func() (<-chan time.Time, func()) { return tick, func() {} }
	redirected := make(chan string, 2)
	e.OnResult(func(id string) { redirected <- id })

	if err := e.Load(context.Background(), "a"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	tick <- time.Time{}
	tick <- time.Time{}
	select {
	case <-redirected:
	case <-time.After(2 * time.Second):
		t.Fatalf("first session never auto-submitted")
	}

	// a fresh load must replace the expired clock, not keep it
	api.session.RemainingSec = 60
	if err := e.Load(context.Background(), "b"); err != nil {
		t.Fatalf("load b: %v", err)
	}
	if !e.Clock().Running() || e.Clock().Remaining() != 60 {
		t.Fatalf("reload kept the old clock: running=%v remaining=%d",
			e.Clock().Running(), e.Clock().Remaining())
	}
	tick <- time.Time{}
	if got := e.Clock().Remaining(); got != 59 {
		t.Fatalf("reloaded clock not ticking: remaining=%d", got)
	}
	for i := 0; i < 59; i++ {
		tick <- time.Time{}
	}
	select {
	case id := <-redirected:
		if id != "b" {
			t.Fatalf("second expiry redirected to %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reloaded session never auto-submitted")
	}
}

func TestEngine_TimeoutAutoSubmit(t *testing.T) {
	api := &fakeAPI{session: liveSession(1), questions: genQuestions(map[int]int{1: 4, 2: 6})}
	e := NewEngine(api, nil)
	defer e.Close()

	tick := make(chan time.Time)
	e.clock.newTicker = func() (<-chan time.Time, func()) { return tick, func() {} }

	redirected := make(chan string, 1)
	e.OnResult(func(id string) { redirected <- id })

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !e.Clock().Running() {
		t.Fatalf("countdown must run for a 1-minute limit")
	}
	for n := 1; n <= 3; n++ {
		if err := e.Record(n, "A"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	for i := 0; i < 60; i++ {
		tick <- time.Time{}
	}

	select {
	case id := <-redirected:
		if id != "s1" {
			t.Fatalf("redirected to %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("auto-submit never completed")
	}

	bulk, fin := api.snapshot()
	if len(bulk) != 1 || len(bulk[0]) != 3 {
		t.Fatalf("auto-submit flush = %+v, want one call with the 3 unsent answers", bulk)
	}
	if fin != 1 {
		t.Fatalf("finalize calls = %d, want exactly 1", fin)
	}
	if err := e.Record(4, "B"); !errors.Is(err, ErrInputLocked) {
		t.Fatalf("record after expiry = %v, want ErrInputLocked", err)
	}
}

func TestEngine_NoAutoSubmitWhenUnlimited(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2})}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Clock().Running() {
		t.Fatalf("countdown running for an unlimited session")
	}
	time.Sleep(50 * time.Millisecond)
	if _, fin := api.snapshot(); fin != 0 {
		t.Fatalf("finalize auto-invoked without a time limit")
	}
}

func TestEngine_ResumeRehydratesFlushedAnswers(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{1: 2, 2: 1})}
	state := newFakeState()
	state.active = "s1"
	state.cache["s1"] = map[string]string{questionID(1, 0): "B"}

	e := newTestEngine(api, state)
	defer e.Close()

	if err := e.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if e.Session().ID != "s1" {
		t.Fatalf("resumed wrong session %q", e.Session().ID)
	}
	if got, ok := e.Answers().Selected(questionID(1, 0)); !ok || got != "B" {
		t.Fatalf("flushed answer not rehydrated: %q %v", got, ok)
	}
	if len(e.Answers().Unsent()) != 0 {
		t.Fatalf("rehydrated answers must not be queued for re-delivery")
	}
}

func TestEngine_ResumeWithoutActiveSession(t *testing.T) {
	e := newTestEngine(&fakeAPI{}, newFakeState())
	if err := e.Resume(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEngine_AdvanceAtLastPartOnlyFlushes(t *testing.T) {
	api := &fakeAPI{session: liveSession(0), questions: genQuestions(map[int]int{2: 3})}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "A")
	if err := e.AdvancePart(context.Background()); err != nil {
		t.Fatalf("advance at last part: %v", err)
	}
	bulk, _ := api.snapshot()
	if len(bulk) != 1 {
		t.Fatalf("flush skipped at last part")
	}
	if e.Nav().CurrentPart() != 2 {
		t.Fatalf("part moved past the last one: %d", e.Nav().CurrentPart())
	}
}

func TestEngine_LiveChoicesNeverExposeCorrectness(t *testing.T) {
	qs := genQuestions(map[int]int{1: 1})
	qs[0].Choices[2].Correct = true // hostile payload; live view must ignore it
	api := &fakeAPI{session: liveSession(0), questions: qs}
	e := newTestEngine(api, nil)
	defer e.Close()

	if err := e.Load(context.Background(), "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = e.Record(1, "B")
	for _, c := range e.Choices(e.Questions()[0]) {
		if c.IsCorrect {
			t.Fatalf("live rendering leaked correctness")
		}
		if c.IsUserChoice != (c.Label == "B") {
			t.Fatalf("user choice flag wrong on %s", c.Label)
		}
	}
}
