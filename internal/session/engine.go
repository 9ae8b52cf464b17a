package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Error taxonomy surfaced by the loader and projector. Anything else coming
// out of the API is transient: shown inline and retried manually by the user.
var (
	ErrNotFound     = errors.New("session not found")
	ErrEmptyContent = errors.New("session has no questions")
	ErrNoData       = errors.New("no answer data")
	ErrBusy         = errors.New("submission already in flight")
	ErrInputLocked  = errors.New("session no longer accepts answers")
)

// API is the slice of the platform client the engine needs.
type API interface {
	GetSession(ctx context.Context, id string) (Session, error)
	GetQuestions(ctx context.Context, id string) ([]Question, error)
	SubmitAnswersBulk(ctx context.Context, id string, answers []UnsentAnswer) error
	FinalizeSession(ctx context.Context, id string) error
}

// StateStore persists the little client-side state that must survive a
// process restart: the active session id and a cache of already-flushed
// answers used to rehydrate a resumed session.
type StateStore interface {
	ActiveSessionID() (string, error)
	SetActiveSession(id string) error
	CacheAnswers(sessionID string, answers []UnsentAnswer) error
	CachedAnswers(sessionID string) (map[string]string, error)
	ClearSession(sessionID string) error
}

// Engine drives one live test-taking session: it loads the session and its
// questions, records answers, flushes them part by part, runs the countdown
// and finalizes the session on submit or timeout.
type Engine struct {
	api   API
	state StateStore
	clock *Countdown
	now   func() time.Time

	mu        sync.Mutex
	session   Session
	questions []Question
	byNumber  map[int]Question
	answers   *AnswerStore
	nav       *Navigator
	shownAt   time.Time // when the current question got focus
	busy      bool
	finalized bool
	locked    bool
	closed    bool
	lastErr   string

	onResult func(sessionID string) // redirect to the results view
}

func NewEngine(api API, state StateStore) *Engine {
	if state == nil {
		state = noopState{}
	}
	return &Engine{
		api:     api,
		state:   state,
		clock:   NewCountdown(),
		now:     time.Now,
		answers: NewAnswerStore(),
	}
}

// OnResult registers the navigation hook invoked after a successful
// finalize, unless the caller suppressed the redirect.
func (e *Engine) OnResult(fn func(sessionID string)) { e.onResult = fn }

// Resume loads the session recorded in the local state store. ErrNotFound
// when no active session is persisted.
func (e *Engine) Resume(ctx context.Context) error {
	id, err := e.state.ActiveSessionID()
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNotFound
	}
	return e.Load(ctx, id)
}

// Load fetches the session descriptor and its question list, derives the
// part sequence and starts the countdown. Exactly one fetch of each per
// call; the engine never polls.
func (e *Engine) Load(ctx context.Context, id string) error {
	// loading replaces any previous session; its clock must not survive
	e.clock.Stop()
	sess, err := e.api.GetSession(ctx, id)
	if err != nil {
		return err
	}
	qs, err := e.api.GetQuestions(ctx, id)
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		return ErrEmptyContent
	}
	if err := ValidateNumbering(qs); err != nil {
		return fmt.Errorf("question list invalid: %w", err)
	}

	byNumber := make(map[int]Question, len(qs))
	for _, q := range qs {
		byNumber[q.GlobalNumber] = q
	}

	e.mu.Lock()
	e.session = sess
	e.questions = qs
	e.byNumber = byNumber
	e.answers = NewAnswerStore()
	e.nav = NewNavigator(DeriveParts(qs), qs)
	e.shownAt = e.now()
	e.finalized = sess.Status == StatusSubmitted
	e.locked = e.finalized
	e.lastErr = ""
	e.mu.Unlock()

	// Answers flushed before a reload live in the local cache; without this
	// a resumed session shows them as blank.
	if cached, err := e.state.CachedAnswers(id); err == nil && len(cached) > 0 {
		e.answers.Rehydrate(cached)
	}
	if err := e.state.SetActiveSession(id); err != nil {
		log.Printf("session %s: persist active id: %v", id, err)
	}

	if sess.Status == StatusInProgress {
		seconds := sess.RemainingSec
		if seconds <= 0 {
			seconds = sess.Config.TimeLimitMin * 60
		}
		e.clock.OnExpire(func() { go e.autoSubmit() })
		e.clock.Start(seconds)
	}
	return nil
}

func (e *Engine) Session() Session { e.mu.Lock(); defer e.mu.Unlock(); return e.session }

func (e *Engine) Questions() []Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.questions
}

func (e *Engine) Nav() *Navigator       { e.mu.Lock(); defer e.mu.Unlock(); return e.nav }
func (e *Engine) Answers() *AnswerStore { e.mu.Lock(); defer e.mu.Unlock(); return e.answers }
func (e *Engine) Clock() *Countdown     { return e.clock }

// LastError returns the inline error string from the most recent failed
// flush or finalize, empty when the last call succeeded.
func (e *Engine) LastError() string { e.mu.Lock(); defer e.mu.Unlock(); return e.lastErr }

// Record stores the selected letter for the question with the given global
// number. Rejected once time has expired or the session was finalized.
func (e *Engine) Record(globalNumber int, letter string) error {
	e.mu.Lock()
	if e.locked {
		e.mu.Unlock()
		return ErrInputLocked
	}
	q, ok := e.byNumber[globalNumber]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no question numbered %d", globalNumber)
	}
	spent := int(e.now().Sub(e.shownAt) / time.Second)
	e.shownAt = e.now()
	store := e.answers
	e.mu.Unlock()

	return store.Record(q, letter, spent)
}

// AdvancePart flushes the unsent answers of the current part in one bulk
// call and, on success, drops exactly those entries and moves to the next
// part. A failed flush leaves the queue byte-for-byte intact so clicking
// again resends the full batch. At the last part it only flushes.
func (e *Engine) AdvancePart(ctx context.Context) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.busy = true
	id := e.session.ID
	part := e.nav.CurrentPart()
	qs := e.questions
	store := e.answers
	nav := e.nav
	e.mu.Unlock()

	defer e.clearBusy()

	batch := store.UnsentForPart(qs, part)
	if len(batch) > 0 {
		if err := e.api.SubmitAnswersBulk(ctx, id, batch); err != nil {
			return e.fail(fmt.Errorf("submit part %d answers: %w", part, err))
		}
		store.MarkFlushed(batch)
		if err := e.state.CacheAnswers(id, batch); err != nil {
			log.Printf("session %s: cache answers: %v", id, err)
		}
	}

	e.mu.Lock()
	if !e.closed {
		nav.NextPart()
		e.shownAt = e.now()
		e.lastErr = ""
	}
	e.mu.Unlock()
	return nil
}

// Finalize flushes every remaining unsent answer, then submits the session.
// suppressRedirect skips the results navigation hook; the timeout path and
// the manual submit button share this one implementation. Idempotent: a
// second call (timer racing a double-click) is a no-op.
func (e *Engine) Finalize(ctx context.Context, suppressRedirect bool) error {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return nil
	}
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.busy = true
	id := e.session.ID
	store := e.answers
	e.mu.Unlock()

	defer e.clearBusy()

	batch := store.Unsent()
	if len(batch) > 0 {
		if err := e.api.SubmitAnswersBulk(ctx, id, batch); err != nil {
			return e.fail(fmt.Errorf("submit remaining answers: %w", err))
		}
		store.MarkFlushed(batch)
		// cached even here: if FinalizeSession fails and the process dies,
		// the resumed session must still rehydrate these answers
		if err := e.state.CacheAnswers(id, batch); err != nil {
			log.Printf("session %s: cache answers: %v", id, err)
		}
	}
	if err := e.api.FinalizeSession(ctx, id); err != nil {
		return e.fail(fmt.Errorf("finalize session: %w", err))
	}

	e.clock.Stop()
	if err := e.state.ClearSession(id); err != nil {
		log.Printf("session %s: clear local state: %v", id, err)
	}

	e.mu.Lock()
	e.finalized = true
	e.locked = true
	e.session.Status = StatusSubmitted
	e.lastErr = ""
	closed := e.closed
	redirect := e.onResult
	e.mu.Unlock()

	if !closed && !suppressRedirect && redirect != nil {
		redirect(id)
	}
	return nil
}

// autoSubmit runs when the countdown hits zero: input is locked first, then
// one finalize attempt is made. On failure the queue is retained and the
// user may still press submit manually.
func (e *Engine) autoSubmit() {
	e.mu.Lock()
	e.locked = true
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Finalize(ctx, false); err != nil {
		log.Printf("auto-submit failed: %v", err)
	}
}

// Choices renders a question's choices for live-taking: the recorded answer
// is flagged, correctness never is (the platform strips it pre-submit).
func (e *Engine) Choices(q Question) []RenderedChoice {
	selected, _ := e.answers.Selected(q.ID)
	out := make([]RenderedChoice, len(q.Choices))
	for i, c := range q.Choices {
		out[i] = RenderedChoice{
			Label:        c.Label,
			Text:         c.Text,
			IsUserChoice: c.Label == selected,
		}
	}
	return out
}

// Close tears the engine down: the countdown stops and any in-flight call
// resolves into a no-op instead of touching dead state.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.clock.Stop()
}

func (e *Engine) clearBusy() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	if !e.closed {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()
	return err
}

type noopState struct{}

func (noopState) ActiveSessionID() (string, error)            { return "", nil }
func (noopState) SetActiveSession(string) error               { return nil }
func (noopState) CacheAnswers(string, []UnsentAnswer) error   { return nil }
func (noopState) CachedAnswers(string) (map[string]string, error) { return nil, nil }
func (noopState) ClearSession(string) error                   { return nil }
