package platform

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/toeicprep/session-engine/internal/session"
)

// writeData wraps the payload in the envelope every endpoint uses.
func writeData(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSubmitted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ownSession ensures the caller owns the session before serving it.
func ownSession(store *SQLStore, w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	owner, err := store.Owner(id)
	if err != nil {
		writeErr(w, err)
		return "", false
	}
	if owner != UserID(r) {
		http.Error(w, "not your session", http.StatusForbidden)
		return "", false
	}
	return id, true
}

func StartSessionHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TestID        string `json:"testId"`
			SessionType   string `json:"sessionType"`
			SelectedParts []int  `json:"selectedParts"`
			TimeLimit     int    `json:"timeLimit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.TestID == "" {
			http.Error(w, "testId required", http.StatusBadRequest)
			return
		}
		mode := req.SessionType
		if mode != session.ModeFullTest {
			mode = session.ModePractice
		}
		cfg := session.TestConfig{
			TimeLimitMin: req.TimeLimit,
			Parts:        req.SelectedParts,
			AllowReview:  true,
		}
		sess, err := store.StartSession(req.TestID, UserID(r), mode, cfg)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, sess)
	}
}

func GetSessionHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ownSession(store, w, r)
		if !ok {
			return
		}
		sess, err := store.GetSession(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, map[string]interface{}{"session": sess})
	}
}

func GetQuestionsHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ownSession(store, w, r)
		if !ok {
			return
		}
		qs, err := store.Questions(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, map[string]interface{}{"questions": qs})
	}
}

func BulkAnswersHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ownSession(store, w, r)
		if !ok {
			return
		}
		var req struct {
			Answers []session.UnsentAnswer `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := store.SaveAnswers(id, req.Answers); err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, map[string]int{"saved": len(req.Answers)})
	}
}

func SubmitSessionHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ownSession(store, w, r)
		if !ok {
			return
		}
		if err := store.Submit(id); err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, map[string]string{"status": session.StatusSubmitted})
	}
}

func GetResultsHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ownSession(store, w, r)
		if !ok {
			return
		}
		sess, answers, err := store.Results(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, map[string]interface{}{"session": sess, "answers": answers})
	}
}

func ListSessionsHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = 20
		}
		sessions, total, err := store.ListSessions(UserID(r), page, limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		pages := (total + limit - 1) / limit
		writeData(w, map[string]interface{}{
			"sessions": sessions,
			"pagination": map[string]int{
				"current": page,
				"pages":   pages,
				"total":   total,
			},
		})
	}
}

func StatisticsHandler(store *SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.Statistics(UserID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, st)
	}
}
