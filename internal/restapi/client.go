// Package restapi is the HTTP JSON client for the exam platform's session
// API. Every response wraps its payload in a "data" field; non-2xx statuses
// map onto the engine's error taxonomy (404 -> ErrNotFound, anything else is
// transient and left to the caller to retry).
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toeicprep/session-engine/internal/session"
)

type Client struct {
	base  string
	token string
	http  *http.Client
}

type Config struct {
	BaseURL string
	Token   string // bearer token attached to every request
	Timeout time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

type StartSessionReq struct {
	TestID        string `json:"testId"`
	SessionType   string `json:"sessionType"` // practice | full-test
	SelectedParts []int  `json:"selectedParts"`
	TimeLimit     int    `json:"timeLimit"` // minutes, 0 = unlimited
}

// StartSession creates a server-side session and returns its id.
func (c *Client) StartSession(ctx context.Context, req StartSessionReq) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", "/session/start", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (session.Session, error) {
	var out struct {
		Session session.Session `json:"session"`
	}
	if err := c.do(ctx, "GET", "/session/"+url.PathEscape(id), nil, &out); err != nil {
		return session.Session{}, err
	}
	return out.Session, nil
}

func (c *Client) GetQuestions(ctx context.Context, id string) ([]session.Question, error) {
	var out struct {
		Questions []session.Question `json:"questions"`
	}
	if err := c.do(ctx, "GET", "/session/"+url.PathEscape(id)+"/questions", nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitAnswersBulk delivers a batch of answers in one call. The platform
// persists the whole batch or none of it; the engine relies on that to keep
// its unsent queue consistent.
func (c *Client) SubmitAnswersBulk(ctx context.Context, id string, answers []session.UnsentAnswer) error {
	body := struct {
		Answers []session.UnsentAnswer `json:"answers"`
	}{Answers: answers}
	return c.do(ctx, "POST", "/session/"+url.PathEscape(id)+"/answers/bulk", body, nil)
}

func (c *Client) FinalizeSession(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/session/"+url.PathEscape(id)+"/submit", nil, nil)
}

// GetResults fetches the finalized session together with its stored answers
// (questions embedded, correct letters exposed).
func (c *Client) GetResults(ctx context.Context, id string) (session.Session, []session.UserAnswer, error) {
	var out struct {
		Session session.Session      `json:"session"`
		Answers []session.UserAnswer `json:"answers"`
	}
	if err := c.do(ctx, "GET", "/session/"+url.PathEscape(id)+"/results", nil, &out); err != nil {
		return session.Session{}, nil, err
	}
	return out.Session, out.Answers, nil
}

type Pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

type SessionPage struct {
	Sessions   []session.Session `json:"sessions"`
	Pagination Pagination        `json:"pagination"`
}

func (c *Client) ListSessions(ctx context.Context, page, limit int) (SessionPage, error) {
	var out SessionPage
	path := "/session/user?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return SessionPage{}, err
	}
	return out, nil
}

type Statistics struct {
	SessionsTaken int     `json:"sessions_taken"`
	Answered      int     `json:"answered"`
	Correct       int     `json:"correct"`
	AvgPercent    float64 `json:"avg_percent"`
}

func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var out Statistics
	if err := c.do(ctx, "GET", "/session/user/statistics", nil, &out); err != nil {
		return Statistics{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return session.ErrNotFound
	case res.StatusCode/100 != 2:
		return fmt.Errorf("%s %s: %s", method, path, res.Status)
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
