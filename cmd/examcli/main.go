// examcli drives a timed TOEIC practice session from the terminal: it
// resumes or starts a session against an exam platform (or the bundled
// offline one), records answers, flushes them part by part and reviews the
// finalized session.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/toeicprep/session-engine/internal/config"
	"github.com/toeicprep/session-engine/internal/db"
	"github.com/toeicprep/session-engine/internal/localstate"
	"github.com/toeicprep/session-engine/internal/platform"
	"github.com/toeicprep/session-engine/internal/restapi"
	"github.com/toeicprep/session-engine/internal/session"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := localstate.Schema
	if cfg.LocalMode {
		schema += platform.Schema
	}
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN, schema)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	state := localstate.New(dbh)

	platformURL := cfg.PlatformURL
	if cfg.LocalMode {
		store := platform.NewSQLStore(dbh)
		if err := platform.Seed(store); err != nil {
			log.Fatalf("seed sample test: %v", err)
		}
		auth := platform.NewAuthService(cfg.AuthSecret)
		srv := &http.Server{Addr: cfg.LocalAddr, Handler: platform.NewRouter(store, auth, cfg.CORSOrigins)}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("local platform: %v", err)
			}
		}()
		platformURL = "http://" + cfg.LocalAddr
		log.Printf("local platform listening on %s", cfg.LocalAddr)
	}

	token := cfg.AuthToken
	if token == "" {
		token, err = guestToken(platformURL)
		if err != nil {
			log.Fatalf("guest login: %v", err)
		}
	}
	client := restapi.New(restapi.Config{BaseURL: platformURL, Token: token})

	engine := session.NewEngine(client, state)
	defer engine.Close()
	engine.OnResult(func(id string) { showResults(client, id) })

	if err := engine.Resume(context.Background()); err != nil {
		if err != session.ErrNotFound {
			log.Fatalf("resume session: %v", err)
		}
		showHistory(client)
		id, err := client.StartSession(context.Background(), restapi.StartSessionReq{
			TestID:      "sample-mini",
			SessionType: session.ModePractice,
			TimeLimit:   10,
		})
		if err != nil {
			log.Fatalf("start session: %v", err)
		}
		if err := engine.Load(context.Background(), id); err != nil {
			log.Fatalf("load session: %v", err)
		}
	}

	runLoop(engine)
}

func guestToken(base string) (string, error) {
	res, err := http.Post(strings.TrimSuffix(base, "/")+"/auth/guest", "application/json", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("guest login: %s", res.Status)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func runLoop(engine *session.Engine) {
	sess := engine.Session()
	fmt.Printf("%s (%s) — %d questions, parts %v\n",
		sess.Test.Title, sess.Mode, len(engine.Questions()), engine.Nav().Parts())

	in := bufio.NewScanner(os.Stdin)
	for {
		printQuestion(engine)
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(in.Text()))
		switch {
		case cmd == "":
		case cmd == "Q":
			return
		case cmd == "N":
			engine.Nav().NavigateTo(engine.Nav().Cursor() + 1)
		case cmd == "B":
			engine.Nav().NavigateTo(engine.Nav().Cursor() - 1)
		case cmd == "P":
			if err := engine.AdvancePart(context.Background()); err != nil {
				fmt.Println("! ", err)
			}
		case cmd == "S":
			if err := engine.Finalize(context.Background(), false); err != nil {
				fmt.Println("! ", err)
			} else {
				return
			}
		case len(cmd) == 1 && cmd >= "A" && cmd <= "D":
			q, ok := engine.Nav().Current()
			if !ok {
				continue
			}
			if err := engine.Record(q.GlobalNumber, cmd); err != nil {
				fmt.Println("! ", err)
				continue
			}
			engine.Nav().NavigateTo(engine.Nav().Cursor() + 1)
		default:
			fmt.Println("commands: A-D answer | N/B move | P next part | S submit | Q quit")
		}
	}
}

func printQuestion(engine *session.Engine) {
	q, ok := engine.Nav().Current()
	if !ok {
		return
	}
	if engine.Clock().Running() {
		fmt.Printf("[%s] ", engine.Clock())
	}
	fmt.Printf("Part %d — question %d/%d (#%d)\n",
		engine.Nav().CurrentPart(), engine.Nav().Cursor()+1, len(engine.Nav().PartQuestions()), q.GlobalNumber)
	if q.Group != nil {
		if q.Group.Passage != "" {
			fmt.Println(q.Group.Passage)
		}
		if q.Group.AudioURL != "" {
			fmt.Println("  (audio:", q.Group.AudioURL+")")
		}
	}
	if q.Prompt != "" {
		fmt.Println(q.Prompt)
	}
	for _, c := range engine.Choices(q) {
		mark := " "
		if c.IsUserChoice {
			mark = "*"
		}
		fmt.Printf(" %s %s) %s\n", mark, c.Label, c.Text)
	}
	if msg := engine.LastError(); msg != "" {
		fmt.Println("!", msg)
	}
}

func showHistory(client *restapi.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := client.Statistics(ctx)
	if err == nil && stats.SessionsTaken > 0 {
		fmt.Printf("history: %d sessions, %.1f%% average\n", stats.SessionsTaken, stats.AvgPercent)
	}
	page, err := client.ListSessions(ctx, 1, 5)
	if err != nil {
		return
	}
	for _, s := range page.Sessions {
		fmt.Printf("  %s  %-10s %s (%d/%d answered)\n",
			s.ID[:8], s.Status, s.Test.Title, s.Progress.Answered, s.Progress.Total)
	}
}

func showResults(client *restapi.Client, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, answers, err := client.GetResults(ctx, id)
	if err != nil {
		log.Printf("fetch results: %v", err)
		return
	}
	review, err := session.ProjectReview(answers)
	if err != nil {
		log.Printf("project review: %v", err)
		return
	}
	answered, correct, total := review.Score()
	fmt.Printf("\nsubmitted: %d/%d answered, %d correct\n", answered, total, correct)
	for _, q := range review.Questions {
		for _, c := range review.Choices(q) {
			switch {
			case c.IsUserChoice && c.IsCorrect:
				fmt.Printf("  #%d %s ✓\n", q.GlobalNumber, c.Label)
			case c.IsUserChoice:
				fmt.Printf("  #%d %s ✗ (correct: %s)\n", q.GlobalNumber, c.Label, review.CorrectAnswers[q.ID])
			}
		}
	}
}
