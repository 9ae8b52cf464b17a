package session

import "sort"

// ReviewProjection is the read-only, post-submission view of a finalized
// session: the same Question shape the live engine renders, plus the two
// lookup maps the choice annotation joins against. It never accepts input
// and never writes to the platform.
type ReviewProjection struct {
	Questions      []Question
	Parts          []int
	UserAnswers    map[string]string // questionID -> selected letter ("" = skipped)
	CorrectAnswers map[string]string // questionID -> correct letter

	nav *Navigator
}

// ProjectReview rebuilds the annotated question list from the stored answer
// records of a finalized session. Global numbers come from the stored
// records, never recomputed. ErrNoData when the record list is empty.
func ProjectReview(records []UserAnswer) (*ReviewProjection, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	p := &ReviewProjection{
		Questions:      make([]Question, 0, len(records)),
		UserAnswers:    make(map[string]string, len(records)),
		CorrectAnswers: make(map[string]string, len(records)),
	}
	for _, r := range records {
		q := r.Question
		if q.ID == "" {
			q.ID = r.QuestionID
		}
		p.Questions = append(p.Questions, q)
		p.UserAnswers[q.ID] = r.Selected
		p.CorrectAnswers[q.ID] = r.Correct
	}
	sort.Slice(p.Questions, func(i, j int) bool {
		return p.Questions[i].GlobalNumber < p.Questions[j].GlobalNumber
	})
	p.Parts = DeriveParts(p.Questions)
	p.nav = NewNavigator(p.Parts, p.Questions)
	return p, nil
}

// Nav returns the viewing cursor over the reviewed questions. Moving it has
// no side effects beyond the cursor itself.
func (p *ReviewProjection) Nav() *Navigator { return p.nav }

// Choices renders a question's choices with the review annotations: the
// user's stored pick and the correct letter, joined from the lookup maps.
func (p *ReviewProjection) Choices(q Question) []RenderedChoice {
	user := p.UserAnswers[q.ID]
	correct := p.CorrectAnswers[q.ID]
	out := make([]RenderedChoice, len(q.Choices))
	for i, c := range q.Choices {
		out[i] = RenderedChoice{
			Label:        c.Label,
			Text:         c.Text,
			IsUserChoice: c.Label == user && user != "",
			IsCorrect:    c.Label == correct,
		}
	}
	return out
}

// Score tallies the reviewed session: answered, correct and total counts.
func (p *ReviewProjection) Score() (answered, correct, total int) {
	total = len(p.Questions)
	for id, sel := range p.UserAnswers {
		if sel == "" {
			continue
		}
		answered++
		if sel == p.CorrectAnswers[id] {
			correct++
		}
	}
	return answered, correct, total
}
