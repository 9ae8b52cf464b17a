package session

// Mode of a test session.
const (
	ModePractice = "practice"
	ModeFullTest = "full-test"
)

// Session status values as reported by the platform.
const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
)

type TestConfig struct {
	TimeLimitMin int   `json:"time_limit_min"` // 0 = unlimited, no countdown
	Parts        []int `json:"parts"`
	AllowReview  bool  `json:"allow_review"`
	Shuffle      bool  `json:"shuffle"`
}

type Progress struct {
	Answered int     `json:"answered"`
	Total    int     `json:"total"`
	Percent  float64 `json:"percent"`
}

type TestRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AudioURL string `json:"audio_url,omitempty"`
}

type Session struct {
	ID           string     `json:"id"`
	Mode         string     `json:"mode"` // practice | full-test
	Config       TestConfig `json:"config"`
	Progress     Progress   `json:"progress"`
	Test         TestRef    `json:"test"`
	Status       string     `json:"status"`
	RemainingSec int        `json:"remaining_sec"` // server-computed at load time
}

// Group is a shared stimulus (passage, image or audio) attached to a cluster
// of questions in parts 3/4/6/7. Parts 1/2/5 questions stand alone.
type Group struct {
	ID       string `json:"id"`
	Passage  string `json:"passage,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

type Choice struct {
	Label string `json:"label"` // A..D
	Text  string `json:"text"`
	// Correct is only populated in review data; the platform strips it from
	// questions served to an in-progress session.
	Correct bool `json:"correct,omitempty"`
}

type Question struct {
	ID           string   `json:"id"`
	Part         int      `json:"part"`           // 1..7
	NumberInPart int      `json:"number_in_part"` // 1-based within the part
	GlobalNumber int      `json:"global_number"`  // 1..N across the whole session
	Prompt       string   `json:"prompt,omitempty"`
	Choices      []Choice `json:"choices"`
	Group        *Group   `json:"group,omitempty"`
}

// UnsentAnswer is a locally recorded answer not yet acknowledged by the
// platform. At most one entry exists per question; later writes replace
// earlier ones.
type UnsentAnswer struct {
	QuestionID   string `json:"question_id"`
	Selected     string `json:"selected_answer"`
	TimeSpentSec int    `json:"time_spent_sec"`
}

// UserAnswer is a stored answer returned by the results endpoint, with the
// question embedded and the correct label exposed.
type UserAnswer struct {
	QuestionID string   `json:"question_id"`
	Question   Question `json:"question"`
	Selected   string   `json:"selected_answer"`
	Correct    string   `json:"correct_answer"`
}

// RenderedChoice is the shared rendering contract for live-taking and review.
// Live mode only ever sets IsUserChoice; review mode sets both flags.
type RenderedChoice struct {
	Label        string
	Text         string
	IsUserChoice bool
	IsCorrect    bool
}
