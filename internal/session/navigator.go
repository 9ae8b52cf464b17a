package session

// Navigator tracks the current part and the question cursor within it.
// Part selection is either sequential (NextPart, used when leaving a part
// after its answers were flushed) or a direct jump (JumpToPart, from part
// buttons, no flush side effect). Selecting a part resets the cursor to 0.
type Navigator struct {
	parts     []int
	questions []Question
	partIdx   int
	cursor    int
	onFocus   func(Question) // optional: bring the question into view
}

func NewNavigator(parts []int, questions []Question) *Navigator {
	return &Navigator{parts: parts, questions: questions}
}

// OnFocus registers a callback invoked whenever the cursor lands on a
// question, so a UI can scroll it into view.
func (n *Navigator) OnFocus(fn func(Question)) { n.onFocus = fn }

func (n *Navigator) Parts() []int { return n.parts }

func (n *Navigator) CurrentPart() int {
	if len(n.parts) == 0 {
		return 0
	}
	return n.parts[n.partIdx]
}

// AtLastPart reports whether no further part exists.
func (n *Navigator) AtLastPart() bool { return n.partIdx >= len(n.parts)-1 }

// PartQuestions returns the question subset of the active part.
func (n *Navigator) PartQuestions() []Question {
	return QuestionsInPart(n.questions, n.CurrentPart())
}

// Current returns the question under the cursor.
func (n *Navigator) Current() (Question, bool) {
	qs := n.PartQuestions()
	if n.cursor < 0 || n.cursor >= len(qs) {
		return Question{}, false
	}
	return qs[n.cursor], true
}

func (n *Navigator) Cursor() int { return n.cursor }

// NavigateTo moves the cursor to the given index within the active part.
// Out-of-range input is clamped rather than trusted.
func (n *Navigator) NavigateTo(i int) {
	qs := n.PartQuestions()
	if len(qs) == 0 {
		n.cursor = 0
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(qs) {
		i = len(qs) - 1
	}
	n.cursor = i
	if n.onFocus != nil {
		n.onFocus(qs[i])
	}
}

// NextPart advances to the following part and resets the cursor. Returns
// false (and stays put) at the last part.
func (n *Navigator) NextPart() bool {
	if n.AtLastPart() {
		return false
	}
	n.partIdx++
	n.cursor = 0
	n.focusCurrent()
	return true
}

// JumpToPart selects an arbitrary part directly. Returns false if the part
// is not present in this session.
func (n *Navigator) JumpToPart(part int) bool {
	for i, p := range n.parts {
		if p == part {
			n.partIdx = i
			n.cursor = 0
			n.focusCurrent()
			return true
		}
	}
	return false
}

func (n *Navigator) focusCurrent() {
	if n.onFocus == nil {
		return
	}
	if q, ok := n.Current(); ok {
		n.onFocus(q)
	}
}
