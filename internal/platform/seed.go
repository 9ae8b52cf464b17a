package platform

import "github.com/toeicprep/session-engine/internal/session"

// SampleTest is a miniature TOEIC test used by local mode and tests: part 1
// photo questions (4 choices), part 2 question-response (3 choices), one
// part 3 conversation cluster sharing an audio group, and part 5 grammar.
func SampleTest() Test {
	abcd := func(correct string, texts ...string) []session.Choice {
		labels := []string{"A", "B", "C", "D"}
		out := make([]session.Choice, len(texts))
		for i, t := range texts {
			out[i] = session.Choice{Label: labels[i], Text: t, Correct: labels[i] == correct}
		}
		return out
	}
	conv := &session.Group{ID: "g-301", AudioURL: "/audio/sample/part3-1.mp3"}

	return Test{
		ID:       "sample-mini",
		Title:    "Mini TOEIC Sampler",
		AudioURL: "/audio/sample/full.mp3",
		Questions: []session.Question{
			{ID: "q-101", Part: 1, Group: &session.Group{ID: "g-101", ImageURL: "/img/sample/101.jpg", AudioURL: "/audio/sample/101.mp3"},
				Choices: abcd("B", "He is reading a menu.", "He is pouring a drink.", "He is washing dishes.", "He is setting a table.")},
			{ID: "q-102", Part: 1, Group: &session.Group{ID: "g-102", ImageURL: "/img/sample/102.jpg", AudioURL: "/audio/sample/102.mp3"},
				Choices: abcd("A", "They are boarding a train.", "They are buying tickets.", "They are leaving a station.", "They are carrying luggage.")},
			{ID: "q-201", Part: 2, Choices: abcd("C", "At three o'clock.", "In the cabinet.", "Ms. Tanaka did.")},
			{ID: "q-202", Part: 2, Choices: abcd("A", "Sure, I'd be glad to.", "It was last Monday.", "On the second floor.")},
			{ID: "q-203", Part: 2, Choices: abcd("B", "Twice a week.", "By express mail.", "Yes, he was.")},
			{ID: "q-301", Part: 3, Group: conv, Prompt: "What are the speakers discussing?",
				Choices: abcd("D", "A travel itinerary", "A job opening", "A restaurant menu", "A project deadline")},
			{ID: "q-302", Part: 3, Group: conv, Prompt: "What does the woman suggest?",
				Choices: abcd("A", "Hiring extra staff", "Postponing the launch", "Reducing the budget", "Calling the client")},
			{ID: "q-303", Part: 3, Group: conv, Prompt: "What will the man probably do next?",
				Choices: abcd("C", "Leave the office", "Print a report", "Send an e-mail", "Schedule a meeting")},
			{ID: "q-501", Part: 5, Prompt: "The shipment will arrive ___ Friday.",
				Choices: abcd("B", "in", "on", "at", "by")},
			{ID: "q-502", Part: 5, Prompt: "All employees must ___ the safety training.",
				Choices: abcd("A", "complete", "completes", "completing", "completion")},
		},
	}
}

// Seed loads the sample test into the store, renumbering its questions.
func Seed(store *SQLStore) error {
	t := SampleTest()
	t.Questions = selectQuestions(t.Questions, session.TestConfig{})
	return store.PutTest(t)
}
