// Package eval scores the dialogue engine against curated question sets.
// Each dataset pins the corpus answers a response must contain, the kind
// of response the state machine should produce and whether the session
// runs with the corpus-only guardrail. The evaluator replays the questions
// through live sessions and reports per-category pass rates.
package eval

// Difficulty levels for evaluation datasets.
const (
	DifficultyEasy    = "easy"
	DifficultyMedium  = "medium"
	DifficultyComplex = "complex"
)

// Dataset is a collection of test cases replayed under one session mode.
type Dataset struct {
	Name       string     `json:"name"`
	Difficulty string     `json:"difficulty"` // easy, medium, complex
	Strict     bool       `json:"strict"`     // corpus-only guardrail for every session in the set
	Tests      []TestCase `json:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question      string   `json:"question"`
	ExpectedKind  string   `json:"expected_kind"`  // response kind the session must produce
	ExpectedFacts []string `json:"expected_facts"` // facts the answer must contain; "a|b" accepts either
	Category      string   `json:"category"`       // single-section, definition, multi-section, cross-document, guardrail, fallback
	Explanation   string   `json:"explanation"`    // where the ground truth lives in the corpus
}
