package eval

import (
	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/reference"
)

// Identity under which the navigation datasets are replayed.
const (
	NavigatingUserType    = "a Visitor"
	NavigatingDescription = "the Simplest way to Navigate Plett"
)

// NavigatingCorpus builds the two-document navigation corpus the built-in
// datasets are written against: a gated-estate guide keyed "WRR" and a town
// guide keyed "Plett", with the town guide as the primary document. The town
// guide's headings cite estate sections ("see 1.2") so cross-document
// questions exercise the linked-section loop.
func NavigatingCorpus() (*corpus.Corpus, error) {
	wrrChecker, err := reference.New(
		[]string{`^[1-9]`, `^\.[1-9]`, `^\.[1-9]`},
		`[1-9](\.[1-9]){0,2}`,
		nil,
	)
	if err != nil {
		return nil, err
	}
	wrr, err := corpus.NewTable("Navigating Whale Rock Ridge", wrrChecker, []corpus.Row{
		{SectionReference: "1", Heading: true, Text: "Navigating Whale Rock Ridge"},
		{SectionReference: "1", Heading: false, Text: "Whale Rock Ridge is a large complex. Here are directions to help you[^1].\n[^1]: Directions from 11 Turnstone"},
		{SectionReference: "1.1", Heading: true, Text: "To West Gate"},
		{SectionReference: "1.1", Heading: false, Text: "Turn right out driveway. At the traffic circle, take the first exit. Proceed to West Gate"},
		{SectionReference: "1.2", Heading: true, Text: "To Main Gate"},
		{SectionReference: "1.2", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"},
		{SectionReference: "1.3", Heading: true, Text: "To South Gate"},
		{SectionReference: "1.3", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"},
	})
	if err != nil {
		return nil, err
	}

	plettChecker, err := reference.New(
		[]string{
			`^[A-Z]\.\d{0,2}`,
			`^\([A-Z]\)`,
			`^\((i|ii|iii|iv|v|vi|vii|viii|ix|x|xi|xii|xiii|xiv|xv|xvi|xvii|xviii|xix|xx|xxi|xxii|xxiii|xxiv|xxv|xxvi|xxvii)\)`,
			`^\([a-z]\)`,
			`^\([a-z]{2}\)`,
			`^\((?:[1-9]|[1-9][0-9])\)`,
		},
		`[A-Z]\.\d{0,2}\([A-Z]\)\((?:i|ii|iii|iv|v|vi)\)\([a-z]\)\([a-z]{2}\)\(\d+\)`,
		[]string{"Legal context", "Introduction"},
	)
	if err != nil {
		return nil, err
	}
	plett, err := corpus.NewTable("Navigating Plett", plettChecker, []corpus.Row{
		{SectionReference: "A.", Heading: true, Text: "Navigating Plettenberg Bay"},
		{SectionReference: "A.", Heading: false, Text: "Plett is a small town. Here are directions to help you[^1].\n[^1]: Directions from Whale Rock Ridge"},
		{SectionReference: "A.1", Heading: true, Text: "Definitions"},
		{SectionReference: "A.1(A)", Heading: false, Text: "The Gym: The Health and Fitness Center on Piesang Valley Road"},
		{SectionReference: "A.1(B)", Heading: false, Text: "The Robberg Nature Reserve: The Cape Nature park at the end of the Robberg Peninsula"},
		{SectionReference: "A.2", Heading: true, Text: "Directions"},
		{SectionReference: "A.2(A)", Heading: true, Text: "To the Gym"},
		{SectionReference: "A.2(A)(i)", Heading: true, Text: "From West Gate (see 1.1)"},
		{SectionReference: "A.2(A)(i)", Heading: false, Text: "Turn left into Longships Drive and right at the T-junction into Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(A)(ii)", Heading: true, Text: "From Main Gate (see 1.2)"},
		{SectionReference: "A.2(A)(ii)", Heading: false, Text: "Turn right Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(A)(iii)", Heading: true, Text: "From South Gate (see 1.3)"},
		{SectionReference: "A.2(A)(iii)", Heading: false, Text: "Turn right Whale Rock Drive. At the T-junction turn right into Robberg Road. Turn left into Green Point Avenue and arrive at the gym"},
		{SectionReference: "A.2(B)", Heading: true, Text: "To Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(i)", Heading: true, Text: "From West Gate (see 1.1)"},
		{SectionReference: "A.2(B)(i)", Heading: false, Text: "Turn left into Longships Drive and left at the T-junction into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(ii)", Heading: true, Text: "From Main Gate (see 1.2)"},
		{SectionReference: "A.2(B)(ii)", Heading: false, Text: "Turn left into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
		{SectionReference: "A.2(B)(iii)", Heading: true, Text: "From South Gate (see 1.3)"},
		{SectionReference: "A.2(B)(iii)", Heading: false, Text: "Turn left into Whale Rock Drive. Continue straight to Robberg Nature Reserve"},
	})
	if err != nil {
		return nil, err
	}

	return corpus.New(map[string]corpus.Document{"WRR": wrr, "Plett": plett}, "Plett")
}

// NavigatingIndexRows returns the retrieval rows for the navigation corpus
// with empty embeddings. Callers embed them through the engine's provider
// before building the index.
func NavigatingIndexRows() ([]corpus.DefinitionRow, []corpus.SectionRow, []corpus.WorkflowRow) {
	defs := []corpus.DefinitionRow{
		{
			Document:         "Plett",
			SectionReference: "A.1(A)",
			Text:             "What is the gym?",
			Definition:       "The Gym: The Health and Fitness Center on Piesang Valley Road",
		},
		{
			Document:         "Plett",
			SectionReference: "A.1(B)",
			Text:             "What is the Robberg Nature Reserve?",
			Definition:       "The Robberg Nature Reserve: The Cape Nature park at the end of the Robberg Peninsula",
		},
	}
	secs := []corpus.SectionRow{
		{Document: "WRR", SectionReference: "1.1", Source: "question", Text: "How do I get to West Gate?"},
		{Document: "WRR", SectionReference: "1.2", Source: "question", Text: "How do I get to the Main Gate?"},
		{Document: "WRR", SectionReference: "1.3", Source: "question", Text: "How do I get to South Gate?"},
		{Document: "Plett", SectionReference: "A.2(A)", Source: "question", Text: "How do I get to the gym?"},
		{Document: "Plett", SectionReference: "A.2(B)", Source: "question", Text: "How do I get to Robberg Nature Reserve?"},
	}
	wfs := []corpus.WorkflowRow{
		{Workflow: "map", Text: "Can you show this on a map?"},
	}
	return defs, secs, wfs
}

// DirectionsDataset covers single-section lookups in the estate guide.
func DirectionsDataset() Dataset {
	return Dataset{
		Name:       "Directions - Single Section Lookup",
		Difficulty: DifficultyEasy,
		Strict:     true,
		Tests: []TestCase{
			{
				Question:      "How do I get to the Main Gate?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"turn left out", "stop street", "turn right"},
				Category:      "single-section",
				Explanation:   "WRR 1.2 body",
			},
			{
				Question:      "How do I get to West Gate?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"turn right out", "traffic circle|roundabout", "first exit"},
				Category:      "single-section",
				Explanation:   "WRR 1.1 body",
			},
			{
				Question:      "How do I get to South Gate?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"turn left out", "stop street", "follow road"},
				Category:      "single-section",
				Explanation:   "WRR 1.3 body",
			},
		},
	}
}

// LandmarksDataset covers definitions, multi-section answers and a
// cross-document question whose answer cites both guides.
func LandmarksDataset() Dataset {
	return Dataset{
		Name:       "Landmarks - Definitions and Town Directions",
		Difficulty: DifficultyMedium,
		Strict:     true,
		Tests: []TestCase{
			{
				Question:      "What is the gym?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"Health and Fitness", "Piesang Valley"},
				Category:      "definition",
				Explanation:   "Plett A.1(A) definition",
			},
			{
				Question:      "What is the Robberg Nature Reserve?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"Cape Nature", "Robberg Peninsula"},
				Category:      "definition",
				Explanation:   "Plett A.1(B) definition",
			},
			{
				Question:      "How do I get to the gym?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"Robberg Road", "Green Point Avenue"},
				Category:      "multi-section",
				Explanation:   "Plett A.2(A) with per-gate subsections",
			},
			{
				Question:      "How do I get to Robberg Nature Reserve?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"Whale Rock Drive", "continue straight"},
				Category:      "multi-section",
				Explanation:   "Plett A.2(B) with per-gate subsections",
			},
			{
				Question:      "How do I get to the gym from the Main Gate?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"Whale Rock Drive", "Robberg Road", "Green Point Avenue"},
				Category:      "cross-document",
				Explanation:   "Plett A.2(A)(ii), whose heading cites WRR 1.2",
			},
		},
	}
}

// GuardrailsDataset checks that strict sessions refuse questions the corpus
// cannot answer and that unhandled workflow triggers surface as errors.
func GuardrailsDataset() Dataset {
	return Dataset{
		Name:       "Guardrails - Refusals and Workflows",
		Difficulty: DifficultyComplex,
		Strict:     true,
		Tests: []TestCase{
			{
				Question:     "What is the capital of France?",
				ExpectedKind: corpuschat.KindNoAnswer,
				Category:     "guardrail",
				Explanation:  "nothing in either guide covers this",
			},
			{
				Question:     "What time does the gym open?",
				ExpectedKind: corpuschat.KindNoAnswer,
				Category:     "guardrail",
				Explanation:  "the gym is defined but no section gives opening hours",
			},
			{
				Question:     "Can you show this on a map?",
				ExpectedKind: corpuschat.KindError,
				Category:     "guardrail",
				Explanation:  "the map workflow trigger has no registered handler",
			},
		},
	}
}

// FallbackDataset replays general-knowledge questions through permissive
// sessions, which answer from the model when retrieval finds nothing, and
// one corpus question to confirm retrieval still wins when it hits.
func FallbackDataset() Dataset {
	return Dataset{
		Name:       "Fallback - Permissive Sessions",
		Difficulty: DifficultyMedium,
		Strict:     false,
		Tests: []TestCase{
			{
				Question:      "What is the capital of France?",
				ExpectedKind:  corpuschat.KindAnswerWithoutRAG,
				ExpectedFacts: []string{"Paris"},
				Category:      "fallback",
				Explanation:   "answered from the model, not the corpus",
			},
			{
				Question:      "What year did the Second World War end?",
				ExpectedKind:  corpuschat.KindAnswerWithoutRAG,
				ExpectedFacts: []string{"1945"},
				Category:      "fallback",
				Explanation:   "answered from the model, not the corpus",
			},
			{
				Question:      "How do I get to the Main Gate?",
				ExpectedKind:  corpuschat.KindAnswerWithRAG,
				ExpectedFacts: []string{"turn left out", "turn right"},
				Category:      "single-section",
				Explanation:   "corpus material still outranks the fallback",
			},
		},
	}
}

// AllDatasets returns every built-in navigation dataset.
func AllDatasets() []Dataset {
	return []Dataset{
		DirectionsDataset(),
		LandmarksDataset(),
		GuardrailsDataset(),
		FallbackDataset(),
	}
}
