package eval

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/corpus"
)

func TestAllDatasetsAreValid(t *testing.T) {
	kinds := map[string]bool{
		corpuschat.KindAnswerWithRAG:    true,
		corpuschat.KindAnswerWithoutRAG: true,
		corpuschat.KindNoAnswer:         true,
		corpuschat.KindError:            true,
	}
	names := make(map[string]bool)

	datasets := AllDatasets()
	if len(datasets) == 0 {
		t.Fatal("AllDatasets() is empty")
	}
	for _, ds := range datasets {
		if ds.Name == "" {
			t.Error("dataset has no name")
		}
		if names[ds.Name] {
			t.Errorf("duplicate dataset name %q", ds.Name)
		}
		names[ds.Name] = true
		if ds.Difficulty != DifficultyEasy && ds.Difficulty != DifficultyMedium && ds.Difficulty != DifficultyComplex {
			t.Errorf("%s has unknown difficulty %q", ds.Name, ds.Difficulty)
		}
		if len(ds.Tests) == 0 {
			t.Errorf("%s has no tests", ds.Name)
		}
		for i, tc := range ds.Tests {
			if tc.Question == "" {
				t.Errorf("%s test %d has empty question", ds.Name, i)
			}
			if !kinds[tc.ExpectedKind] {
				t.Errorf("%s test %d has unknown expected kind %q", ds.Name, i, tc.ExpectedKind)
			}
			if tc.Category == "" {
				t.Errorf("%s test %d has empty category", ds.Name, i)
			}
			for _, fact := range tc.ExpectedFacts {
				if strings.TrimSpace(fact) == "" {
					t.Errorf("%s test %d has a blank expected fact", ds.Name, i)
				}
			}
		}
	}
}

func TestNavigatingCorpusResolvesIndexRows(t *testing.T) {
	c, err := NavigatingCorpus()
	if err != nil {
		t.Fatalf("NavigatingCorpus() error = %v", err)
	}
	if c.Primary() != "Plett" {
		t.Errorf("Primary() = %q, want %q", c.Primary(), "Plett")
	}

	defs, secs, wfs := NavigatingIndexRows()
	if len(defs) == 0 || len(secs) == 0 || len(wfs) == 0 {
		t.Fatalf("NavigatingIndexRows() = %d defs, %d sections, %d workflows, want all non-empty",
			len(defs), len(secs), len(wfs))
	}

	for _, row := range defs {
		if row.Definition == "" {
			t.Errorf("definition %s %s has no text", row.Document, row.SectionReference)
		}
		text, err := c.Text(row.Document, row.SectionReference, corpus.TextOptions{})
		if err != nil || text == "" {
			t.Errorf("definition %s %s does not resolve in the corpus: %v", row.Document, row.SectionReference, err)
		}
	}
	for _, row := range secs {
		text, err := c.Text(row.Document, row.SectionReference, corpus.TextOptions{Markdown: true, Headings: true})
		if err != nil || text == "" {
			t.Errorf("section %s %s does not resolve in the corpus: %v", row.Document, row.SectionReference, err)
		}
		if row.Source != "question" {
			t.Errorf("section %s %s has source %q, want %q", row.Document, row.SectionReference, row.Source, "question")
		}
	}
	for _, row := range wfs {
		if row.Workflow == "" || row.Text == "" {
			t.Errorf("workflow row %+v is incomplete", row)
		}
	}
}

func TestNavigatingCorpusCrossDocumentCitations(t *testing.T) {
	c, err := NavigatingCorpus()
	if err != nil {
		t.Fatalf("NavigatingCorpus() error = %v", err)
	}

	// The town guide's gate headings cite estate sections; those references
	// must resolve so the linked-section loop can follow them.
	text, err := c.Text("Plett", "A.2(A)(ii)", corpus.TextOptions{Markdown: true, Headings: true})
	if err != nil {
		t.Fatalf("Text(A.2(A)(ii)) error = %v", err)
	}
	if !strings.Contains(text, "see 1.2") {
		t.Fatalf("Text(A.2(A)(ii)) = %q, want the estate citation", text)
	}
	cited, err := c.Text("WRR", "1.2", corpus.TextOptions{Markdown: true, Headings: true})
	if err != nil || cited == "" {
		t.Errorf("cited estate section does not resolve: %v", err)
	}
}

func TestScoreResult(t *testing.T) {
	c, err := NavigatingCorpus()
	if err != nil {
		t.Fatalf("NavigatingCorpus() error = %v", err)
	}
	mainGate, err := c.Text("WRR", "1.2", corpus.TextOptions{Markdown: true, Headings: true})
	if err != nil {
		t.Fatalf("Text(1.2) error = %v", err)
	}

	tc := TestCase{
		Question:      "How do I get to the Main Gate?",
		ExpectedKind:  corpuschat.KindAnswerWithRAG,
		ExpectedFacts: []string{"turn left out", "stop street", "turn right"},
		Category:      "single-section",
	}

	t.Run("grounded answer passes", func(t *testing.T) {
		resp := corpuschat.AnswerWithRAG{
			Answer: "Turn left out the driveway, then turn right at the first stop street and proceed to the Gate.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "WRR",
				DocumentName:     "Navigating Whale Rock Ridge",
				SectionReference: "1.2",
				Text:             mainGate,
			}},
		}
		res := scoreResult(c, tc, resp)
		if !res.Passed {
			t.Errorf("scoreResult() = %+v, want a pass", res)
		}
		if res.FactRecall != 1 {
			t.Errorf("FactRecall = %v, want 1", res.FactRecall)
		}
		if !res.ProvenanceChecked || res.Provenance != 1 {
			t.Errorf("Provenance = %v (checked %v), want 1", res.Provenance, res.ProvenanceChecked)
		}
	})

	t.Run("fabricated citation fails", func(t *testing.T) {
		resp := corpuschat.AnswerWithRAG{
			Answer: "Turn left out the driveway, then turn right at the first stop street.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "WRR",
				SectionReference: "1.2",
				Text:             "Take the shortcut through the dunes.",
			}},
		}
		res := scoreResult(c, tc, resp)
		if res.Passed {
			t.Error("scoreResult() passed a fabricated citation")
		}
		if res.Provenance != 0 || len(res.CitationFlaws) != 1 {
			t.Errorf("Provenance = %v with flaws %v, want 0 with one flaw", res.Provenance, res.CitationFlaws)
		}
	})

	t.Run("wrong kind fails", func(t *testing.T) {
		res := scoreResult(c, tc, corpuschat.NoAnswer{Classification: corpuschat.QuestionNotRelevant})
		if res.KindMatch || res.Passed {
			t.Errorf("scoreResult() = %+v, want a kind-mismatch failure", res)
		}
	})

	t.Run("missed fact quotes the closest passage", func(t *testing.T) {
		withCircle := tc
		withCircle.ExpectedFacts = []string{"turn left at the traffic circle"}
		resp := corpuschat.AnswerWithRAG{
			Answer: "Turn left out the driveway and proceed to the Gate.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "WRR",
				SectionReference: "1.2",
				Text:             mainGate,
			}},
		}
		res := scoreResult(c, withCircle, resp)
		if res.Passed || len(res.MissedFacts) != 1 {
			t.Fatalf("scoreResult() = %+v, want one missed fact", res)
		}
		if len(res.NearMisses) != 1 || !strings.Contains(res.NearMisses[0], "Turn left out") {
			t.Errorf("NearMisses = %v, want the overlapping sentence", res.NearMisses)
		}
	})

	t.Run("refusal with no expected facts", func(t *testing.T) {
		guard := TestCase{
			Question:     "What is the capital of France?",
			ExpectedKind: corpuschat.KindNoAnswer,
			Category:     "guardrail",
		}
		res := scoreResult(c, guard, corpuschat.NoAnswer{Classification: corpuschat.QuestionNotRelevant})
		if !res.Passed {
			t.Errorf("scoreResult() = %+v, want a pass", res)
		}
		if res.FactRecall != 1 {
			t.Errorf("FactRecall = %v, want the vacuous 1", res.FactRecall)
		}
		if res.ProvenanceChecked {
			t.Error("ProvenanceChecked = true for a response with no citations")
		}
	})
}

func TestCheckProvenance(t *testing.T) {
	c, err := NavigatingCorpus()
	if err != nil {
		t.Fatalf("NavigatingCorpus() error = %v", err)
	}

	t.Run("uncited responses are not checked", func(t *testing.T) {
		if _, _, checked := checkProvenance(c, corpuschat.AnswerWithoutRAG{Answer: "Paris"}); checked {
			t.Error("checkProvenance() checked an answer without citations")
		}
		if _, _, checked := checkProvenance(c, corpuschat.AnswerWithRAG{Answer: "x"}); checked {
			t.Error("checkProvenance() checked an answer with an empty reference list")
		}
	})

	t.Run("definition anchored to its section", func(t *testing.T) {
		score, flaws, checked := checkProvenance(c, corpuschat.AnswerWithRAG{
			Answer: "The gym is the Health and Fitness Center.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "Plett",
				DocumentName:     "Navigating Plett",
				SectionReference: "A.1(A)",
				IsDefinition:     true,
				Text:             "The Gym: The Health and Fitness Center on Piesang Valley Road",
			}},
		})
		if !checked || score != 1 || len(flaws) != 0 {
			t.Errorf("checkProvenance() = %v %v %v, want a clean pass", score, flaws, checked)
		}
	})

	t.Run("definition anchored to a missing section", func(t *testing.T) {
		score, flaws, _ := checkProvenance(c, corpuschat.AnswerWithRAG{
			Answer: "The gym is the Health and Fitness Center.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "Plett",
				SectionReference: "A.9",
				IsDefinition:     true,
				Text:             "The Gym: The Health and Fitness Center on Piesang Valley Road",
			}},
		})
		if score != 0 || len(flaws) != 1 {
			t.Errorf("checkProvenance() = %v %v, want a flaw", score, flaws)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		score, flaws, _ := checkProvenance(c, corpuschat.AnswerWithRAG{
			Answer: "Go west.",
			References: []corpuschat.UsedReference{{
				DocumentKey:      "Nowhere",
				SectionReference: "1.1",
				Text:             "Go west.",
			}},
		})
		if score != 0 || len(flaws) != 1 {
			t.Errorf("checkProvenance() = %v %v, want a flaw", score, flaws)
		}
	})

	t.Run("mixed citations score fractionally", func(t *testing.T) {
		sound, err := c.Text("WRR", "1.1", corpus.TextOptions{Markdown: true, Headings: true})
		if err != nil {
			t.Fatalf("Text(1.1) error = %v", err)
		}
		score, flaws, checked := checkProvenance(c, corpuschat.AnswerWithRAG{
			Answer: "Head for West Gate.",
			References: []corpuschat.UsedReference{
				{DocumentKey: "WRR", SectionReference: "1.1", Text: sound},
				{DocumentKey: "WRR", SectionReference: "1.1", Text: "Not what the guide says."},
			},
		})
		if !checked || score != 0.5 || len(flaws) != 1 {
			t.Errorf("checkProvenance() = %v %v %v, want 0.5 with one flaw", score, flaws, checked)
		}
	})
}
