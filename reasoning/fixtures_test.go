package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/reference"
	"github.com/brunobiangulo/corpuschat/retrieval"
)

// The fixture corpus pairs an estate handbook ("WRR", the primary, dotted
// numbering) with a town addendum ("Plett", handbook-style numbering) so
// the tests can exercise cross-document section requests.

func wrrChecker(t *testing.T) reference.Checker {
	t.Helper()
	c, err := reference.New(
		[]string{`^[1-9]`, `^\.[1-9]`, `^\.[1-9]`},
		`[1-9](\.[1-9]){0,2}`,
		nil,
	)
	if err != nil {
		t.Fatalf("building WRR checker: %v", err)
	}
	return c
}

func plettChecker(t *testing.T) reference.Checker {
	t.Helper()
	c, err := reference.New(
		[]string{
			`^[A-Z]\.\d{0,2}`,
			`^\([A-Z]\)`,
			`^\((i|ii|iii|iv|v|vi|vii|viii|ix|x)\)`,
			`^\([a-z]\)`,
		},
		`A.1(A)(i)(a)`,
		nil,
	)
	if err != nil {
		t.Fatalf("building Plett checker: %v", err)
	}
	return c
}

func testDocuments(t *testing.T) map[string]corpus.Document {
	t.Helper()
	wrr, err := corpus.NewTable("Navigating Whale Rock Ridge", wrrChecker(t), []corpus.Row{
		{SectionReference: "1", Heading: true, Text: "Navigating Whale Rock Ridge"},
		{SectionReference: "1", Heading: false, Text: "Whale Rock Ridge is a large complex. Here are directions to help you."},
		{SectionReference: "1.1", Heading: true, Text: "To West Gate"},
		{SectionReference: "1.1", Heading: false, Text: "Turn right out driveway. At the traffic circle, take the first exit. Proceed to West Gate"},
		{SectionReference: "1.2", Heading: true, Text: "To Main Gate"},
		{SectionReference: "1.2", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"},
		{SectionReference: "1.3", Heading: true, Text: "To South Gate"},
		{SectionReference: "1.3", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"},
	})
	if err != nil {
		t.Fatalf("building WRR document: %v", err)
	}

	plett, err := corpus.NewTable("Navigating Plett", plettChecker(t), []corpus.Row{
		{SectionReference: "A.1", Heading: true, Text: "Definitions"},
		{SectionReference: "A.1(A)", Heading: false, Text: "The Gym: The Health and Fitness Center on Piesang Valley Road"},
		{SectionReference: "A.2", Heading: true, Text: "Directions"},
		{SectionReference: "A.2(A)", Heading: true, Text: "To the Gym"},
		{SectionReference: "A.2(A)(i)", Heading: false, Text: "Turn left into Longships Drive and right at the T-junction into Whale Rock Drive"},
	})
	if err != nil {
		t.Fatalf("building Plett document: %v", err)
	}

	return map[string]corpus.Document{"WRR": wrr, "Plett": plett}
}

func testCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	c, err := corpus.New(testDocuments(t), "WRR")
	if err != nil {
		t.Fatalf("building corpus: %v", err)
	}
	return c
}

func testCorpusWithoutPrimary(t *testing.T) *corpus.Corpus {
	t.Helper()
	c, err := corpus.New(testDocuments(t), "")
	if err != nil {
		t.Fatalf("building corpus: %v", err)
	}
	return c
}

// scriptedLLM plays back canned chat replies in order and records every
// request it saw.
type scriptedLLM struct {
	replies  []string
	err      error
	requests []llm.ChatRequest
}

func (f *scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return &llm.ChatResponse{Content: reply}, nil
}

func (f *scriptedLLM) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding not scripted")
}

func testClient(t *testing.T, provider llm.Provider) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(provider, llm.ClientConfig{Model: "gpt-4o", MaxTokens: 500})
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
	return client
}

func testPathRAG(t *testing.T, script ...string) (*PathRAG, *scriptedLLM) {
	t.Helper()
	fake := &scriptedLLM{replies: script}
	p, err := NewPathRAG(testCorpus(t), testClient(t, fake), "a Visitor", "the Simplest way to Navigate Plett")
	if err != nil {
		t.Fatalf("building rag path: %v", err)
	}
	return p, fake
}

func testPathNoRAGData(t *testing.T, script ...string) (*PathNoRAGData, *scriptedLLM) {
	t.Helper()
	fake := &scriptedLLM{replies: script}
	p, err := NewPathNoRAGData(testClient(t, fake), "a Visitor", "the Simplest way to Navigate Plett")
	if err != nil {
		t.Fatalf("building no-rag path: %v", err)
	}
	return p, fake
}

func gymDefinition() retrieval.DefinitionHit {
	return retrieval.DefinitionHit{
		Document:         "Plett",
		SectionReference: "A.1(A)",
		Text:             "What is the Gym?",
		Definition:       "The Gym: The Health and Fitness Center on Piesang Valley Road",
	}
}

func wrrSection(ref, text string) retrieval.SectionHit {
	return retrieval.SectionHit{Document: "WRR", SectionReference: ref, SectionText: text}
}

// testMaterial is the standard three extracts: one Plett definition and
// two WRR sections, numbered 1 to 3 in that order.
func testMaterial() ([]retrieval.DefinitionHit, []retrieval.SectionHit) {
	defs := []retrieval.DefinitionHit{gymDefinition()}
	secs := []retrieval.SectionHit{
		wrrSection("1.2", "1 Navigating Whale Rock Ridge\n1.2 To Main Gate\nTurn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"),
		wrrSection("1.3", "1 Navigating Whale Rock Ridge\n1.3 To South Gate\nTurn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"),
	}
	return defs, secs
}

// Markdown renderings of the WRR sections, as usedReferences and
// addSection materialize them.
const (
	wrrMarkdown11 = "# 1 Navigating Whale Rock Ridge\n\n## 1.1 To West Gate\n\nTurn right out driveway. At the traffic circle, take the first exit. Proceed to West Gate"
	wrrMarkdown12 = "# 1 Navigating Whale Rock Ridge\n\n## 1.2 To Main Gate\n\nTurn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"
	wrrMarkdown13 = "# 1 Navigating Whale Rock Ridge\n\n## 1.3 To South Gate\n\nTurn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"
)
