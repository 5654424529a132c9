package retrieval

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/reference"
)

// The fixture corpus is a single estate handbook with dotted numbering.
// Index row embeddings are small 2-d vectors chosen so the questions in the
// tests land at exact cosine distances: [1,0] scores 0 against itself,
// [4,3] scores 0.2, [1,1] scores 1-1/sqrt(2), [3,4] scores 0.4, [0,1]
// scores 1.

func testChecker(t *testing.T) reference.Checker {
	t.Helper()
	c, err := reference.New(
		[]string{`^[1-9]`, `^\.[1-9]`, `^\.[1-9]`},
		`[1-9](\.[1-9]){0,2}`,
		nil,
	)
	if err != nil {
		t.Fatalf("building checker: %v", err)
	}
	return c
}

func testCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	rows := []corpus.Row{
		{SectionReference: "1", Heading: true, Text: "Navigating Whale Rock Ridge"},
		{SectionReference: "1", Heading: false, Text: "Whale Rock Ridge is a large complex. Here are directions to help you."},
		{SectionReference: "1.1", Heading: true, Text: "To West Gate"},
		{SectionReference: "1.1", Heading: false, Text: "Turn right out driveway. At the traffic circle, take the first exit. Proceed to West Gate"},
		{SectionReference: "1.2", Heading: true, Text: "To Main Gate"},
		{SectionReference: "1.2", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn right. Proceed to Gate"},
		{SectionReference: "1.3", Heading: true, Text: "To South Gate"},
		{SectionReference: "1.3", Heading: false, Text: "Turn left out driveway. Road turns left. At the first stop street, turn left. Follow road to Gate"},
	}
	doc, err := corpus.NewTable("Navigating Whale Rock Ridge", testChecker(t), rows)
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	c, err := corpus.New(map[string]corpus.Document{"WRR": doc}, "WRR")
	if err != nil {
		t.Fatalf("building corpus: %v", err)
	}
	return c
}

func testCounter(t *testing.T) *llm.TokenCounter {
	t.Helper()
	counter, err := llm.NewTokenCounter("gpt-4o")
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
	return counter
}

func newTestIndex(t *testing.T, defs []corpus.DefinitionRow, secs []corpus.SectionRow, wfs []corpus.WorkflowRow, cfg Config) *Index {
	t.Helper()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = Thresholds{Sections: 0.38, Definitions: 0.45}
	}
	ix, err := NewIndex(testCorpus(t), defs, secs, wfs, testCounter(t), cfg)
	if err != nil {
		t.Fatalf("building index: %v", err)
	}
	return ix
}

func sectionRow(ref, text string, embedding []float32) corpus.SectionRow {
	return corpus.SectionRow{
		Document:         "WRR",
		SectionReference: ref,
		Source:           "question",
		Text:             text,
		Embedding:        embedding,
	}
}

func TestRelevantDefinitionsFiltersAndSorts(t *testing.T) {
	defs := []corpus.DefinitionRow{
		{Document: "WRR", SectionReference: "1.2", Text: "What is the main gate?", Definition: "Main Gate: the gate on the main road", Embedding: []float32{3, 4}},
		{Document: "WRR", SectionReference: "1.1", Text: "What is the west gate?", Definition: "West Gate: the western entrance", Embedding: []float32{1, 0}},
		{Document: "WRR", SectionReference: "1.3", Text: "What is the south gate?", Definition: "South Gate: the southern entrance", Embedding: []float32{0, 1}},
	}
	ix := newTestIndex(t, defs, nil, nil, Config{})

	hits := ix.RelevantDefinitions(context.Background(), []float32{1, 0})
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].SectionReference != "1.1" || hits[1].SectionReference != "1.2" {
		t.Errorf("got order %s, %s, want 1.1, 1.2", hits[0].SectionReference, hits[1].SectionReference)
	}
	if math.Abs(hits[0].Distance) > 1e-6 {
		t.Errorf("closest distance = %f, want 0", hits[0].Distance)
	}
	if math.Abs(hits[1].Distance-0.4) > 1e-6 {
		t.Errorf("second distance = %f, want 0.4", hits[1].Distance)
	}
	if hits[0].Definition != "West Gate: the western entrance" {
		t.Errorf("definition text not carried through: %q", hits[0].Definition)
	}
}

func TestRelevantWorkflowsUsesSectionThreshold(t *testing.T) {
	wfs := []corpus.WorkflowRow{
		{Workflow: "map", Text: "Can you show this on a map?", Embedding: []float32{4, 3}},
		{Workflow: "email", Text: "Can you email this to me?", Embedding: []float32{3, 4}},
	}
	ix := newTestIndex(t, nil, nil, wfs, Config{})

	hits := ix.RelevantWorkflows(context.Background(), []float32{1, 0})
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (0.4 is outside the 0.38 section threshold)", len(hits))
	}
	if hits[0].Workflow != "map" {
		t.Errorf("workflow = %q, want map", hits[0].Workflow)
	}
}

func TestRelevantSectionsFiltersSortsAndMaterializes(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.2", "How do I get to Main Gate?", []float32{4, 3}),
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
		sectionRow("1.3", "How do I get to South Gate?", []float32{0, 1}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{})

	hits, err := ix.RelevantSections(context.Background(), "How do I get to West Gate?", []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].SectionReference != "1.1" || hits[1].SectionReference != "1.2" {
		t.Errorf("got order %s, %s, want 1.1, 1.2", hits[0].SectionReference, hits[1].SectionReference)
	}
	if !strings.Contains(hits[0].SectionText, "Turn right out driveway") {
		t.Errorf("section text not materialized: %q", hits[0].SectionText)
	}
	if !strings.Contains(hits[0].SectionText, "To West Gate") {
		t.Errorf("section text missing headings: %q", hits[0].SectionText)
	}
	if hits[0].Count != 1 {
		t.Errorf("count = %d, want 1", hits[0].Count)
	}
}

func TestRelevantSectionsNoneWithinThreshold(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{0, 1}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{})

	hits, err := ix.RelevantSections(context.Background(), "something else entirely", []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if hits != nil {
		t.Fatalf("got %d hits, want none", len(hits))
	}
}

func TestRelevantSectionsTokenCapKeepsFirstSection(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
		sectionRow("1.2", "How do I get to Main Gate?", []float32{4, 3}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{SectionTokenCap: 1})

	hits, err := ix.RelevantSections(context.Background(), "How do I get to West Gate?", []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (first section always survives the cap)", len(hits))
	}
	if hits[0].SectionReference != "1.1" {
		t.Errorf("survivor = %s, want 1.1", hits[0].SectionReference)
	}
}

func TestRelevantSectionsLimit(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
		sectionRow("1.1", "Where is West Gate?", []float32{100, 1}),
		sectionRow("1.2", "How do I get to Main Gate?", []float32{4, 3}),
		sectionRow("1.2", "Where is Main Gate?", []float32{20, 3}),
		sectionRow("1.3", "How do I get to South Gate?", []float32{1, 1}),
		sectionRow("1.3", "Where is South Gate?", []float32{10, 1}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{})

	hits, err := ix.RelevantSections(context.Background(), "gates", []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if len(hits) != 5 {
		t.Fatalf("got %d hits, want the section limit of 5", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Fatalf("hits not sorted by distance: %f before %f", hits[i-1].Distance, hits[i].Distance)
		}
	}
}

// reverseReranker flips the candidate order to expose which order the
// token walk and the final distance sort each use.
type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, hits []SectionHit) ([]SectionHit, error) {
	out := make([]SectionHit, len(hits))
	for i, hit := range hits {
		out[len(hits)-1-i] = hit
	}
	return out, nil
}

func TestRelevantSectionsSurvivorsComeFromRerankPrefix(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
		sectionRow("1.2", "How do I get to Main Gate?", []float32{4, 3}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{SectionTokenCap: 1})

	// The walk runs in rerank order (1.2 first) and stops after one
	// section, so 1.2 is the survivor even though 1.1 is closer.
	hits, err := ix.RelevantSections(context.Background(), "gates", []float32{1, 0}, reverseReranker{})
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].SectionReference != "1.2" {
		t.Errorf("survivor = %s, want the reranker's first pick 1.2", hits[0].SectionReference)
	}
}

func TestRelevantSectionsTokenCapHoldsUnderReranking(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
		sectionRow("1.2", "How do I get to Main Gate?", []float32{4, 3}),
		sectionRow("1.3", "How do I get to South Gate?", []float32{1, 1}),
	}

	// Size the cap to hold exactly the first two sections in rerank order
	// (the reranker reverses distance order, so 1.3 then 1.2), leaving no
	// room for the closest section 1.1.
	c := testCorpus(t)
	counter := testCounter(t)
	tokenCap := 0
	for _, ref := range []string{"1.3", "1.2"} {
		text, err := c.Text("WRR", ref, corpus.TextOptions{Headings: true})
		if err != nil {
			t.Fatalf("materializing %s: %v", ref, err)
		}
		tokenCap += counter.Count(text)
	}
	ix := newTestIndex(t, nil, secs, nil, Config{SectionTokenCap: tokenCap})

	hits, err := ix.RelevantSections(context.Background(), "gates", []float32{1, 0}, reverseReranker{})
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want the two sections that fit the cap", len(hits))
	}
	total := 0
	for _, hit := range hits {
		total += counter.Count(hit.SectionText)
	}
	if total > tokenCap {
		t.Errorf("returned sections total %d tokens against a cap of %d", total, tokenCap)
	}
	// Within the survivor set the order is by ascending distance, and the
	// beyond-cap section 1.1 stays out even though it is the closest.
	if hits[0].SectionReference != "1.2" || hits[1].SectionReference != "1.3" {
		t.Errorf("got survivors %s, %s, want 1.2, 1.3",
			hits[0].SectionReference, hits[1].SectionReference)
	}
}

type emptyReranker struct{}

func (emptyReranker) Rerank(_ context.Context, _ string, _ []SectionHit) ([]SectionHit, error) {
	return nil, nil
}

func TestRelevantSectionsRerankToEmpty(t *testing.T) {
	secs := []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
	}
	ix := newTestIndex(t, nil, secs, nil, Config{})

	hits, err := ix.RelevantSections(context.Background(), "gates", []float32{1, 0}, emptyReranker{})
	if err != nil {
		t.Fatalf("RelevantSections: %v", err)
	}
	if hits != nil {
		t.Fatalf("got %d hits, want none after rerank emptied the set", len(hits))
	}
}

func TestNewIndexValidates(t *testing.T) {
	if _, err := NewIndex(nil, nil, nil, nil, testCounter(t), Config{}); err == nil {
		t.Error("nil corpus accepted")
	}
	if _, err := NewIndex(testCorpus(t), nil, nil, nil, nil, Config{}); err == nil {
		t.Error("nil counter accepted")
	}
}
