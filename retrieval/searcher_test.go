package retrieval

import (
	"context"
	"testing"

	"github.com/brunobiangulo/corpuschat/corpus"
)

func mapWorkflow(embedding []float32) []corpus.WorkflowRow {
	return []corpus.WorkflowRow{{Workflow: "map", Text: "Can you show this on a map?", Embedding: embedding}}
}

func TestSearcherWorkflowWinsOnlyWhenStrictlyClosest(t *testing.T) {
	// Question embedding [1,0]: [4,3] scores 0.2, [20,3] about 0.011,
	// [1,0] exactly 0.
	tests := []struct {
		name     string
		defs     []corpus.DefinitionRow
		secs     []corpus.SectionRow
		wfs      []corpus.WorkflowRow
		workflow string
	}{
		{
			name:     "workflow strictly closest",
			defs:     []corpus.DefinitionRow{{Document: "WRR", SectionReference: "1.1", Text: "What is the west gate?", Embedding: []float32{4, 3}}},
			secs:     []corpus.SectionRow{sectionRow("1.1", "How do I get to West Gate?", []float32{4, 3})},
			wfs:      mapWorkflow([]float32{1, 0}),
			workflow: "map",
		},
		{
			name:     "definition tie demotes the workflow",
			defs:     []corpus.DefinitionRow{{Document: "WRR", SectionReference: "1.1", Text: "What is the west gate?", Embedding: []float32{4, 3}}},
			wfs:      mapWorkflow([]float32{4, 3}),
			workflow: WorkflowNone,
		},
		{
			name:     "closer section demotes the workflow",
			secs:     []corpus.SectionRow{sectionRow("1.1", "How do I get to West Gate?", []float32{20, 3})},
			wfs:      mapWorkflow([]float32{4, 3}),
			workflow: WorkflowNone,
		},
		{
			name:     "no workflow table",
			secs:     []corpus.SectionRow{sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0})},
			workflow: WorkflowNone,
		},
		{
			name:     "workflow outside threshold",
			wfs:      mapWorkflow([]float32{0, 1}),
			workflow: WorkflowNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ix := newTestIndex(t, tc.defs, tc.secs, tc.wfs, Config{})
			embedder := &fakeLLM{embeddings: [][]float32{{1, 0}}}
			s, err := NewSearcher(ix, embedder, nil)
			if err != nil {
				t.Fatalf("NewSearcher: %v", err)
			}

			result, err := s.Run(context.Background(), "How do I get to West Gate?")
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if result.Workflow != tc.workflow {
				t.Errorf("workflow = %q, want %q", result.Workflow, tc.workflow)
			}
			if len(tc.defs) > 0 && len(result.Definitions) == 0 {
				t.Error("definitions dropped from the result")
			}
			if len(tc.secs) > 0 && len(result.Sections) == 0 {
				t.Error("sections dropped from the result")
			}
		})
	}
}

func TestSearcherEmbedsTheQuestionOnce(t *testing.T) {
	ix := newTestIndex(t, nil, []corpus.SectionRow{
		sectionRow("1.1", "How do I get to West Gate?", []float32{1, 0}),
	}, mapWorkflow([]float32{4, 3}), Config{})
	embedder := &fakeLLM{embeddings: [][]float32{{1, 0}}}
	s, err := NewSearcher(ix, embedder, nil)
	if err != nil {
		t.Fatalf("NewSearcher: %v", err)
	}

	if _, err := s.Run(context.Background(), "How do I get to West Gate?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(embedder.embedded) != 1 {
		t.Fatalf("got %d embed calls, want 1", len(embedder.embedded))
	}
	if len(embedder.embedded[0]) != 1 || embedder.embedded[0][0] != "How do I get to West Gate?" {
		t.Errorf("embedded %v, want the raw question", embedder.embedded[0])
	}
}

func TestSearcherPropagatesEmbedError(t *testing.T) {
	ix := newTestIndex(t, nil, nil, nil, Config{})
	embedder := &fakeLLM{embedErr: context.DeadlineExceeded}
	s, err := NewSearcher(ix, embedder, nil)
	if err != nil {
		t.Fatalf("NewSearcher: %v", err)
	}

	if _, err := s.Run(context.Background(), "q"); err == nil {
		t.Error("embed error not propagated")
	}
}

func TestNewSearcherValidates(t *testing.T) {
	ix := newTestIndex(t, nil, nil, nil, Config{})
	if _, err := NewSearcher(nil, &fakeLLM{}, nil); err == nil {
		t.Error("nil index accepted")
	}
	if _, err := NewSearcher(ix, nil, nil); err == nil {
		t.Error("nil embedder accepted")
	}
}
