package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
)

// WorkflowNone is the workflow value when no trigger won the search.
const WorkflowNone = "none"

// SearchResult is everything one similarity search produced: the winning
// workflow trigger (or WorkflowNone) plus the relevant definitions and
// sections, each closest first.
type SearchResult struct {
	Workflow    string
	Definitions []DefinitionHit
	Sections    []SectionHit
}

// Searcher runs the similarity search that starts every user turn. The
// question is embedded once and scored against all three index tables. A
// workflow only triggers when its distance beats both the best definition
// and the best section strictly.
type Searcher struct {
	index    *Index
	embedder llm.Provider
	reranker Reranker
}

// NewSearcher wires a searcher over an index. embedder generates the
// question embedding and must match the model the index rows were
// embedded with.
func NewSearcher(index *Index, embedder llm.Provider, reranker Reranker) (*Searcher, error) {
	if index == nil {
		return nil, fmt.Errorf("retrieval: searcher requires an index")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: searcher requires an embedding provider")
	}
	if reranker == nil {
		reranker = NoneReranker{}
	}
	return &Searcher{index: index, embedder: embedder, reranker: reranker}, nil
}

// Run searches the index for material relevant to the question.
func (s *Searcher) Run(ctx context.Context, question string) (SearchResult, error) {
	slog.Log(ctx, logging.LevelDev, "retrieval: similarity search", "question", question)

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return SearchResult{}, fmt.Errorf("retrieval: embedding question: %w", err)
	}
	if len(vectors) == 0 {
		return SearchResult{}, fmt.Errorf("retrieval: embedding question: empty response")
	}
	embedding := vectors[0]

	workflow := WorkflowNone
	workflowScore := 1.0
	if s.index.HasWorkflows() {
		if hits := s.index.RelevantWorkflows(ctx, embedding); len(hits) > 0 {
			workflow = hits[0].Workflow
			workflowScore = hits[0].Distance
			slog.Info("retrieval: found a potentially relevant workflow", "workflow", workflow)
		}
	}

	definitions := s.index.RelevantDefinitions(ctx, embedding)
	if len(definitions) > 0 && definitions[0].Distance <= workflowScore && workflow != WorkflowNone {
		slog.Log(ctx, logging.LevelDev, "retrieval: definition outranked the workflow", "workflow", workflow)
		workflow = WorkflowNone
	}

	sections, err := s.index.RelevantSections(ctx, question, embedding, s.reranker)
	if err != nil {
		return SearchResult{}, err
	}
	if len(sections) > 0 && sections[0].Distance <= workflowScore && workflow != WorkflowNone {
		slog.Log(ctx, logging.LevelDev, "retrieval: section outranked the workflow", "workflow", workflow)
		workflow = WorkflowNone
	}

	return SearchResult{Workflow: workflow, Definitions: definitions, Sections: sections}, nil
}
