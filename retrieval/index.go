package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
)

// Config holds the section selection knobs. Zero values take the calibrated
// defaults in NewIndex.
type Config struct {
	Thresholds Thresholds
	// SectionCap is how many section candidates enter reranking.
	SectionCap int
	// SectionLimit is the maximum number of sections handed to the dialogue.
	SectionLimit int
	// SectionTokenCap bounds the cumulative token count of section text.
	SectionTokenCap int
}

const (
	defaultSectionCap      = 15
	defaultSectionLimit    = 5
	defaultSectionTokenCap = 3500
)

// DefinitionHit is a definition row scored against a question.
type DefinitionHit struct {
	Document         string
	SectionReference string
	Text             string
	Definition       string
	Distance         float64
}

// SectionHit is a section row scored against a question. After selection,
// SectionText holds the materialized document text for the section and
// Count how many index rows collapsed into this hit during reranking.
type SectionHit struct {
	Document         string
	SectionReference string
	Source           string
	Text             string
	Distance         float64
	Count            int
	SectionText      string
}

// WorkflowHit is a workflow trigger scored against a question.
type WorkflowHit struct {
	Workflow string
	Text     string
	Distance float64
}

// Index answers nearest-neighbour queries over the corpus index tables.
// Rows are held in memory with their embeddings. An Index is immutable
// after construction and safe for concurrent use.
type Index struct {
	corpus      *corpus.Corpus
	definitions []corpus.DefinitionRow
	sections    []corpus.SectionRow
	workflows   []corpus.WorkflowRow
	counter     *llm.TokenCounter
	cfg         Config
}

// NewIndex builds an index over the given rows. counter is used for the
// section token cap and must not be nil.
func NewIndex(c *corpus.Corpus, definitions []corpus.DefinitionRow, sections []corpus.SectionRow, workflows []corpus.WorkflowRow, counter *llm.TokenCounter, cfg Config) (*Index, error) {
	if c == nil {
		return nil, fmt.Errorf("retrieval: index requires a corpus")
	}
	if counter == nil {
		return nil, fmt.Errorf("retrieval: index requires a token counter")
	}
	if cfg.SectionCap <= 0 {
		cfg.SectionCap = defaultSectionCap
	}
	if cfg.SectionLimit <= 0 {
		cfg.SectionLimit = defaultSectionLimit
	}
	if cfg.SectionTokenCap <= 0 {
		cfg.SectionTokenCap = defaultSectionTokenCap
	}
	return &Index{
		corpus:      c,
		definitions: definitions,
		sections:    sections,
		workflows:   workflows,
		counter:     counter,
		cfg:         cfg,
	}, nil
}

// Corpus returns the corpus the index was built over.
func (ix *Index) Corpus() *corpus.Corpus { return ix.corpus }

// HasWorkflows reports whether any workflow triggers are indexed.
func (ix *Index) HasWorkflows() bool { return len(ix.workflows) > 0 }

// RelevantDefinitions returns the definitions scoring strictly below the
// definition threshold, closest first.
func (ix *Index) RelevantDefinitions(ctx context.Context, embedding []float32) []DefinitionHit {
	var hits []DefinitionHit
	for _, row := range ix.definitions {
		d := cosineDistance(row.Embedding, embedding)
		if d < ix.cfg.Thresholds.Definitions {
			hits = append(hits, DefinitionHit{
				Document:         row.Document,
				SectionReference: row.SectionReference,
				Text:             row.Text,
				Definition:       row.Definition,
				Distance:         d,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	if len(hits) == 0 {
		slog.Log(ctx, logging.LevelDev, "retrieval: no relevant definitions found")
		return nil
	}
	for _, hit := range hits {
		slog.Log(ctx, logging.LevelDev, "retrieval: relevant definition",
			"distance", fmt.Sprintf("%.4f", hit.Distance),
			"text", hit.Text,
		)
	}
	return hits
}

// RelevantWorkflows returns the workflow triggers scoring strictly below
// the section threshold, closest first.
func (ix *Index) RelevantWorkflows(ctx context.Context, embedding []float32) []WorkflowHit {
	var hits []WorkflowHit
	for _, row := range ix.workflows {
		d := cosineDistance(row.Embedding, embedding)
		if d < ix.cfg.Thresholds.Sections {
			hits = append(hits, WorkflowHit{Workflow: row.Workflow, Text: row.Text, Distance: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) == 0 {
		slog.Log(ctx, logging.LevelDev, "retrieval: no relevant workflows found")
	}
	return hits
}

// RelevantSections selects the sections handed to the dialogue: threshold
// filter, candidate cap, rerank, then a token cap over the materialized
// section text. The final slice is ordered by distance and never exceeds
// the section limit.
func (ix *Index) RelevantSections(ctx context.Context, question string, embedding []float32, reranker Reranker) ([]SectionHit, error) {
	var hits []SectionHit
	for _, row := range ix.sections {
		d := cosineDistance(row.Embedding, embedding)
		if d < ix.cfg.Thresholds.Sections {
			hits = append(hits, SectionHit{
				Document:         row.Document,
				SectionReference: row.SectionReference,
				Source:           row.Source,
				Text:             row.Text,
				Distance:         d,
				Count:            1,
			})
		}
	}
	if len(hits) == 0 {
		slog.Log(ctx, logging.LevelDev, "retrieval: no relevant sections found")
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > ix.cfg.SectionCap {
		hits = hits[:ix.cfg.SectionCap]
	}
	for _, hit := range hits {
		slog.Log(ctx, logging.LevelDev, "retrieval: section candidate",
			"distance", fmt.Sprintf("%.4f", hit.Distance),
			"document", hit.Document,
			"section", hit.SectionReference,
			"source", hit.Source,
		)
	}

	if reranker == nil {
		reranker = NoneReranker{}
	}
	reranked, err := reranker.Rerank(ctx, question, hits)
	if err != nil {
		return nil, err
	}
	if len(reranked) == 0 {
		slog.Log(ctx, logging.LevelAnalysis, "retrieval: reranking concluded there were no relevant sections")
		return nil, nil
	}

	capped, err := ix.capSectionTokens(ctx, reranked)
	if err != nil {
		return nil, err
	}
	return capped, nil
}

// capSectionTokens materializes the document text for each hit and walks
// the cumulative token count in rerank order to decide which sections fit.
// The first section always survives even when it alone exceeds the cap.
// The walked prefix is the survivor set; it is returned ordered by
// distance and truncated to SectionLimit, so the result stays within the
// token cap unless it is that single oversized section.
func (ix *Index) capSectionTokens(ctx context.Context, hits []SectionHit) ([]SectionHit, error) {
	tokens := make([]int, len(hits))
	for i := range hits {
		text, err := ix.corpus.Text(hits[i].Document, hits[i].SectionReference, corpus.TextOptions{Headings: true})
		if err != nil {
			return nil, fmt.Errorf("retrieval: materializing %s %s: %w", hits[i].Document, hits[i].SectionReference, err)
		}
		hits[i].SectionText = text
		tokens[i] = ix.counter.Count(text)
	}

	n := len(hits)
	cum := 0
	for i := range hits {
		if cum+tokens[i] > ix.cfg.SectionTokenCap {
			n = i
			break
		}
		cum += tokens[i]
	}
	if n == 0 {
		n = 1
	}
	if n != len(hits) {
		slog.Log(ctx, logging.LevelDev, "retrieval: token capping reduced the number of reference sections",
			"from", len(hits),
			"to", n,
		)
	}

	final := make([]SectionHit, n)
	copy(final, hits[:n])
	sort.SliceStable(final, func(i, j int) bool { return final[i].Distance < final[j].Distance })
	if len(final) > ix.cfg.SectionLimit {
		final = final[:ix.cfg.SectionLimit]
	}
	return final, nil
}
