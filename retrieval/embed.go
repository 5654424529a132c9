package retrieval

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
)

// EmbedRows fills the missing embeddings of index rows in place with one
// batched request. Rows that already carry an embedding are left alone, so a
// partially embedded index re-embeds only what it must.
func EmbedRows(ctx context.Context, embedder llm.Provider, defs []corpus.DefinitionRow, secs []corpus.SectionRow, wfs []corpus.WorkflowRow) error {
	if embedder == nil {
		return fmt.Errorf("retrieval: embedding rows requires a provider")
	}

	var texts []string
	var slots []*[]float32
	add := func(text string, vec *[]float32) {
		texts = append(texts, text)
		slots = append(slots, vec)
	}
	for i := range defs {
		if len(defs[i].Embedding) == 0 {
			add(defs[i].Text, &defs[i].Embedding)
		}
	}
	for i := range secs {
		if len(secs[i].Embedding) == 0 {
			add(secs[i].Text, &secs[i].Embedding)
		}
	}
	for i := range wfs {
		if len(wfs[i].Embedding) == 0 {
			add(wfs[i].Text, &wfs[i].Embedding)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("retrieval: embedding %d index rows: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("retrieval: embedding returned %d vectors for %d rows", len(vecs), len(texts))
	}
	for i, vec := range vecs {
		*slots[i] = vec
	}
	return nil
}
