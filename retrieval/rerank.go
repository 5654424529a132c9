package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
)

// Rerank strategy names accepted in configuration.
const (
	RerankNone       = "none"
	RerankMostCommon = "most_common"
	RerankLLM        = "llm"
)

// A Reranker narrows a distance-ordered candidate list down to the
// sections worth reading. Implementations choose their own output order
// and the index walks the token cap in that order afterwards.
type Reranker interface {
	Rerank(ctx context.Context, question string, hits []SectionHit) ([]SectionHit, error)
}

// NewReranker constructs the strategy named by mode. The llm strategy
// needs a provider and a chat model; the other strategies ignore them.
func NewReranker(mode string, provider llm.Provider, model, userType, corpusDescription string) (Reranker, error) {
	switch mode {
	case "", RerankNone:
		return NoneReranker{}, nil
	case RerankMostCommon:
		return MostCommonReranker{}, nil
	case RerankLLM:
		if provider == nil {
			return nil, fmt.Errorf("retrieval: llm reranking requires a provider")
		}
		if model == "" {
			return nil, fmt.Errorf("retrieval: llm reranking requires a chat model")
		}
		return &LLMReranker{
			provider:          provider,
			model:             model,
			userType:          userType,
			corpusDescription: corpusDescription,
		}, nil
	default:
		return nil, fmt.Errorf("retrieval: unknown rerank strategy %q", mode)
	}
}

// NoneReranker keeps the candidates exactly as scored.
type NoneReranker struct{}

func (NoneReranker) Rerank(_ context.Context, _ string, hits []SectionHit) ([]SectionHit, error) {
	return hits, nil
}

// MostCommonReranker favours sections the index surfaced repeatedly: the
// closest hit first, then the unique mode when one exists, then every
// other section appearing more than once. When only the closest hit
// survives and others were found, it backfills up to two next-best
// singletons so the dialogue sees more than one candidate.
type MostCommonReranker struct{}

func (MostCommonReranker) Rerank(ctx context.Context, _ string, hits []SectionHit) ([]SectionHit, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	type group struct {
		first int
		count int
	}
	key := func(h SectionHit) string { return h.Document + "\x00" + h.SectionReference }
	groups := make(map[string]*group)
	var order []string
	for i, hit := range hits {
		k := key(hit)
		g, ok := groups[k]
		if !ok {
			g = &group{first: i}
			groups[k] = g
			order = append(order, k)
		}
		g.count++
	}

	pick := func(i, count int) SectionHit {
		h := hits[i]
		h.Count = count
		return h
	}

	topKey := key(hits[0])
	selected := []SectionHit{pick(0, groups[topKey].count)}
	slog.Log(ctx, logging.LevelAnalysis, "rerank: top result",
		"document", hits[0].Document,
		"section", hits[0].SectionReference,
		"distance", fmt.Sprintf("%.4f", hits[0].Distance),
	)

	// The mode only counts when exactly one section holds the highest
	// frequency.
	maxCount := 0
	for _, k := range order {
		if groups[k].count > maxCount {
			maxCount = groups[k].count
		}
	}
	modeKey := ""
	for _, k := range order {
		if groups[k].count == maxCount {
			if modeKey != "" {
				modeKey = ""
				break
			}
			modeKey = k
		}
	}

	if modeKey != "" && modeKey != topKey {
		g := groups[modeKey]
		selected = append(selected, pick(g.first, g.count))
		slog.Log(ctx, logging.LevelAnalysis, "rerank: most common section",
			"document", hits[g.first].Document,
			"section", hits[g.first].SectionReference,
			"count", g.count,
			"distance", fmt.Sprintf("%.4f", hits[g.first].Distance),
		)
	}

	for _, k := range order {
		if k == topKey || k == modeKey {
			continue
		}
		if g := groups[k]; g.count > 1 {
			selected = append(selected, pick(g.first, g.count))
			slog.Log(ctx, logging.LevelAnalysis, "rerank: repeated section",
				"document", hits[g.first].Document,
				"section", hits[g.first].SectionReference,
				"count", g.count,
				"distance", fmt.Sprintf("%.4f", hits[g.first].Distance),
			)
		}
	}

	if len(selected) == 1 && len(hits) > 1 {
		slog.Log(ctx, logging.LevelAnalysis, "rerank: only the top result selected, adding the next most likely answers")
		added := 0
		for i := 1; i < len(hits) && added < 2; i++ {
			if key(hits[i]) == topKey {
				continue
			}
			selected = append(selected, pick(i, 1))
			added++
		}
	}

	return selected, nil
}

// LLMReranker shows the chat model the candidate index items and keeps
// the ones it names. Invalid or out-of-range picks are dropped and
// duplicates collapse to their first occurrence.
type LLMReranker struct {
	provider          llm.Provider
	model             string
	userType          string
	corpusDescription string
}

const rerankMaxTokens = 500

func (r *LLMReranker) Rerank(ctx context.Context, question string, hits []SectionHit) ([]SectionHit, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	items := make([]string, len(hits))
	for i, hit := range hits {
		items[i] = fmt.Sprintf("Index %d: %s", i+1, hit.Text)
	}

	system := fmt.Sprintf("You are helping %s answer questions on %s. "+
		"You will be given the users question followed by a list of index items. "+
		"An index item is a description of what is contained in a document. It is either a summary of the document or a question that is answered in the document. "+
		"Your job is to use the index items to determine which documents are likely to contain an answer to the users question. "+
		"List the number of the index items in a pipe delimited list. Do not respond with any other text. Just the pipe delimited list of integer index numbers.",
		r.userType, r.corpusDescription)
	user := fmt.Sprintf("### Question: %s\n### Index items: \n%s", question, strings.Join(items, "\n"))

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		MaxTokens:   rerankMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank call: %w", err)
	}

	var picked []SectionHit
	seen := make(map[string]bool)
	for _, item := range strings.Split(resp.Content, "|") {
		item = strings.TrimSpace(item)
		n, err := strconv.Atoi(item)
		if err != nil || n < 1 || n > len(hits) {
			slog.Log(ctx, logging.LevelAnalysis, "rerank: model item is not a valid index number",
				"item", item,
				"max", len(hits),
			)
			continue
		}
		hit := hits[n-1]
		k := hit.Document + "_" + hit.SectionReference
		if seen[k] {
			continue
		}
		seen[k] = true
		picked = append(picked, hit)
		slog.Log(ctx, logging.LevelAnalysis, "rerank: model kept section",
			"document", hit.Document,
			"section", hit.SectionReference,
		)
	}

	return picked, nil
}
