package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/corpuschat"
)

// Evaluator replays datasets through live chat sessions on an engine.
type Evaluator struct {
	engine *corpuschat.Engine
}

// NewEvaluator wraps an engine for evaluation runs.
func NewEvaluator(engine *corpuschat.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Report holds the results of one dataset run.
type Report struct {
	Dataset           string             `json:"dataset"`
	Difficulty        string             `json:"difficulty,omitempty"`
	Strict            bool               `json:"strict"`
	TotalTests        int                `json:"total_tests"`
	Passed            int                `json:"passed"`
	Failed            int                `json:"failed"`
	Metrics           AggregateMetrics   `json:"metrics"`
	CategoryPassRates map[string]float64 `json:"category_pass_rates,omitempty"`
	Results           []TestResult       `json:"results"`
	RunTime           time.Duration      `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across a run. KindAccuracy covers
// every test; FactRecall averages only tests that declare expected facts and
// Provenance only responses that cited material, so tests with nothing to
// measure do not dilute the rest.
type AggregateMetrics struct {
	KindAccuracy float64 `json:"kind_accuracy"`
	FactRecall   float64 `json:"fact_recall"`
	Provenance   float64 `json:"provenance"`
}

// TestResult holds the outcome of a single replayed question with enough
// diagnostics to read a regression without rerunning it.
type TestResult struct {
	Question     string `json:"question"`
	Category     string `json:"category,omitempty"`
	ExpectedKind string `json:"expected_kind"`
	Kind         string `json:"kind"`
	Answer       string `json:"answer"`

	KindMatch         bool     `json:"kind_match"`
	FactRecall        float64  `json:"fact_recall"`
	MissedFacts       []string `json:"missed_facts,omitempty"`
	NearMisses        []string `json:"near_misses,omitempty"`
	Provenance        float64  `json:"provenance"`
	ProvenanceChecked bool     `json:"provenance_checked"`
	CitationFlaws     []string `json:"citation_flaws,omitempty"`
	Passed            bool     `json:"passed"`

	// Steps is the execution path the session took for this question.
	Steps []string `json:"steps,omitempty"`

	ElapsedMs int64 `json:"elapsed_ms"`
}

// Run replays every question in the dataset, each through a fresh session in
// the dataset's declared mode, and aggregates the scores. It stops early only
// when ctx is done, returning the partial report alongside the error; every
// other failure mode is a response the engine already classified and scores
// like any other result.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	report := &Report{
		Dataset:    ds.Name,
		Difficulty: ds.Difficulty,
		Strict:     ds.Strict,
		TotalTests: len(ds.Tests),
	}
	start := time.Now()

	c := e.engine.Corpus()
	categoryTotal := make(map[string]int)
	categoryPassed := make(map[string]int)
	var kindSum, factSum, provSum float64
	factCount, provCount := 0, 0

	for i, tc := range ds.Tests {
		chat := e.engine.NewChat(corpuschat.WithStrict(ds.Strict))

		testStart := time.Now()
		resp, err := chat.UserInput(ctx, tc.Question)
		if err != nil {
			report.RunTime = time.Since(start)
			return report, fmt.Errorf("eval: %q: %w", tc.Question, err)
		}

		res := scoreResult(c, tc, resp)
		res.Steps = chat.ExecutionPath()
		res.ElapsedMs = time.Since(testStart).Milliseconds()
		report.Results = append(report.Results, res)

		if res.KindMatch {
			kindSum++
		}
		if len(tc.ExpectedFacts) > 0 {
			factSum += res.FactRecall
			factCount++
		}
		if res.ProvenanceChecked {
			provSum += res.Provenance
			provCount++
		}

		categoryTotal[res.Category]++
		status := "FAIL"
		if res.Passed {
			report.Passed++
			categoryPassed[res.Category]++
			status = "PASS"
		} else {
			report.Failed++
		}

		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(ds.Tests)),
			"status", status,
			"question", truncate(tc.Question, 80))
	}

	if len(ds.Tests) > 0 {
		report.Metrics.KindAccuracy = kindSum / float64(len(ds.Tests))
	}
	if factCount > 0 {
		report.Metrics.FactRecall = factSum / float64(factCount)
	}
	if provCount > 0 {
		report.Metrics.Provenance = provSum / float64(provCount)
	}
	if len(categoryTotal) > 0 {
		report.CategoryPassRates = make(map[string]float64, len(categoryTotal))
		for category, total := range categoryTotal {
			report.CategoryPassRates[category] = float64(categoryPassed[category]) / float64(total)
		}
	}

	report.RunTime = time.Since(start)
	return report, nil
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	if r.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", r.Difficulty)
	}
	mode := "permissive"
	if r.Strict {
		mode = "strict"
	}
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Kind Accuracy: %.2f\n", r.Metrics.KindAccuracy)
	fmt.Fprintf(&b, "  Fact Recall:   %.2f\n", r.Metrics.FactRecall)
	fmt.Fprintf(&b, "  Provenance:    %.2f\n\n", r.Metrics.Provenance)

	// Per-category breakdown (sorted for deterministic output)
	if len(r.CategoryPassRates) > 0 {
		cats := make([]string, 0, len(r.CategoryPassRates))
		for cat := range r.CategoryPassRates {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Pass Rates:\n")
		for _, cat := range cats {
			fmt.Fprintf(&b, "  %-18s %.1f%%\n", cat, r.CategoryPassRates[cat]*100)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.Question)
		fmt.Fprintf(&b, "  Kind=%s FactRecall=%.2f Provenance=%.2f  (%dms)\n",
			res.Kind, res.FactRecall, res.Provenance, res.ElapsedMs)
		if !res.KindMatch {
			fmt.Fprintf(&b, "  Expected kind: %s\n", res.ExpectedKind)
		}
		for _, fact := range res.MissedFacts {
			fmt.Fprintf(&b, "  Missed: %s\n", fact)
		}
		for _, near := range res.NearMisses {
			fmt.Fprintf(&b, "  Closest: %s\n", truncate(near, 160))
		}
		for _, flaw := range res.CitationFlaws {
			fmt.Fprintf(&b, "  Citation: %s\n", flaw)
		}
	}

	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
