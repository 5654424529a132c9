// Command eval replays the built-in navigation datasets through live chat
// sessions and reports pass rates per category.
//
// Usage:
//
//	go run ./cmd/eval \
//	  --config corpuschat.yaml \
//	  --dataset all \
//	  --output report.json
//
// The corpus and retrieval index are built in memory from the navigation
// fixtures, so no database is needed; only the configured chat and
// embedding providers are contacted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/eval"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
	"github.com/brunobiangulo/corpuschat/retrieval"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	dataset := flag.String("dataset", "all", "Dataset to run: directions, landmarks, guardrails, fallback, all")
	difficulty := flag.String("difficulty", "", "Only run datasets of this difficulty: easy, medium, complex")
	outputFile := flag.String("output", "", "Path to write the JSON reports (default: stdout text only)")
	listOnly := flag.Bool("list", false, "List the available datasets and exit")
	flag.Parse()

	if *listOnly {
		for _, ds := range eval.AllDatasets() {
			fmt.Printf("%-45s difficulty=%-8s strict=%-5v tests=%d\n",
				ds.Name, ds.Difficulty, ds.Strict, len(ds.Tests))
		}
		return
	}

	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	cfg := corpuschat.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = corpuschat.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       logging.ParseLevel(cfg.LogLevel),
		ReplaceAttr: logging.RenameLevels,
	})))

	datasets := selectDatasets(*dataset, *difficulty)
	if len(datasets) == 0 {
		slog.Error("no datasets match", "dataset", *dataset, "difficulty", *difficulty)
		os.Exit(1)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evaluator := eval.NewEvaluator(engine)
	var reports []*eval.Report
	failed := 0
	for _, ds := range datasets {
		report, err := evaluator.Run(ctx, ds)
		if err != nil {
			slog.Error("dataset aborted", "dataset", ds.Name, "error", err)
			os.Exit(1)
		}
		fmt.Println(eval.FormatReport(report))
		reports = append(reports, report)
		failed += report.Failed
	}

	if *outputFile != "" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			slog.Error("encoding reports", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
			slog.Error("writing reports", "path", *outputFile, "error", err)
			os.Exit(1)
		}
		slog.Info("reports written", "path", *outputFile)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// selectDatasets filters the built-in datasets by name and difficulty.
func selectDatasets(name, difficulty string) []eval.Dataset {
	var out []eval.Dataset
	for _, ds := range eval.AllDatasets() {
		if name != "all" && !strings.Contains(strings.ToLower(ds.Name), strings.ToLower(name)) {
			continue
		}
		if difficulty != "" && ds.Difficulty != difficulty {
			continue
		}
		out = append(out, ds)
	}
	return out
}

// buildEngine assembles an engine over the in-memory navigation corpus. The
// fixture index rows carry no embeddings, so they are embedded through the
// configured provider before the index is built.
func buildEngine(cfg corpuschat.Config) (*corpuschat.Engine, error) {
	c, err := eval.NavigatingCorpus()
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewProvider(llm.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	defs, secs, wfs := eval.NavigatingIndexRows()
	slog.Info("embedding fixture index", "definitions", len(defs), "sections", len(secs), "workflows", len(wfs))
	if err := retrieval.EmbedRows(context.Background(), embedder, defs, secs, wfs); err != nil {
		return nil, err
	}

	counter, err := llm.NewTokenCounter(cfg.Chat.Model)
	if err != nil {
		return nil, err
	}
	index, err := retrieval.NewIndex(c, defs, secs, wfs, counter, cfg.RetrievalConfig())
	if err != nil {
		return nil, err
	}

	return corpuschat.New(cfg,
		corpuschat.WithCorpus(c),
		corpuschat.WithIndex(index),
		corpuschat.WithIdentity(eval.NavigatingUserType, eval.NavigatingDescription),
	)
}
