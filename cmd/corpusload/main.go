// Command corpusload moves a corpus workbook into the SQLite database the
// chat engine reads from.
//
// Usage:
//
//	go run ./cmd/corpusload \
//	  --config corpuschat.yaml \
//	  --workbook estate.xlsx
//
// The workbook's meta and contents sheets become the corpus; the
// definitions, sections and workflows sheets become the retrieval index.
// Index rows without embedding cells are embedded through the configured
// provider before saving, unless --skip-embed is set. Text columns are
// encrypted at rest when an encryption secret is configured.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
	"github.com/brunobiangulo/corpuschat/retrieval"
	"github.com/brunobiangulo/corpuschat/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	workbookPath := flag.String("workbook", "", "Path to the corpus workbook (xlsx)")
	skipEmbed := flag.Bool("skip-embed", false, "Save index rows without filling missing embeddings")
	flag.Parse()

	if *workbookPath == "" {
		slog.Error("--workbook is required")
		os.Exit(1)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wb, err := corpus.LoadWorkbook(*workbookPath)
	if err != nil {
		slog.Error("loading workbook", "path", *workbookPath, "error", err)
		os.Exit(1)
	}

	// Building the corpus up front validates every section reference
	// against its document's grammar before anything is written.
	c, err := wb.BuildCorpus()
	if err != nil {
		slog.Error("workbook does not assemble into a corpus", "error", err)
		os.Exit(1)
	}
	slog.Info("workbook loaded",
		"documents", len(c.Keys()),
		"definitions", len(wb.Definitions),
		"sections", len(wb.Sections),
		"workflows", len(wb.Workflows))

	if !*skipEmbed {
		embedder, err := llm.NewProvider(llm.Config{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			slog.Error("creating embedding provider", "error", err)
			os.Exit(1)
		}
		if err := retrieval.EmbedRows(ctx, embedder, wb.Definitions, wb.Sections, wb.Workflows); err != nil {
			slog.Error("embedding index rows", "error", err)
			os.Exit(1)
		}
	}

	dbPath := cfg.DatabasePath()
	st, err := store.New(dbPath, cfg.Embedding.Dimensions, cfg.EncryptionSecret)
	if err != nil {
		slog.Error("opening store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.SaveCorpus(ctx, wb.Meta, wb.Contents); err != nil {
		slog.Error("saving corpus", "error", err)
		os.Exit(1)
	}
	if err := st.SaveIndex(ctx, wb.Definitions, wb.Sections, wb.Workflows); err != nil {
		slog.Error("saving index", "error", err)
		os.Exit(1)
	}
	slog.Info("corpus saved", "path", dbPath)
}
