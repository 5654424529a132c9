// Command chat is a terminal session against a loaded corpus database.
//
// Usage:
//
//	go run ./cmd/chat --config corpuschat.yaml
//
// Questions are read line by line. Slash commands control the session:
// /reset clears it, /path prints the execution path so far, /state prints
// the session state and /quit exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	userLabel := flag.String("user", "terminal", "User label for session log lines")
	strict := flag.Bool("strict", false, "Refuse to answer without corpus references")
	flag.Parse()

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
	if *strict {
		cfg.StrictRAG = true
	}

	// Logs go to stderr so the dialogue stays readable on stdout.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       logging.ParseLevel(cfg.LogLevel),
		ReplaceAttr: logging.RenameLevels,
	})))

	engine, err := corpuschat.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	chat := engine.NewChat(corpuschat.WithUserLabel(*userLabel))
	fmt.Println("corpuschat — ask a question, or /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return
		case "/reset":
			chat.Reset()
			fmt.Println("session reset")
			continue
		case "/state":
			fmt.Println(chat.State())
			continue
		case "/path":
			for _, step := range chat.ExecutionPath() {
				fmt.Println(step)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		resp, err := chat.UserInput(ctx, line)
		cancel()
		if err != nil {
			fmt.Printf("turn cancelled: %v\n", err)
			continue
		}
		printResponse(resp)
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading input", "error", err)
		os.Exit(1)
	}
}

func printResponse(resp corpuschat.Response) {
	fmt.Println()
	fmt.Println(resp.TranscriptText())
	if r, ok := resp.(corpuschat.AnswerWithRAG); ok {
		fmt.Println()
		for _, ref := range r.References {
			kind := "section"
			if ref.IsDefinition {
				kind = "definition"
			}
			fmt.Printf("  [%s] %s %s\n", kind, ref.DocumentName, ref.SectionReference)
		}
	}
	fmt.Println()
}
