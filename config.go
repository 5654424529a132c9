package corpuschat

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/corpuschat/retrieval"
)

// Config holds all configuration for a corpus chat engine.
type Config struct {
	// DBPath is the full path to the SQLite corpus database file.
	// If empty, defaults to ~/.corpuschat/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "corpuschat". The file will be <DBName>.db inside the
	// storage directory (~/.corpuschat/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is opened when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.corpuschat/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Rerank is optional and defaults to Chat when left
	// empty.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Rerank    LLMConfig `json:"rerank" yaml:"rerank"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Retrieval thresholds on cosine distance. Zero selects a default
	// derived from the embedding model and dimensions.
	SectionThreshold    float64 `json:"section_threshold" yaml:"section_threshold"`
	DefinitionThreshold float64 `json:"definition_threshold" yaml:"definition_threshold"`

	// Retrieval caps.
	SectionCap      int `json:"section_cap" yaml:"section_cap"`             // candidates entering rerank (default 15)
	SectionLimit    int `json:"section_limit" yaml:"section_limit"`         // candidates surviving the token budget (default 5)
	SectionTokenCap int `json:"section_token_cap" yaml:"section_token_cap"` // cumulative token budget over candidate texts (default 3500)

	// RerankMode reorders section candidates after the cosine filter.
	// Options: "none" (default), "most_common", "llm".
	RerankMode string `json:"rerank_mode" yaml:"rerank_mode"`

	// Prompt budgets for protocol conversations.
	MaxOutputTokens    int `json:"max_output_tokens" yaml:"max_output_tokens"`       // completion cap per call (default 800)
	PromptTokenBudget  int `json:"prompt_token_budget" yaml:"prompt_token_budget"`   // history truncation target (default 3500)
	PromptTokenCeiling int `json:"prompt_token_ceiling" yaml:"prompt_token_ceiling"` // hard cap; larger prompts are never sent (default 15000)

	// Temperature for chat completions. The response grammar relies on
	// the model following formatting instructions exactly, so this
	// defaults to 0.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// StrictRAG disables the unreferenced fallback: questions that cannot
	// be grounded in corpus extracts get a non-answer instead of a
	// caveated answer from the model's own knowledge.
	StrictRAG bool `json:"strict_rag" yaml:"strict_rag"`

	// LogLevel is one of debug, dev, info, analysis, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// EncryptionSecret is a base64-encoded 32-byte key used for at-rest
	// encryption of corpus text in the database. Empty disables
	// encryption. Usually supplied via CORPUSCHAT_ENCRYPTION_SECRET
	// rather than the config file.
	EncryptionSecret string `json:"encryption_secret" yaml:"encryption_secret"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, lmstudio, openrouter, xai, groq, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// Dimensions applies to embedding endpoints only. Models that do not
	// accept a dimensions parameter (e.g. text-embedding-ada-002) have it
	// stripped from the request but still use it for vector storage.
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// DefaultConfig returns a Config with the standard caps and an OpenAI
// endpoint. Database is stored in ~/.corpuschat/corpuschat.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "corpuschat",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com/v1",
		},
		Embedding: LLMConfig{
			Provider:   "openai",
			Model:      "text-embedding-ada-002",
			BaseURL:    "https://api.openai.com/v1",
			Dimensions: 1536,
		},
		SectionCap:         15,
		SectionLimit:       5,
		SectionTokenCap:    3500,
		RerankMode:         "none",
		MaxOutputTokens:    800,
		PromptTokenBudget:  3500,
		PromptTokenCeiling: 15000,
		LogLevel:           "info",
	}
}

// LoadConfig reads a YAML config file and applies it over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.RerankMode {
	case "", "none", "most_common", "llm":
	default:
		return fmt.Errorf("%w: unknown rerank_mode %q", ErrInvalidConfig, c.RerankMode)
	}
	if c.SectionCap < 0 || c.SectionLimit < 0 || c.SectionTokenCap < 0 {
		return fmt.Errorf("%w: retrieval caps must be non-negative", ErrInvalidConfig)
	}
	if c.SectionThreshold < 0 || c.DefinitionThreshold < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidConfig)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("%w: temperature must be non-negative", ErrInvalidConfig)
	}
	if c.PromptTokenCeiling > 0 && c.PromptTokenBudget > c.PromptTokenCeiling {
		return fmt.Errorf("%w: prompt_token_budget exceeds prompt_token_ceiling", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides config fields from CORPUSCHAT_* environment variables
// and falls back to well-known provider variables for API keys still unset.
// The cmd binaries call it after loading .env files so the environment wins
// over file configuration.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CORPUSCHAT_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CORPUSCHAT_DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("CORPUSCHAT_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	applyLLMEnv("CORPUSCHAT_CHAT", &c.Chat)
	applyLLMEnv("CORPUSCHAT_RERANK", &c.Rerank)
	applyLLMEnv("CORPUSCHAT_EMBED", &c.Embedding)
	if v := os.Getenv("CORPUSCHAT_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("CORPUSCHAT_RERANK_MODE"); v != "" {
		c.RerankMode = v
	}
	if v := os.Getenv("CORPUSCHAT_STRICT_RAG"); v != "" {
		c.StrictRAG = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CORPUSCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CORPUSCHAT_ENCRYPTION_SECRET"); v != "" {
		c.EncryptionSecret = v
	}

	fillAPIKey(&c.Chat)
	fillAPIKey(&c.Rerank)
	fillAPIKey(&c.Embedding)
}

func applyLLMEnv(prefix string, lc *LLMConfig) {
	if v := os.Getenv(prefix + "_PROVIDER"); v != "" {
		lc.Provider = v
	}
	if v := os.Getenv(prefix + "_MODEL"); v != "" {
		lc.Model = v
	}
	if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
		lc.BaseURL = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		lc.APIKey = v
	}
}

func fillAPIKey(lc *LLMConfig) {
	if lc.APIKey != "" {
		return
	}
	switch lc.Provider {
	case "openai":
		lc.APIKey = os.Getenv("OPENAI_API_KEY")
	case "groq":
		lc.APIKey = os.Getenv("GROQ_API_KEY")
	case "openrouter":
		lc.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "xai":
		lc.APIKey = os.Getenv("XAI_API_KEY")
	case "gemini":
		lc.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}

// DatabasePath returns the resolved location of the SQLite database.
func (c *Config) DatabasePath() string { return c.resolveDBPath() }

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "corpuschat"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".corpuschat")
		return filepath.Join(dir, name+".db")
	}
}

// rerankLLM returns the endpoint used for rerank prompts.
func (c *Config) rerankLLM() LLMConfig {
	if c.Rerank.Model == "" && c.Rerank.Provider == "" {
		return c.Chat
	}
	return c.Rerank
}

// RetrievalConfig folds any configured thresholds over the defaults for the
// embedding model. Callers that build their own index should use it so
// search behaves the same as against a store-loaded index.
func (c *Config) RetrievalConfig() retrieval.Config {
	th := retrieval.ThresholdsForModel(c.Embedding.Model, c.Embedding.Dimensions)
	if c.SectionThreshold > 0 {
		th.Sections = c.SectionThreshold
	}
	if c.DefinitionThreshold > 0 {
		th.Definitions = c.DefinitionThreshold
	}
	return retrieval.Config{
		Thresholds:      th,
		SectionCap:      c.SectionCap,
		SectionLimit:    c.SectionLimit,
		SectionTokenCap: c.SectionTokenCap,
	}
}
