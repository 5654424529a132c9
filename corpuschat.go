// Package corpuschat answers questions over a closed corpus of documents
// using Retrieval Augmented Generation with strict provenance. A cosine
// search over embedded definitions and sections selects candidate
// material, a constrained dialogue asks the model to answer from that
// material or to request more of it, and every reply is validated before
// it reaches the user. Questions the corpus cannot support are declined
// rather than guessed at.
package corpuschat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
	"github.com/brunobiangulo/corpuschat/reasoning"
	"github.com/brunobiangulo/corpuschat/retrieval"
	"github.com/brunobiangulo/corpuschat/store"
)

// Transcript texts for turns that never reach the model. They are worded
// for end users and double as the assistant content replayed to the model
// on later turns.
const (
	noDataText = "ERROR: This app demonstrates Retrieval Augmented Generation (RAG). It is designed not to respond if it cannot retrieve relevant document sections to reference when answering a question. There are several reasons why valid questions may not yield relevant results, but often, minor rewording can help. A well-formed question is complete (i.e., it does not rely on previous conversation history for context and consists of more than just keywords or short phrases) and includes sufficient detail. Please try rephrasing your question, and I'll see if I can find relevant sections to reference."

	noRelevantDataText = "ERROR: This app is an example of Retrieval-Augmented Generation. Once promising sections of the source documents are identified, they are checked for relevance. In this case, the retrieval (search) step found sections that seemed promising but, upon inspection, were not relevant. In situations like this, I have been programmed not to respond, but rather to ask you to rephrase your question so I can try again. Questions with the highest chance of being answered are complete (i.e., do not rely on conversation history and contain more than just keywords or phrases) and provide sufficient detail. Please try rephrasing your question, and I'll try again."

	stuckText = "ERROR: Unfortunately the system is in an unrecoverable state. Please clear the chat history and retry your query"
)

// Engine wires a corpus, its retrieval index and the dialogue paths into a
// ready-to-chat unit. Construction is the expensive part: providers, token
// counter and store load all happen in New. One engine then serves any
// number of concurrent chats.
type Engine struct {
	cfg   Config
	store *store.Store

	corpus   *corpus.Corpus
	index    *retrieval.Index
	searcher *retrieval.Searcher
	ragPath  *reasoning.PathRAG
	noRAG    *reasoning.PathNoRAGData

	userType          string
	corpusDescription string
}

// Option customizes engine construction.
type Option func(*Engine)

// WithCorpus supplies an in-memory corpus instead of loading one from the
// store.
func WithCorpus(c *corpus.Corpus) Option {
	return func(e *Engine) { e.corpus = c }
}

// WithIndex supplies a pre-built retrieval index instead of loading the
// embedding tables from the store.
func WithIndex(ix *retrieval.Index) Option {
	return func(e *Engine) { e.index = ix }
}

// WithIdentity sets who the system is talking to and what the corpus is
// about, overriding the values in the store's meta table. Both feed the
// dialogue prompts.
func WithIdentity(userType, corpusDescription string) Option {
	return func(e *Engine) {
		e.userType = userType
		e.corpusDescription = corpusDescription
	}
}

// New builds an engine from configuration. The corpus and index come from
// options when given, otherwise from the SQLite store at the configured
// path.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	chatProvider, err := providerFor(cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("corpuschat: chat provider: %w", err)
	}
	embedProvider, err := providerFor(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("corpuschat: embedding provider: %w", err)
	}
	rerankProvider, err := providerFor(cfg.rerankLLM())
	if err != nil {
		return nil, fmt.Errorf("corpuschat: rerank provider: %w", err)
	}

	client, err := llm.NewClient(chatProvider, llm.ClientConfig{
		Model:        cfg.Chat.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxOutputTokens,
		TokenBudget:  cfg.PromptTokenBudget,
		TokenCeiling: cfg.PromptTokenCeiling,
	})
	if err != nil {
		return nil, fmt.Errorf("corpuschat: %w", err)
	}

	if e.corpus == nil || e.index == nil {
		if err := e.loadStore(client.Counter()); err != nil {
			return nil, err
		}
	}
	if e.userType == "" || e.corpusDescription == "" {
		slog.Warn("corpuschat: user type or corpus description not set, prompts will be generic")
	}

	reranker, err := retrieval.NewReranker(cfg.RerankMode, rerankProvider, cfg.rerankLLM().Model, e.userType, e.corpusDescription)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.searcher, err = retrieval.NewSearcher(e.index, embedProvider, reranker)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.ragPath, err = reasoning.NewPathRAG(e.corpus, client, e.userType, e.corpusDescription)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.noRAG, err = reasoning.NewPathNoRAGData(client, e.userType, e.corpusDescription)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// loadStore opens the configured database and fills whichever of corpus
// and index were not supplied as options. Identity comes from the store's
// meta table unless WithIdentity already set it.
func (e *Engine) loadStore(counter *llm.TokenCounter) error {
	path := e.cfg.resolveDBPath()
	st, err := store.New(path, e.cfg.Embedding.Dimensions, e.cfg.EncryptionSecret)
	if err != nil {
		return err
	}

	ctx := context.Background()
	meta, err := st.Meta(ctx)
	if err != nil {
		st.Close()
		return fmt.Errorf("corpuschat: reading meta from %s: %w", path, err)
	}
	if e.userType == "" {
		e.userType = meta[corpus.MetaUserType]
	}
	if e.corpusDescription == "" {
		e.corpusDescription = meta[corpus.MetaDescription]
	}

	if e.corpus == nil {
		c, err := st.LoadCorpus(ctx)
		if err != nil {
			st.Close()
			if errors.Is(err, store.ErrEmpty) {
				return fmt.Errorf("%w: nothing loaded at %s", ErrNoCorpus, path)
			}
			return fmt.Errorf("corpuschat: loading corpus from %s: %w", path, err)
		}
		e.corpus = c
	}
	if e.index == nil {
		defs, secs, wfs, err := st.LoadIndex(ctx)
		if err != nil {
			st.Close()
			return fmt.Errorf("corpuschat: loading index from %s: %w", path, err)
		}
		ix, err := retrieval.NewIndex(e.corpus, defs, secs, wfs, counter, e.cfg.RetrievalConfig())
		if err != nil {
			st.Close()
			return err
		}
		e.index = ix
	}

	e.store = st
	return nil
}

func providerFor(lc LLMConfig) (llm.Provider, error) {
	return llm.NewProvider(llm.Config{
		Provider:   lc.Provider,
		Model:      lc.Model,
		BaseURL:    lc.BaseURL,
		APIKey:     lc.APIKey,
		Dimensions: lc.Dimensions,
	})
}

// Corpus returns the corpus the engine answers from.
func (e *Engine) Corpus() *corpus.Corpus { return e.corpus }

// Close releases the engine's store, when one was opened. Chats created
// from the engine must not be used afterwards.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// State of a chat session. A session answers questions in StateRAG and
// refuses everything except Reset in StateStuck.
type State string

const (
	StateRAG   State = "rag"
	StateStuck State = "stuck"
)

// Entry is one transcript line. User entries keep the retrieval material
// their question was asked against so replays can rebuild the question the
// model actually saw. Assistant entries carry the structured response they
// rendered; it is nil on user entries.
type Entry struct {
	Role        string
	Content     string
	Definitions []retrieval.DefinitionHit
	Sections    []retrieval.SectionHit
	Response    Response
}

// WorkflowHandler serves a question whose best retrieval match was a
// workflow trigger rather than corpus material.
type WorkflowHandler func(ctx context.Context, question string) (Response, error)

// ChatOption customizes a chat session.
type ChatOption func(*Chat)

// WithUserLabel tags the session's log lines with a user identifier.
func WithUserLabel(label string) ChatOption {
	return func(c *Chat) { c.userLabel = label }
}

// WithStrict overrides the engine's strict-mode default for this session.
func WithStrict(strict bool) ChatOption {
	return func(c *Chat) { c.strict = strict }
}

// NewChat starts an empty session against the engine's corpus. Sessions
// are independent, each with its own transcript and state. A Chat is safe
// for concurrent use; turns are serialized.
func (e *Engine) NewChat(opts ...ChatOption) *Chat {
	c := &Chat{
		searcher: e.searcher,
		ragPath:  e.ragPath,
		noRAG:    e.noRAG,
		strict:   e.cfg.StrictRAG,
		state:    StateRAG,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat is one conversation. It owns the per-session state machine: the
// transcript, the RAG/stuck state and the execution path of every turn.
type Chat struct {
	mu        sync.Mutex
	userLabel string

	searcher *retrieval.Searcher
	ragPath  *reasoning.PathRAG
	noRAG    *reasoning.PathNoRAGData
	strict   bool

	state     State
	entries   []Entry
	path      []string
	workflows map[string]WorkflowHandler
}

// UserInput runs one dialogue turn. The returned error is non-nil only
// when ctx was cancelled before the turn completed; the session is then
// left exactly as it was so the question can be retried. Every other
// failure is recorded in the transcript and reported as an ErrorResponse.
func (c *Chat) UserInput(ctx context.Context, text string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	question := strings.TrimSpace(text)
	if question == "" {
		slog.Error("chat: empty input", "user", c.userLabel)
		c.path = append(c.path, "chat.error")
		resp := ErrorResponse{Classification: Unrecoverable}
		c.appendAssistant(stuckText, nil, nil, resp)
		c.state = StateStuck
		return resp, nil
	}

	if c.state == StateStuck {
		c.path = append(c.path, "chat.stuck")
		resp := ErrorResponse{Classification: Stuck}
		c.appendUser(question, nil, nil)
		c.appendAssistant(stuckText, nil, nil, resp)
		return resp, nil
	}

	mark := len(c.path)
	result, err := c.searcher.Run(ctx, question)
	if err != nil {
		return c.turnFailed(question, mark, err)
	}
	c.path = append(c.path, "chat.search")

	if result.Workflow != retrieval.WorkflowNone {
		return c.runWorkflow(ctx, question, result.Workflow, mark)
	}

	if len(result.Definitions) == 0 && len(result.Sections) == 0 {
		if c.strict {
			c.path = append(c.path, "chat.no_data")
			resp := NoAnswer{Classification: NoData}
			c.appendUser(question, nil, nil)
			c.appendAssistant(noDataText, nil, nil, resp)
			return resp, nil
		}
		turn, err := c.noRAG.Run(ctx, c.replay(), question)
		if err != nil {
			return c.turnFailed(question, mark, err)
		}
		return c.record(question, turn), nil
	}

	turn, err := c.ragPath.Run(ctx, c.replay(), question, result.Definitions, result.Sections)
	if err != nil {
		return c.turnFailed(question, mark, err)
	}

	// Retrieval looked promising but the model judged none of it usable.
	// Outside strict mode the turn falls through to the unreferenced path,
	// keeping the material the model saw on the transcript.
	if na, ok := turn.Response.(NoAnswer); ok && na.Classification == NoRelevantData && !c.strict {
		fallback, err := c.noRAG.Run(ctx, c.replay(), question)
		if err != nil {
			return c.turnFailed(question, mark, err)
		}
		turn = reasoning.Turn{
			Response:    fallback.Response,
			Content:     fallback.Content,
			Definitions: turn.Definitions,
			Sections:    turn.Sections,
			Steps:       append(turn.Steps, fallback.Steps...),
		}
	}
	return c.record(question, turn), nil
}

func (c *Chat) runWorkflow(ctx context.Context, question, workflow string, mark int) (Response, error) {
	c.path = append(c.path, "chat.workflow")
	handler, ok := c.workflows[workflow]
	if !ok {
		slog.Error("chat: no handler registered for workflow", "workflow", workflow, "user", c.userLabel)
		resp := ErrorResponse{Classification: WorkflowNotImplemented}
		c.appendUser(question, nil, nil)
		c.appendAssistant("ERROR: "+resp.TranscriptText(), nil, nil, resp)
		c.state = StateStuck
		return resp, nil
	}

	resp, err := handler(ctx, question)
	if err != nil {
		return c.turnFailed(question, mark, err)
	}
	slog.Log(ctx, logging.LevelAnalysis, "chat: workflow handled", "workflow", workflow, "user", c.userLabel)
	c.appendUser(question, nil, nil)
	c.appendAssistant(resp.TranscriptText(), nil, nil, resp)
	return resp, nil
}

// turnFailed maps a transport failure to the turn outcome. Cancellation
// belongs to the caller: the path is rolled back and nothing is recorded.
// Anything else is logged, recorded and answered with a retry request.
func (c *Chat) turnFailed(question string, mark int, err error) (Response, error) {
	if errors.Is(err, context.Canceled) {
		c.path = c.path[:mark]
		return nil, err
	}
	slog.Error("chat: turn failed", "user", c.userLabel, "error", err)
	c.path = append(c.path, "chat.llm_error")
	resp := ErrorResponse{Classification: NotFollowingInstructions}
	c.appendUser(question, nil, nil)
	c.appendAssistant("ERROR: "+resp.TranscriptText(), nil, nil, resp)
	return resp, nil
}

// record writes a completed turn into the transcript. The user entry keeps
// the turn's final material so replays see the question as the model did,
// sections added during the turn included.
func (c *Chat) record(question string, turn reasoning.Turn) Response {
	c.path = append(c.path, turn.Steps...)
	c.appendUser(question, turn.Definitions, turn.Sections)
	c.appendAssistant(transcriptContent(turn), turn.Definitions, turn.Sections, turn.Response)
	if r, ok := turn.Response.(ErrorResponse); ok {
		if r.Classification == Unrecoverable || r.Classification == Stuck {
			c.state = StateStuck
		}
	}
	return turn.Response
}

// transcriptContent is what a turn's response contributes to the
// transcript. Declines render as the user-facing explanation texts;
// dialogue errors carry the ERROR: marker that replays strip.
func transcriptContent(turn reasoning.Turn) string {
	switch r := turn.Response.(type) {
	case ErrorResponse:
		return "ERROR: " + r.Classification.Text()
	case NoAnswer:
		switch r.Classification {
		case NoData:
			return noDataText
		case NoRelevantData:
			return noRelevantDataText
		}
	}
	return turn.Content
}

// replay renders the transcript the way the model should see it: user
// questions reformatted with the material they were asked against, error
// markers stripped from assistant entries.
func (c *Chat) replay() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Role == "user" {
			msgs = append(msgs, llm.Message{
				Role:    e.Role,
				Content: reasoning.FormatQuestion(e.Content, e.Definitions, e.Sections),
			})
			continue
		}
		msgs = append(msgs, llm.Message{
			Role:    e.Role,
			Content: strings.TrimSpace(strings.TrimPrefix(e.Content, "ERROR:")),
		})
	}
	return msgs
}

func (c *Chat) appendUser(content string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) {
	c.appendEntry(Entry{Role: "user", Content: content, Definitions: definitions, Sections: sections})
}

func (c *Chat) appendAssistant(content string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit, resp Response) {
	c.appendEntry(Entry{Role: "assistant", Content: content, Definitions: definitions, Sections: sections, Response: resp})
}

// appendEntry drops an entry that repeats the previous one verbatim, which
// otherwise happens when the same failure fires twice in a row.
func (c *Chat) appendEntry(e Entry) {
	if n := len(c.entries); n > 0 && c.entries[n-1].Role == e.Role && c.entries[n-1].Content == e.Content {
		slog.Log(context.Background(), logging.LevelDev, "chat: suppressed duplicate transcript entry", "role", e.Role)
		return
	}
	c.entries = append(c.entries, e)
}

// Reset clears the session back to an empty transcript in StateRAG. It is
// the only way out of StateStuck.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.path = nil
	c.state = StateRAG
	slog.Log(context.Background(), logging.LevelDev, "chat: session reset", "user", c.userLabel)
}

// State reports whether the session can still take questions.
func (c *Chat) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a copy of the session transcript.
func (c *Chat) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ExecutionPath returns the ordered step tags of every turn so far. The
// tags are stable and meant for tests and analysis.
func (c *Chat) ExecutionPath() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.path))
	copy(out, c.path)
	return out
}

// RegisterWorkflow installs the handler for a workflow trigger name.
// Questions whose closest retrieval match is that trigger are routed to
// the handler instead of the corpus.
func (c *Chat) RegisterWorkflow(name string, handler WorkflowHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workflows == nil {
		c.workflows = make(map[string]WorkflowHandler)
	}
	c.workflows[name] = handler
}
