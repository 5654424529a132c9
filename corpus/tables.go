package corpus

// The corpus index tables. Each row pairs searchable text with a
// precomputed embedding; the retrieval package queries them and the store
// package persists them.

// DefinitionRow indexes one defined term: Text is the searchable form
// (a question or summary), Definition the term's full text.
type DefinitionRow struct {
	Document         string
	SectionReference string
	Text             string
	Definition       string
	Embedding        []float32
}

// SectionRow indexes one document section. Source tags where Text came
// from (e.g. "question", "summary").
type SectionRow struct {
	Document         string
	SectionReference string
	Source           string
	Text             string
	Embedding        []float32
}

// WorkflowRow is a trigger phrase for a named workflow.
type WorkflowRow struct {
	Workflow  string
	Text      string
	Embedding []float32
}
