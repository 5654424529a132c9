package reasoning

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/corpuschat/retrieval"
)

// Kind values identifying the concrete type behind a Response.
const (
	KindAnswerWithRAG    = "answer_with_rag"
	KindAnswerWithoutRAG = "answer_without_rag"
	KindNoAnswer         = "no_answer"
	KindError            = "error"
)

// Caveat prefixes every answer given without reference material.
const Caveat = "NOTE: The following answer is provided without references and should therefore be treated with caution."

// A Response is the structured outcome of one dialogue turn. Callers act
// on it with a type switch over the concrete types. TranscriptText is the
// rendering a response contributes to the conversation transcript.
type Response interface {
	Kind() string
	TranscriptText() string
	isResponse()
}

// UsedReference is one piece of corpus material cited by an answer.
type UsedReference struct {
	DocumentKey      string
	DocumentName     string
	SectionReference string
	IsDefinition     bool
	Text             string
}

// AnswerWithRAG is an answer grounded in cited corpus material.
type AnswerWithRAG struct {
	Answer     string
	References []UsedReference
}

func (AnswerWithRAG) Kind() string { return KindAnswerWithRAG }
func (AnswerWithRAG) isResponse()  {}

// TranscriptText renders the answer followed by the cited material in
// full, so that later turns can build on what was quoted.
func (r AnswerWithRAG) TranscriptText() string {
	if len(r.References) == 0 {
		return r.Answer
	}
	var b strings.Builder
	b.WriteString(r.Answer)
	b.WriteString(" \n\nReference: \n\n")
	for _, ref := range r.References {
		switch {
		case ref.IsDefinition && ref.SectionReference == "":
			fmt.Fprintf(&b, "The definitions in %s: \n\n%s  \n\n", ref.DocumentName, ref.Text)
		case ref.IsDefinition:
			fmt.Fprintf(&b, "Definition %s from %s: \n\n%s  \n\n", ref.SectionReference, ref.DocumentName, ref.Text)
		case ref.SectionReference == "":
			fmt.Fprintf(&b, "The document %s: \n\n%s  \n\n", ref.DocumentName, ref.Text)
		default:
			fmt.Fprintf(&b, "Section %s from %s: \n\n%s  \n\n", ref.SectionReference, ref.DocumentName, ref.Text)
		}
	}
	return b.String()
}

// AnswerWithoutRAG is an answer given without any cited material, flagged
// with a caveat so the user knows to treat it with caution.
type AnswerWithoutRAG struct {
	Answer string
	Caveat string
}

func (AnswerWithoutRAG) Kind() string { return KindAnswerWithoutRAG }
func (AnswerWithoutRAG) isResponse()  {}

func (r AnswerWithoutRAG) TranscriptText() string {
	return r.Caveat + " \n\n" + r.Answer
}

// NoAnswerClassification says why the system declined to answer.
type NoAnswerClassification int

const (
	// NoData: strict grounding was requested but the search found nothing.
	NoData NoAnswerClassification = iota + 1
	// NoRelevantData: material was found but the model judged none of it
	// relevant to the question.
	NoRelevantData
	// QuestionNotRelevant: the question is off the corpus topic.
	QuestionNotRelevant
	// UnableToAnswer: the question is on topic but the model tapped out.
	UnableToAnswer
)

func (c NoAnswerClassification) String() string {
	switch c {
	case NoData:
		return "no_data"
	case NoRelevantData:
		return "no_relevant_data"
	case QuestionNotRelevant:
		return "question_not_relevant"
	case UnableToAnswer:
		return "unable_to_answer"
	}
	return "unknown"
}

// Text returns the transcript description of the classification.
func (c NoAnswerClassification) Text() string {
	switch c {
	case NoData:
		return "The model was asked to perform strict RAG without any data being provided"
	case NoRelevantData:
		return "The model was asked to perform strict RAG but the data provided was not deemed relevant"
	case QuestionNotRelevant:
		return "The model determined that the question was not relevant to the corpus"
	case UnableToAnswer:
		return "The model was unable to answer the question"
	}
	return ""
}

// NoAnswer is a deliberate decision not to answer.
type NoAnswer struct {
	Classification NoAnswerClassification
	// Explanation carries the model's reason, when it gave one.
	Explanation string
}

func (NoAnswer) Kind() string { return KindNoAnswer }
func (NoAnswer) isResponse()  {}

func (r NoAnswer) TranscriptText() string {
	if r.Explanation != "" {
		return r.Explanation
	}
	return r.Classification.Text()
}

// ErrorClassification says how a dialogue turn failed.
type ErrorClassification int

const (
	// Unrecoverable: the turn hit a state the dialogue cannot continue from.
	Unrecoverable ErrorClassification = iota + 1
	// NotFollowingInstructions: the model produced invalid replies even
	// after a corrective retry.
	NotFollowingInstructions
	// CallForMoreDocumentsFailed: the model asked for a section that could
	// not be retrieved.
	CallForMoreDocumentsFailed
	// Stuck: the session is in the stuck state and must be reset.
	Stuck
	// WorkflowNotImplemented: a workflow trigger won the search but no
	// handler is registered for it.
	WorkflowNotImplemented
)

func (c ErrorClassification) String() string {
	switch c {
	case Unrecoverable:
		return "unrecoverable"
	case NotFollowingInstructions:
		return "not_following_instructions"
	case CallForMoreDocumentsFailed:
		return "call_for_more_documents_failed"
	case Stuck:
		return "stuck"
	case WorkflowNotImplemented:
		return "workflow_not_implemented"
	}
	return "unknown"
}

// Text returns the transcript description of the classification.
func (c ErrorClassification) Text() string {
	switch c {
	case Unrecoverable, Stuck:
		return "Unfortunately the system is in an unrecoverable state. Please clear the chat history and retry your query"
	case NotFollowingInstructions:
		return "This app demonstrates Retrieval Augmented Generation. Behind the scenes, instructions are issued to a Large Language Model (LLM) and then verified. Occasionally, due to the statistical nature of the model, the LLM may not follow instructions correctly. In such cases, I am programmed not to respond but to ask you to clear the conversation history and try asking your question again. This usually resolves the issue. However, if the same error persists in the same spot, it likely indicates a bug rather than a statistical anomaly. Bugs are logged and will be addressed in due course. For now, please clear the conversation history and retry your query."
	case CallForMoreDocumentsFailed:
		return "This app demonstrates Retrieval Augmented Generation. While accessing the source documents, the system requested additional material. There was an error in retrieving this additional material."
	case WorkflowNotImplemented:
		return "A workflow was triggered but there is no implementation registered for it"
	}
	return ""
}

// ErrorResponse reports a failure of the dialogue itself rather than a
// decision not to answer.
type ErrorResponse struct {
	Classification ErrorClassification
}

func (ErrorResponse) Kind() string { return KindError }
func (ErrorResponse) isResponse()  {}

func (r ErrorResponse) TranscriptText() string { return r.Classification.Text() }

// Turn is what a dialogue path hands back: the response, the transcript
// content representing it, the material the turn ended up using (sections
// grow when the model successfully requests more), and the steps the path
// took, for analysis.
type Turn struct {
	Response    Response
	Content     string
	Definitions []retrieval.DefinitionHit
	Sections    []retrieval.SectionHit
	Steps       []string
}
