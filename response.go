package corpuschat

import "github.com/brunobiangulo/corpuschat/reasoning"

// The response sum type lives in the reasoning package where it is
// produced. The aliases below re-export it so callers only need this
// package.

// Response is the structured outcome of one dialogue turn. Switch on the
// concrete type (AnswerWithRAG, AnswerWithoutRAG, NoAnswer, ErrorResponse)
// or on Kind() to act on it.
type Response = reasoning.Response

type (
	// AnswerWithRAG is an answer grounded in cited corpus material.
	AnswerWithRAG = reasoning.AnswerWithRAG
	// AnswerWithoutRAG is a caveated answer given without references.
	AnswerWithoutRAG = reasoning.AnswerWithoutRAG
	// NoAnswer is a deliberate decision not to answer.
	NoAnswer = reasoning.NoAnswer
	// ErrorResponse reports a failure of the dialogue itself.
	ErrorResponse = reasoning.ErrorResponse
	// UsedReference is one piece of corpus material cited by an answer.
	UsedReference = reasoning.UsedReference

	// NoAnswerClassification says why the system declined to answer.
	NoAnswerClassification = reasoning.NoAnswerClassification
	// ErrorClassification says how a dialogue turn failed.
	ErrorClassification = reasoning.ErrorClassification
)

// Kind values identifying the concrete type behind a Response.
const (
	KindAnswerWithRAG    = reasoning.KindAnswerWithRAG
	KindAnswerWithoutRAG = reasoning.KindAnswerWithoutRAG
	KindNoAnswer         = reasoning.KindNoAnswer
	KindError            = reasoning.KindError
)

// NoAnswer classifications.
const (
	NoData              = reasoning.NoData
	NoRelevantData      = reasoning.NoRelevantData
	QuestionNotRelevant = reasoning.QuestionNotRelevant
	UnableToAnswer      = reasoning.UnableToAnswer
)

// Error classifications.
const (
	Unrecoverable              = reasoning.Unrecoverable
	NotFollowingInstructions   = reasoning.NotFollowingInstructions
	CallForMoreDocumentsFailed = reasoning.CallForMoreDocumentsFailed
	Stuck                      = reasoning.Stuck
	WorkflowNotImplemented     = reasoning.WorkflowNotImplemented
)

// Caveat prefixes every answer given without reference material.
const Caveat = reasoning.Caveat
