package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
)

// tapOutPhrase is the escape hatch offered to the model when it answers
// without reference material.
const tapOutPhrase = "No Answer"

var notRelevantWord = regexp.MustCompile(`(?i)not\s+relevant`)

// PathNoRAGData handles questions the search found no material for. It
// first checks the question belongs to the corpus topic at all, then lets
// the model answer from general knowledge under a caveat, or tap out.
type PathNoRAGData struct {
	client            *llm.Client
	userType          string
	corpusDescription string
}

// NewPathNoRAGData wires the ungrounded dialogue path.
func NewPathNoRAGData(client *llm.Client, userType, corpusDescription string) (*PathNoRAGData, error) {
	if client == nil {
		return nil, fmt.Errorf("reasoning: no-rag path requires an llm client")
	}
	return &PathNoRAGData{client: client, userType: userType, corpusDescription: corpusDescription}, nil
}

// Run answers question without any reference material. history is the
// plain prior conversation. An error is returned only for transport
// failures.
func (p *PathNoRAGData) Run(ctx context.Context, history []llm.Message, question string) (Turn, error) {
	steps := []string{"norag.run", "norag.relevance"}

	relevant, reason, err := p.relevance(ctx, history, question)
	if err != nil {
		return Turn{}, err
	}
	if !relevant {
		steps = append(steps, "norag.not_relevant")
		reason = strings.TrimLeft(reason, ".,;:!? \t\n\r")
		resp := NoAnswer{Classification: QuestionNotRelevant, Explanation: reason}
		return Turn{Response: resp, Content: resp.TranscriptText(), Steps: steps}, nil
	}

	steps = append(steps, "norag.answer")
	system := fmt.Sprintf("You are answering questions about %s for %s. Based on an initial search of the relevant document database, no reference documents could be found to assist in answering the user's question. Please review the user question. If you are able to answer the question, please do so. If you are not able to answer the question, respond with the words %s without punctuation or any other text.",
		p.corpusDescription, p.userType, tapOutPhrase)

	reply, err := p.client.Respond(ctx, system, appendUser(history, question))
	if err != nil {
		return Turn{}, fmt.Errorf("reasoning: no-rag answer: %w", err)
	}

	if strings.EqualFold(strings.TrimSpace(reply), tapOutPhrase) {
		steps = append(steps, "norag.no_answer")
		slog.Log(ctx, logging.LevelDev, "reasoning: model declined to answer without material")
		resp := NoAnswer{Classification: UnableToAnswer}
		return Turn{Response: resp, Content: tapOutPhrase, Steps: steps}, nil
	}

	resp := AnswerWithoutRAG{Answer: reply, Caveat: Caveat}
	return Turn{Response: resp, Content: resp.TranscriptText(), Steps: steps}, nil
}

// relevance asks the model whether the question is about the corpus topic
// at all. The reason is only meaningful when relevant is false; it is the
// reply with the Not Relevant verdict stripped out.
func (p *PathNoRAGData) relevance(ctx context.Context, history []llm.Message, question string) (bool, string, error) {
	system := fmt.Sprintf("You are assisting a user with technical questions about %s. \nYour task is to determine if their question is about this subject matter or not. It is possible the user may be engaging in pleasantries, small talk, may just be testing the bounds of the system or may be asking how to circumvent the topic. For now please respond with one of only two responses: Relevant if the question, with the conversation history, is about the subject matter; or Not Relevant if the topic of the question is anything else. If the question is Not Relevant, please provide a short explanation why this is the case after the words Not Relevant.",
		p.corpusDescription)

	reply, err := p.client.Respond(ctx, system, appendUser(history, question))
	if err != nil {
		return false, "", fmt.Errorf("reasoning: relevance check: %w", err)
	}

	if strings.EqualFold(strings.TrimSpace(reply), "relevant") {
		slog.Log(ctx, logging.LevelDev, "reasoning: question ruled relevant to the corpus")
		return true, "", nil
	}

	slog.Log(ctx, logging.LevelDev, "reasoning: question ruled not relevant", "reply", reply)
	reason := strings.TrimSpace(notRelevantWord.ReplaceAllString(reply, ""))
	return false, reason, nil
}
