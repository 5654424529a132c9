// Package reasoning runs the dialogue that turns retrieved corpus material
// into an answer. The rag path holds the model to a strict reply grammar:
// every reply must start with ANSWER:, SECTION: or NONE:, answers must cite
// the provided extracts by number, and one corrective retry is allowed
// before the turn fails. The no-rag path handles questions the search found
// no material for.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/corpuschat/corpus"
	"github.com/brunobiangulo/corpuschat/llm"
	"github.com/brunobiangulo/corpuschat/logging"
	"github.com/brunobiangulo/corpuschat/retrieval"
)

// Correction instructions sent back to the model when a reply breaks the
// grammar. Each names the violation and asks for a rewrite.
const (
	followupTooManyKeywords     = "When answering the question, you used the keyword 'Reference:' more than once. It is vitally important that this keyword is only used once in your answer and then only at the end of the answer followed only by an integer, comma separated list of the extracts used. Please reformat your response so that there is only one instance of the keyword 'Reference:' and it is at the end of the answer."
	followupCitationOutOfRange  = "When answering the question, you made reference to an extract number that was not provided. Please re-write your answer and only refer to the extracts provided by their number"
	followupCitationNotANumber  = "When answering the question, you have made reference to an extract but I am unable to extract the number from your reference. Please re-write your answer using integer extract number(s)"
	followupExtractedOutOfRange = "When answering the question, you have made reference to an extract number that was not provided. Please re-write your answer and only refer to the extracts provided by their number"
	followupSectionFormat       = `When requesting an additional section, you did not use the format "Extract (\d+), Reference (.+)" or you included additional text. Please re-write your response using this format`
	followupSectionOutOfRange   = "When requesting an additional section, you have made reference to an extract number that was not provided. Please re-write your answer and use a valid extract number"
	followupNoPrefix            = "Your response, did not begin with one of the keywords, 'ANSWER:', 'SECTION:' or 'NONE:'. Please review the question and provide an answer in the required format. Also make sure the referenced extracts are quoted at the end of the answer, not in the body, by number, in a comma separated list starting after the keyword 'Reference:'. Do not include the word Extract, only provide the number(s).\n"
)

// noneContent is the transcript content recorded when the model picks the
// NONE: option.
const noneContent = "The system was not able to answer the question using the provided documents"

var (
	sectionRequestFormat = regexp.MustCompile(`(?i)^extract\s*:?\s*(\d+).*reference\s*:?\s*(.+)`)
	firstNumber          = regexp.MustCompile(`\d+`)
)

// PathRAG answers a question from retrieved corpus material. It is
// stateless across turns; the conversation lives with the caller.
type PathRAG struct {
	corpus            *corpus.Corpus
	client            *llm.Client
	userType          string
	corpusDescription string
}

// NewPathRAG wires the grounded dialogue path. userType and
// corpusDescription are spliced into the prompts.
func NewPathRAG(c *corpus.Corpus, client *llm.Client, userType, corpusDescription string) (*PathRAG, error) {
	if c == nil {
		return nil, fmt.Errorf("reasoning: rag path requires a corpus")
	}
	if client == nil {
		return nil, fmt.Errorf("reasoning: rag path requires an llm client")
	}
	return &PathRAG{corpus: c, client: client, userType: userType, corpusDescription: corpusDescription}, nil
}

// Run asks the model to answer question from the given material. history
// is the plain prior conversation; the current question is appended in its
// material-augmented form. An error is returned only for transport
// failures, everything the model does wrong resolves to a Turn.
func (p *PathRAG) Run(ctx context.Context, history []llm.Message, question string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) (Turn, error) {
	steps := []string{"rag.run"}

	if len(definitions)+len(sections) == 0 {
		slog.Log(ctx, logging.LevelDev, "reasoning: rag path called with no material")
		resp := NoAnswer{Classification: NoData}
		return Turn{Response: resp, Content: resp.TranscriptText(), Steps: steps}, nil
	}

	steps = append(steps, "rag.query")
	reply, err := p.query(ctx, history, question, definitions, sections, 3)
	if err != nil {
		return Turn{}, err
	}

	steps = append(steps, "rag.check")
	result := p.check(ctx, reply, definitions, sections)
	switch {
	case result.response != nil:
		return finishTurn(result, definitions, sections, steps), nil
	case result.section != nil:
		return p.section(ctx, history, question, *result.section, definitions, sections, steps)
	default:
		return p.followup(ctx, history, question, reply, result.followup, definitions, sections, steps)
	}
}

// query sends the material-augmented question to the model under the
// grammar instruction. The raw question is replaced by its formatted form
// for this call only.
func (p *PathRAG) query(ctx context.Context, history []llm.Message, question string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit, options int) (string, error) {
	system := p.systemMessage(ctx, options)
	slog.Log(ctx, logging.LevelDev, "reasoning: rag system prompt", "prompt", system)

	user := FormatQuestion(question, definitions, sections)
	slog.Log(ctx, logging.LevelDev, "reasoning: rag user prompt", "prompt", user)

	reply, err := p.client.Respond(ctx, system, appendUser(history, user))
	if err != nil {
		return "", fmt.Errorf("reasoning: rag query: %w", err)
	}
	return reply, nil
}

// followup gives the model one chance to fix an invalid reply. The retry
// sees the plain conversation, the raw question, the invalid reply and the
// correction instruction, with no system prompt. A second invalid reply
// ends the turn.
func (p *PathRAG) followup(ctx context.Context, history []llm.Message, question, invalid, instruction string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit, steps []string) (Turn, error) {
	steps = append(steps, "rag.followup")
	slog.Log(ctx, logging.LevelAnalysis, "reasoning: reply broke the grammar, sending a correction", "instruction", instruction)

	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, history...)
	messages = append(messages,
		llm.Message{Role: "user", Content: question},
		llm.Message{Role: "assistant", Content: invalid},
		llm.Message{Role: "user", Content: instruction},
	)

	reply, err := p.client.Respond(ctx, "", messages)
	if err != nil {
		return Turn{}, fmt.Errorf("reasoning: rag followup: %w", err)
	}

	steps = append(steps, "rag.check")
	result := p.check(ctx, reply, definitions, sections)
	if result.response != nil {
		return finishTurn(result, definitions, sections, steps), nil
	}

	slog.Log(ctx, logging.LevelAnalysis, "reasoning: reply broke the grammar twice", "reply", reply)
	resp := ErrorResponse{Classification: NotFollowingInstructions}
	return Turn{Response: resp, Content: reply, Definitions: definitions, Sections: sections, Steps: steps}, nil
}

// section handles a request for additional material. A request for a
// section already provided, or one whose ancestor is provided, is answered
// by re-asking with the section option removed; otherwise the section is
// fetched, appended to the material, and the question asked again under
// the full grammar. Either way the second reply must be terminal.
func (p *PathRAG) section(ctx context.Context, history []llm.Message, question string, req sectionRequest, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit, steps []string) (Turn, error) {
	steps = append(steps, "rag.section")

	options := 3
	material := sections
	if p.alreadyProvided(req, sections) {
		slog.Log(ctx, logging.LevelAnalysis, "reasoning: requested section is already in the material",
			"document", req.document,
			"section", req.ref,
		)
		options = 2
	} else {
		steps = append(steps, "rag.add_section")
		updated, ok := p.addSection(ctx, req, sections)
		if !ok {
			resp := ErrorResponse{Classification: CallForMoreDocumentsFailed}
			content := fmt.Sprintf("The section requested was: %d from %s with reference %s", req.extract, req.document, req.ref)
			return Turn{Response: resp, Content: content, Definitions: definitions, Sections: sections, Steps: steps}, nil
		}
		material = updated
	}

	steps = append(steps, "rag.query")
	reply, err := p.query(ctx, history, question, definitions, material, options)
	if err != nil {
		return Turn{}, err
	}

	steps = append(steps, "rag.check")
	result := p.check(ctx, reply, definitions, material)
	if result.response != nil {
		return finishTurn(result, definitions, material, steps), nil
	}

	slog.Log(ctx, logging.LevelAnalysis, "reasoning: reply after a section request was not terminal", "reply", reply)
	resp := ErrorResponse{Classification: NotFollowingInstructions}
	return Turn{Response: resp, Content: reply, Definitions: definitions, Sections: material, Steps: steps}, nil
}

// alreadyProvided reports whether the requested section, or any ancestor
// of it, is already among the provided sections of the same document.
func (p *PathRAG) alreadyProvided(req sectionRequest, sections []retrieval.SectionHit) bool {
	var present []string
	for _, hit := range sections {
		if hit.Document == req.document {
			present = append(present, hit.SectionReference)
		}
	}
	if len(present) == 0 {
		return false
	}
	doc, err := p.corpus.Document(req.document)
	if err != nil {
		return false
	}
	return doc.Checker().AnyAncestorIn(req.ref, present)
}

// addSection fetches the requested section and appends it to the material.
// The existing sections are all kept, the context window is long enough.
func (p *PathRAG) addSection(ctx context.Context, req sectionRequest, sections []retrieval.SectionHit) ([]retrieval.SectionHit, bool) {
	doc, err := p.corpus.Document(req.document)
	if err != nil {
		slog.Log(ctx, logging.LevelDev, "reasoning: section request names an unknown document", "document", req.document)
		return nil, false
	}
	ref, ok := doc.Checker().Extract(req.ref)
	if !ok {
		slog.Log(ctx, logging.LevelDev, "reasoning: no valid reference could be extracted from the section request", "requested", req.ref)
		return nil, false
	}
	text := doc.Text(ref, corpus.TextOptions{Markdown: true, Headings: true})
	if text == "" {
		slog.Log(ctx, logging.LevelDev, "reasoning: requested section has no text",
			"document", req.document,
			"section", ref,
		)
		return nil, false
	}

	updated := make([]retrieval.SectionHit, 0, len(sections)+1)
	updated = append(updated, sections...)
	updated = append(updated, retrieval.SectionHit{Document: req.document, SectionReference: req.ref, SectionText: text})
	return updated, true
}

// checked is the validator outcome for one model reply. Exactly one field
// group is set: response and content carry a terminal result, followup an
// instruction for a corrective retry, section a request for more material.
type checked struct {
	response Response
	content  string
	followup string
	section  *sectionRequest
}

// sectionRequest identifies one additional section the model asked for.
// extract is the 1-based extract number whose body contained the pointer,
// document the key it resolved to and ref the extracted reference.
type sectionRequest struct {
	extract  int
	document string
	ref      string
}

// check validates one model reply against the reply grammar.
func (p *PathRAG) check(ctx context.Context, reply string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) checked {
	switch {
	case strings.HasPrefix(reply, prefixAnswer):
		return p.checkAnswer(ctx, reply, definitions, sections)
	case strings.HasPrefix(reply, prefixSection):
		return p.checkSection(ctx, reply, definitions, sections)
	case strings.HasPrefix(reply, prefixNone):
		return checked{response: NoAnswer{Classification: NoRelevantData}, content: noneContent}
	default:
		return checked{followup: followupNoPrefix}
	}
}

// checkAnswer validates an ANSWER: reply. The citation list after the
// Reference: keyword must hold extract numbers within the provided
// material; an answer with no citations at all is allowed but carries the
// caveat.
func (p *PathRAG) checkAnswer(ctx context.Context, reply string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) checked {
	text := strings.TrimSpace(strings.TrimPrefix(reply, prefixAnswer))

	if strings.Count(text, refKeyword) > 1 {
		return checked{followup: followupTooManyKeywords}
	}

	answer := text
	var items []string
	if idx := strings.LastIndex(text, refKeyword); idx >= 0 {
		answer = strings.TrimSpace(text[:idx])
		for _, item := range strings.Split(text[idx+len(refKeyword):], ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}

	if len(items) == 0 {
		resp := AnswerWithoutRAG{Answer: answer, Caveat: Caveat}
		return checked{response: resp, content: resp.TranscriptText()}
	}

	total := len(definitions) + len(sections)
	used := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			digits := firstNumber.FindString(item)
			if digits == "" {
				return checked{followup: followupCitationNotANumber}
			}
			n, _ = strconv.Atoi(digits)
			if n < 1 || n > total {
				return checked{followup: followupExtractedOutOfRange}
			}
			used = append(used, n)
			continue
		}
		if n < 1 || n > total {
			return checked{followup: followupCitationOutOfRange}
		}
		used = append(used, n)
	}

	resp := AnswerWithRAG{Answer: answer, References: p.usedReferences(ctx, used, definitions, sections)}
	return checked{response: resp, content: resp.TranscriptText()}
}

// checkSection validates a SECTION: reply. The request must name a
// provided extract and a reference that is valid for that extract's
// document; references from secondary documents may also resolve against
// the primary document, which is what such pointers usually mean.
func (p *PathRAG) checkSection(ctx context.Context, reply string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) checked {
	request := strings.TrimSpace(strings.TrimPrefix(reply, prefixSection))

	m := sectionRequestFormat.FindStringSubmatch(request)
	if m == nil {
		return checked{followup: followupSectionFormat}
	}

	extract, err := strconv.Atoi(m[1])
	if err != nil || extract < 1 || extract > len(definitions)+len(sections) {
		return checked{followup: followupSectionOutOfRange}
	}

	var document string
	if extract <= len(definitions) {
		document = definitions[extract-1].Document
	} else {
		document = sections[extract-len(definitions)-1].Document
	}
	raw := m[2]

	doc, err := p.corpus.Document(document)
	if err != nil {
		slog.Error("reasoning: extract resolved to a document missing from the corpus", "document", document)
		resp := ErrorResponse{Classification: Unrecoverable}
		return checked{response: resp, content: resp.TranscriptText()}
	}

	checker := doc.Checker()
	documentIndex := checker.Describe()
	if checker.IsValid(raw) {
		ref, _ := checker.Extract(raw)
		return checked{section: &sectionRequest{extract: extract, document: document, ref: ref}}
	}

	if primary := p.corpus.Primary(); primary != "" && document != primary {
		if primaryDoc, err := p.corpus.Document(primary); err == nil {
			primaryChecker := primaryDoc.Checker()
			if primaryChecker.IsValid(raw) {
				ref, _ := primaryChecker.Extract(raw)
				slog.Log(ctx, logging.LevelDev, "reasoning: section request resolved against the primary document",
					"requested", raw,
					"document", primary,
				)
				return checked{section: &sectionRequest{extract: extract, document: primary, ref: ref}}
			}
			if documentIndex == "" {
				documentIndex = primaryChecker.Describe()
			} else {
				documentIndex += ", or " + primaryChecker.Describe()
			}
		}
	}

	return checked{followup: fmt.Sprintf("The reference %s does not appear to be a valid reference for the document. Try using the format %s", raw, documentIndex)}
}

// usedReferences resolves cited extract numbers back to their material, in
// citation order, repeats included. Definitions keep their definition
// text; sections are materialized from the document with markdown headings
// so the transcript quotes the full section.
func (p *PathRAG) usedReferences(ctx context.Context, used []int, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) []UsedReference {
	refs := make([]UsedReference, 0, len(used))
	for _, n := range used {
		if n <= len(definitions) {
			hit := definitions[n-1]
			refs = append(refs, UsedReference{
				DocumentKey:      hit.Document,
				DocumentName:     p.documentName(hit.Document),
				SectionReference: hit.SectionReference,
				IsDefinition:     true,
				Text:             hit.Definition,
			})
			continue
		}

		hit := sections[n-len(definitions)-1]
		text, err := p.corpus.Text(hit.Document, hit.SectionReference, corpus.TextOptions{Markdown: true, Headings: true})
		if err != nil {
			slog.Log(ctx, logging.LevelDev, "reasoning: materializing a used reference failed",
				"document", hit.Document,
				"section", hit.SectionReference,
				"err", err,
			)
		}
		refs = append(refs, UsedReference{
			DocumentKey:      hit.Document,
			DocumentName:     p.documentName(hit.Document),
			SectionReference: hit.SectionReference,
			IsDefinition:     false,
			Text:             text,
		})
	}
	return refs
}

// documentName resolves a document key to its display name, falling back
// to the key itself.
func (p *PathRAG) documentName(key string) string {
	doc, err := p.corpus.Document(key)
	if err != nil {
		return key
	}
	return doc.Name()
}

func finishTurn(result checked, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit, steps []string) Turn {
	return Turn{
		Response:    result.response,
		Content:     result.content,
		Definitions: definitions,
		Sections:    sections,
		Steps:       steps,
	}
}

func appendUser(history []llm.Message, content string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: content})
	return messages
}
