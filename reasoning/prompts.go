package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/corpuschat/logging"
	"github.com/brunobiangulo/corpuschat/retrieval"
)

// Reply grammar. Every grounded reply must start with one of the prefixes;
// answers cite extracts in a comma separated list after the keyword.
const (
	prefixAnswer  = "ANSWER:"
	prefixSection = "SECTION:"
	prefixNone    = "NONE:"
	refKeyword    = "Reference:"
)

// systemMessage builds the instruction that constrains the model to the
// reply grammar. numberOfOptions is 3 for the full grammar or 2 to remove
// the option of requesting additional sections; anything else is forced
// to 3.
func (p *PathRAG) systemMessage(ctx context.Context, numberOfOptions int) string {
	if numberOfOptions != 2 && numberOfOptions != 3 {
		slog.Log(ctx, logging.LevelDev, "reasoning: forcing the number of options in the system message to 3", "requested", numberOfOptions)
		numberOfOptions = 3
	}

	sampleReference := "[Insert Reference Value Here]"
	if primary := p.corpus.Primary(); primary != "" {
		if doc, err := p.corpus.Document(primary); err == nil {
			sampleReference = doc.Checker().Describe()
		}
	}

	header := fmt.Sprintf("You are answering questions about %s for %s based only on the reference extracts provided. You have %d options:\n",
		p.corpusDescription, p.userType, numberOfOptions)

	optionAnswer := fmt.Sprintf("Answer the question. Preface an answer with the tag '%s'. All referenced extracts must be quoted at the end of the answer, not in the body, by number, in a comma separated list starting after the keyword '%s'. Do not include the word Extract, only provide the number(s).\n",
		prefixAnswer, refKeyword)
	optionSection := fmt.Sprintf("Request additional documentation. If, in the body of the extract(s) provided, there is a reference to another section that is directly relevant and not already provided, respond with the word '%s' followed by 'Extract extract_number, %s section_reference' - for example SECTION: Extract 1, %s %s.\n",
		prefixSection, refKeyword, refKeyword, sampleReference)
	optionNone := fmt.Sprintf("State '%s' and nothing else in all other cases\n", prefixNone)

	if numberOfOptions == 2 {
		return header + "1) " + optionAnswer + "2) " + optionNone
	}
	return header + "1) " + optionAnswer + "2) " + optionSection + "3) " + optionNone
}

// FormatQuestion renders a user question together with its reference
// material. Every definition and section becomes a numbered extract, in
// material order, definitions first, so the model can cite them back by
// number.
func FormatQuestion(question string, definitions []retrieval.DefinitionHit, sections []retrieval.SectionHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	n := 1
	for _, hit := range definitions {
		fmt.Fprintf(&b, "Extract %d:\n%s\n", n, hit.Definition)
		n++
	}
	for _, hit := range sections {
		fmt.Fprintf(&b, "Extract %d:\n%s\n", n, hit.SectionText)
		n++
	}
	return b.String()
}
