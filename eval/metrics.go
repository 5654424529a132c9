package eval

import (
	"fmt"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/corpus"
)

// scoreResult grades one response against its test case. The result carries
// enough diagnostics to read a regression without replaying the question.
func scoreResult(c *corpus.Corpus, tc TestCase, resp corpuschat.Response) TestResult {
	res := TestResult{
		Question:     tc.Question,
		Category:     tc.Category,
		ExpectedKind: tc.ExpectedKind,
		Kind:         resp.Kind(),
		Answer:       answerText(resp),
	}
	res.KindMatch = res.Kind == tc.ExpectedKind
	res.FactRecall, res.MissedFacts = matchFacts(tc.ExpectedFacts, res.Answer)
	res.Provenance, res.CitationFlaws, res.ProvenanceChecked = checkProvenance(c, resp)

	// Quote the passage closest to each missed fact.
	for _, fact := range res.MissedFacts {
		if passage := closestPassage(res.Answer, significantWords(fact)); passage != "" {
			res.NearMisses = append(res.NearMisses, fmt.Sprintf("%s: %s", fact, passage))
		}
	}

	res.Passed = res.KindMatch &&
		res.FactRecall >= 0.5 &&
		(!res.ProvenanceChecked || res.Provenance == 1)
	return res
}

// answerText returns the portion of a response that fact matching runs
// against: the answer proper for answers, the transcript rendering for
// refusals and errors. Quoted reference material is left out so facts only
// count when the answer restates them.
func answerText(resp corpuschat.Response) string {
	switch r := resp.(type) {
	case corpuschat.AnswerWithRAG:
		return r.Answer
	case corpuschat.AnswerWithoutRAG:
		return r.Answer
	default:
		return resp.TranscriptText()
	}
}

// checkProvenance verifies every citation of an answer against the corpus:
// a cited section must quote the corpus text for its reference exactly as
// the engine materializes it, and a cited definition must anchor to a
// section that exists in its document. It returns the fraction of sound
// citations and a description of each flaw. checked is false when the
// response cites nothing, in which case there is nothing to score.
func checkProvenance(c *corpus.Corpus, resp corpuschat.Response) (score float64, flaws []string, checked bool) {
	answer, ok := resp.(corpuschat.AnswerWithRAG)
	if !ok || len(answer.References) == 0 {
		return 0, nil, false
	}
	sound := 0
	for _, ref := range answer.References {
		if flaw := checkReference(c, ref); flaw != "" {
			flaws = append(flaws, flaw)
			continue
		}
		sound++
	}
	return float64(sound) / float64(len(answer.References)), flaws, true
}

func checkReference(c *corpus.Corpus, ref corpuschat.UsedReference) string {
	if ref.Text == "" {
		return fmt.Sprintf("%s %s: cited with no text", ref.DocumentKey, ref.SectionReference)
	}
	if ref.IsDefinition {
		// Definitions quote the index rather than the document; the
		// anchor section just has to exist.
		if ref.SectionReference == "" {
			if _, err := c.Document(ref.DocumentKey); err != nil {
				return fmt.Sprintf("%s: cited document is not in the corpus", ref.DocumentKey)
			}
			return ""
		}
		text, err := c.Text(ref.DocumentKey, ref.SectionReference, corpus.TextOptions{})
		if err != nil {
			return fmt.Sprintf("%s: cited document is not in the corpus", ref.DocumentKey)
		}
		if text == "" {
			return fmt.Sprintf("%s %s: definition anchored to a section with no text", ref.DocumentKey, ref.SectionReference)
		}
		return ""
	}
	want, err := c.Text(ref.DocumentKey, ref.SectionReference, corpus.TextOptions{Markdown: true, Headings: true})
	if err != nil {
		return fmt.Sprintf("%s: cited document is not in the corpus", ref.DocumentKey)
	}
	if want == "" {
		return fmt.Sprintf("%s %s: cited section has no text", ref.DocumentKey, ref.SectionReference)
	}
	if ref.Text != want {
		return fmt.Sprintf("%s %s: cited text does not match the corpus", ref.DocumentKey, ref.SectionReference)
	}
	return ""
}
