package eval

import (
	"strings"
	"unicode"
)

// factCutoff is the fraction of a fact's significant words that must appear
// in the answer for the fact to count as present.
const factCutoff = 0.8

// passageMaxLen is the approximate maximum character length for the
// diagnostic passage quoted against a missed fact.
const passageMaxLen = 300

// matchFacts scores expected facts against answer text by word overlap,
// returning the fraction found and the facts that were not.
func matchFacts(facts []string, text string) (recall float64, missed []string) {
	if len(facts) == 0 {
		return 1, nil
	}
	textWords := significantWords(text)
	found := 0
	for _, fact := range facts {
		if factInText(fact, text, textWords) {
			found++
		} else {
			missed = append(missed, fact)
		}
	}
	return float64(found) / float64(len(facts)), missed
}

// factInText reports whether fact appears in text. A fact may list
// alternatives separated by "|"; any one matching counts. Alternatives too
// short to carry significant words (bare references like "1.2") fall back
// to a case-insensitive substring match.
func factInText(fact, text string, textWords map[string]bool) bool {
	for _, alt := range strings.Split(fact, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		words := significantWords(alt)
		if len(words) == 0 {
			if strings.Contains(strings.ToLower(text), strings.ToLower(alt)) {
				return true
			}
			continue
		}
		overlap := 0
		for w := range words {
			if textWords[w] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(words)) >= factCutoff {
			return true
		}
	}
	return false
}

// closestPassage returns the 1-2 sentences of text that best overlap with
// factWords, for the report's diagnostics on a missed fact. Returns empty
// string when nothing overlaps at all.
func closestPassage(text string, factWords map[string]bool) string {
	if len(factWords) == 0 || text == "" {
		return ""
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	// Score each sentence by overlap with the fact's words.
	type scored struct {
		text  string
		score int
		index int
	}
	scoredSentences := make([]scored, len(sentences))
	for i, s := range sentences {
		words := significantWords(s)
		overlap := 0
		for w := range words {
			if factWords[w] {
				overlap++
			}
		}
		scoredSentences[i] = scored{text: s, score: overlap, index: i}
	}

	// Find the best sentence.
	bestIdx := 0
	bestScore := scoredSentences[0].score
	for i, s := range scoredSentences {
		if s.score > bestScore {
			bestScore = s.score
			bestIdx = i
		}
	}

	if bestScore == 0 {
		return ""
	}

	result := scoredSentences[bestIdx].text

	// Try to add the next-best adjacent sentence if it fits within the limit.
	if len(result) < passageMaxLen && len(scoredSentences) > 1 {
		candidateIdx := -1
		candidateScore := 0
		for _, delta := range []int{1, -1} {
			adj := bestIdx + delta
			if adj >= 0 && adj < len(scoredSentences) && scoredSentences[adj].score > candidateScore {
				candidateScore = scoredSentences[adj].score
				candidateIdx = adj
			}
		}
		if candidateIdx >= 0 && candidateScore > 0 {
			combined := result + " " + scoredSentences[candidateIdx].text
			if candidateIdx < bestIdx {
				combined = scoredSentences[candidateIdx].text + " " + result
			}
			if len(combined) <= passageMaxLen {
				result = combined
			}
		}
	}

	return result
}

// significantWords returns the set of lowercased words >= 4 characters,
// excluding common stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// splitSentences splits text into sentences at period/question/exclamation
// boundaries followed by whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// stopWords is a set of common English stop words to exclude from matching.
var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
	"most": true, "after": true, "before": true, "other": true,
	"being": true, "same": true, "both": true, "between": true,
}
