// Package analyzer finds query terms in fetched page content and builds
// extractive excerpts from the matching sentences.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TermMatch represents occurrences of a query term within a page.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

// Terms splits a query into distinct lowercase terms.
func Terms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, f := range strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) {
		t := strings.ToLower(f)
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// FindTermMatches scans content for each term (case-insensitive) and returns
// the count and the sentences containing it. Terms that do not occur are
// omitted.
func FindTermMatches(content string, terms []string) []TermMatch {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	results := make([]TermMatch, 0, len(terms))
	lowerContent := strings.ToLower(content)
	sentences := splitIntoSentences(content)

	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		if lowerTerm == "" {
			continue
		}
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, sd := range sentences {
			if strings.Contains(sd.lower, lowerTerm) {
				matched = append(matched, sd.original)
			}
		}

		results = append(results, TermMatch{
			Term:      term,
			Count:     count,
			Sentences: matched,
		})
	}
	return results
}

// Excerpt joins the sentences of content that mention a query term, in
// document order, until maxChars runes are used. When no sentence matches,
// the leading sentences are used instead.
func Excerpt(content, query string, maxChars int) string {
	sentences := splitIntoSentences(content)
	if len(sentences) == 0 || maxChars <= 0 {
		return ""
	}
	terms := Terms(query)

	pick := func(match bool) string {
		var b strings.Builder
		used := 0
		for _, sd := range sentences {
			if match && !containsAny(sd.lower, terms) {
				continue
			}
			n := utf8.RuneCountInString(sd.original)
			if used > 0 && used+1+n > maxChars {
				break
			}
			if used > 0 {
				b.WriteByte(' ')
				used++
			}
			if n > maxChars {
				b.WriteString(string([]rune(sd.original)[:maxChars]))
				break
			}
			b.WriteString(sd.original)
			used += n
		}
		return b.String()
	}

	if out := pick(true); out != "" {
		return out
	}
	return pick(false)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// sentenceData holds original and lowercase versions together
type sentenceData struct {
	original string
	lower    string
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

// splitIntoSentences splits text on Latin and CJK sentence terminators and
// newlines, keeping the terminator with its sentence. Empty sentences are
// dropped.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	// Estimate sentence count: roughly 1 sentence per 50 chars average
	sentences := make([]sentenceData, 0, max(1, len(text)/50))
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		sentences = append(sentences, sentenceData{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i, r := range text {
		if !isTerminator(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		add(text[start:end])
		start = end
	}
	if start < len(text) {
		add(text[start:])
	}
	return sentences
}
