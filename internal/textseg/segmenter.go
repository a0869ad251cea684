// Package textseg provides text segmentation for TTS applications: long-form
// input is split into bounded-size chunks at natural boundaries (paragraphs,
// sentences, clauses) so each synthesis call stays within the engine's stable
// operating range.
package textseg

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults for chunking and duration estimation.
const (
	// DefaultMaxChunkChars is the character budget per chunk.
	DefaultMaxChunkChars = 500
	// DefaultWordsPerMinute is the speaking rate assumed by the duration
	// estimator. Used only for progress estimates, never for correctness.
	DefaultWordsPerMinute = 150
)

const secondsPerMinute = 60.0

// Regex patterns for boundary detection.
const (
	paragraphRegexPattern = `\n\s*\n`
	// Sentence boundaries are punctuation followed by whitespace; the
	// capital-letter check happens separately because Go's regexp has no
	// lookahead. Accepted as imprecise around abbreviations.
	sentenceEndRegexPattern = `[.!?][ \t\r\n]+`
	// Clause boundaries: after a comma or semicolon, or after the
	// conjunctions "and"/"or".
	clauseRegexPattern     = `([,;]|\b(?:and|or)\b)[ \t\r\n]+`
	whitespaceRegexPattern = `\s+`
	unsupportedRunePattern = `[^\w\s.,!?;:'"-]`
)

// Segmenter splits text into bounded-length chunks. The zero value is not
// usable; construct with NewSegmenter.
type Segmenter struct {
	maxChars          int
	wordsPerMinute    int
	paragraphPattern  *regexp.Regexp
	sentenceEnd       *regexp.Regexp
	clausePattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp
	unsupportedRunes  *regexp.Regexp
}

// NewSegmenter creates a segmenter with the given chunk budget. Non-positive
// budgets fall back to the default.
func NewSegmenter(maxChars int) *Segmenter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	return &Segmenter{
		maxChars:          maxChars,
		wordsPerMinute:    DefaultWordsPerMinute,
		paragraphPattern:  regexp.MustCompile(paragraphRegexPattern),
		sentenceEnd:       regexp.MustCompile(sentenceEndRegexPattern),
		clausePattern:     regexp.MustCompile(clauseRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		unsupportedRunes:  regexp.MustCompile(unsupportedRunePattern),
	}
}

// ShouldChunk reports whether the text exceeds the chunk budget.
func (s *Segmenter) ShouldChunk(text string) bool {
	return len(text) > s.maxChars
}

// Chunk splits text into ordered chunks, each within the budget unless a
// single indivisible token exceeds it (returned whole in that case). Text
// within the budget passes through as a single chunk, empty input included.
// Concatenating the chunks reproduces the input's word sequence.
func (s *Segmenter) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) <= s.maxChars {
		return []string{text}
	}

	var chunks []string

	for _, paragraph := range s.paragraphPattern.Split(text, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if len(paragraph) <= s.maxChars {
			chunks = append(chunks, paragraph)

			continue
		}

		chunks = append(chunks, s.mergeGreedy(s.splitSentences(paragraph), s.splitLongSentence)...)
	}

	return chunks
}

// EstimateDuration predicts speech duration in seconds from word count at
// the assumed speaking rate.
func (s *Segmenter) EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))

	return float64(words) / float64(s.wordsPerMinute) * secondsPerMinute
}

// CleanText collapses whitespace and strips characters the synthesis engine
// does not handle, keeping basic punctuation.
func (s *Segmenter) CleanText(text string) string {
	text = s.whitespacePattern.ReplaceAllString(text, " ")
	text = s.unsupportedRunes.ReplaceAllString(text, "")

	return strings.TrimSpace(text)
}

// splitSentences splits a paragraph on sentence-ending punctuation followed
// by whitespace and a capital letter.
func (s *Segmenter) splitSentences(text string) []string {
	matches := s.sentenceEnd.FindAllStringIndex(text, -1)

	var sentences []string

	last := 0

	for _, match := range matches {
		next, _ := utf8.DecodeRuneInString(text[match[1]:])
		if !unicode.IsUpper(next) {
			continue
		}

		sentence := strings.TrimSpace(text[last:match[1]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		last = match[1]
	}

	if remainder := strings.TrimSpace(text[last:]); remainder != "" {
		sentences = append(sentences, remainder)
	}

	return sentences
}

// splitLongSentence breaks an over-budget sentence at clause boundaries,
// greedily merging the clauses back up to the budget. Clauses still over
// budget are split at word boundaries; a single word over budget is emitted
// whole.
func (s *Segmenter) splitLongSentence(sentence string) []string {
	parts := s.splitAfter(sentence, s.clausePattern)
	if len(parts) == 1 {
		return s.splitWords(sentence)
	}

	return s.mergeGreedy(parts, s.splitWords)
}

// splitWords is the terminal split level: whitespace-separated tokens merged
// greedily. An oversized single token passes through unmodified.
func (s *Segmenter) splitWords(text string) []string {
	words := strings.Fields(text)

	return s.mergeGreedy(words, func(word string) []string {
		return []string{word}
	})
}

// mergeGreedy accumulates pieces into chunks up to the budget, flushing when
// the next piece would overflow. Pieces over budget on their own are handed
// to the overflow splitter.
func (s *Segmenter) mergeGreedy(pieces []string, overflow func(string) []string) []string {
	var (
		chunks  []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		if len(piece) > s.maxChars {
			flush()

			chunks = append(chunks, overflow(piece)...)

			continue
		}

		if current.Len() > 0 && current.Len()+1+len(piece) > s.maxChars {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}

		current.WriteString(piece)
	}

	flush()

	return chunks
}

// splitAfter splits text after each match of the pattern, keeping the
// matched boundary (comma, semicolon, conjunction) at the end of the
// preceding piece.
func (s *Segmenter) splitAfter(text string, pattern *regexp.Regexp) []string {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	var parts []string

	last := 0

	for _, match := range matches {
		// Cut after the captured boundary token, dropping the trailing
		// whitespace the pattern consumed.
		end := match[3]

		part := strings.TrimSpace(text[last:end])
		if part != "" {
			parts = append(parts, part)
		}

		last = match[1]
	}

	if remainder := strings.TrimSpace(text[last:]); remainder != "" {
		parts = append(parts, remainder)
	}

	return parts
}
