// Package chunker splits a document into display chunks and materialises
// them incrementally as the reader scrolls.
package chunker

import (
	"strings"
	"unicode"

	"github.com/hazyhaar/liseuse/content"
)

// Chunk is one display unit.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Lines int    `json:"lines"`
}

// Split cuts fullText according to the content type: plain text by line
// count, markup by character budget without cutting inside a tag.
// Empty text yields no chunks.
func Split(fullText string, t content.Type, p Policy) []Chunk {
	p.Defaults()
	if fullText == "" {
		return nil
	}
	var parts []string
	if t == content.Markdown {
		parts = splitMarkup(fullText, p.CharsPerChunk)
	} else {
		parts = splitLines(fullText, p.LinesPerChunk)
	}
	chunks := make([]Chunk, len(parts))
	for i, s := range parts {
		chunks[i] = Chunk{Index: i, Text: s, Lines: strings.Count(s, "\n") + 1}
	}
	return chunks
}

func splitLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, (len(lines)+n-1)/n)
	for i := 0; i < len(lines); i += n {
		out = append(out, strings.Join(lines[i:min(i+n, len(lines))], "\n"))
	}
	return out
}

// splitMarkup cuts text into consecutive pieces of about budget characters.
// The pieces concatenate back to text.
func splitMarkup(text string, budget int) []string {
	rs := []rune(text)
	var out []string
	for start := 0; start < len(rs); {
		end := start + budget
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}
		end = adjustCut(rs, start, end, budget)
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}

// adjustCut moves a natural cut at end forward so it does not land inside a
// tag or a word. The search never goes past end+budget.
func adjustCut(rs []rune, start, end, budget int) int {
	limit := min(end+budget, len(rs))
	if insideTag(rs, start, end) {
		for i := end; i < limit; i++ {
			if rs[i] == '>' {
				return i + 1
			}
		}
		for i := end; i < limit; i++ {
			if rs[i] == ' ' {
				return i + 1
			}
		}
		return end
	}
	if isWordRune(rs[end-1]) && isWordRune(rs[end]) {
		for i := end; i < limit; i++ {
			if unicode.IsSpace(rs[i]) || rs[i] == '<' {
				return i
			}
		}
	}
	return end
}

// insideTag reports whether rs[start:end] ends inside an unclosed '<'.
func insideTag(rs []rune, start, end int) bool {
	for i := end - 1; i >= start; i-- {
		switch rs[i] {
		case '>':
			return false
		case '<':
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
