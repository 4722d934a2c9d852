package content

import "strings"

const fullWidthIndent = "　　"

// IndentParagraphs prefixes every prose paragraph (blocks separated by a
// blank line) with two full-width spaces, the typographic indent of CJK
// prose. Headings, list items, quotes, tables, fences and raw HTML are left
// alone, as are paragraphs already indented.
func IndentParagraphs(text string) string {
	paras := strings.Split(text, "\n\n")
	for i, p := range paras {
		trimmed := strings.TrimLeft(p, " \t\r\n")
		if trimmed == "" || strings.HasPrefix(trimmed, "　") || structural(trimmed) {
			continue
		}
		lead := p[:len(p)-len(trimmed)]
		paras[i] = strings.TrimRight(lead, " \t") + fullWidthIndent + trimmed
	}
	return strings.Join(paras, "\n\n")
}

func structural(s string) bool {
	for _, prefix := range []string{"#", "-", "*", "+", ">", "|", "<", "```", "~~~"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	// ordered list item: digits followed by '.' or ')'
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')')
}
