package paste

import (
	"strings"
)

// MaxTitleLen is the rune count after which derived titles are cut.
const MaxTitleLen = 50

const ellipsis = "…"

// TextToTitle collapses whitespace and truncates s to n runes. A word cut within
// the last fifth of the limit is dropped entirely. Truncated titles end with an ellipsis.
func TextToTitle(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	cutsWord := runes[n] != ' '
	runes = runes[:n]
	if cutsWord {
		lastSpace := -1
		for i := len(runes) - 1; i >= 0; i-- {
			if runes[i] == ' ' {
				lastSpace = i
				break
			}
		}
		if lastSpace >= 0 && n-lastSpace <= n/5 {
			runes = runes[:lastSpace]
		}
	}
	return string(runes) + ellipsis
}

// isEmptyRender reports whether rendered HTML has no visible content. The markdown
// renderer replaces raw HTML by a comment, which counts as empty.
func isEmptyRender(html string) bool {
	html = strings.TrimSpace(html)
	if html == "" {
		return true
	}
	for _, part := range strings.Split(html, "\n") {
		part = strings.TrimSpace(part)
		if part != "" && part != "<!-- raw HTML omitted -->" {
			return false
		}
	}
	return true
}
