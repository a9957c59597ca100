package sitebuild

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// DefaultSummaryLength is the rune budget of Summarify.
const DefaultSummaryLength = 80

// Summarify keeps the leading words of text that fit in maxLen, counting
// one separator per word, and marks a cut with " ...". Every whitespace
// character separates words, so runs of whitespace count against the
// budget.
func Summarify(text string, maxLen int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	words := splitEachSpace(text)

	n := 0
	kept := make([]string, 0, len(words))
	for _, w := range words {
		n += len([]rune(w)) + 1
		if n > maxLen {
			return strings.Join(kept, " ") + " ..."
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func splitEachSpace(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if unicode.IsSpace(r) {
			words = append(words, s[start:i])
			start = i + len(string(r))
		}
	}
	return append(words, s[start:])
}

// FirstParagraph returns the first blank-line separated block of text.
func FirstParagraph(text string) string {
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			return p
		}
	}
	return ""
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "table": true, "tr": true,
}

// PlainText flattens an HTML fragment to text with entities decoded.
// Block elements end in a blank line so FirstParagraph still finds the
// first paragraph.
func PlainText(fragment string) (string, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "br" {
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	paras := strings.Split(sb.String(), "\n\n")
	out := paras[:0]
	for _, p := range paras {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n"), nil
}
