// Package extract turns raw HTML into the visible text a reader would
// see, dropping scripts, styling and page chrome.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// skipTags are elements whose entire subtree carries no readable page
// content. nav and footer are chrome, the rest never render as text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"footer":   true,
	"head":     true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"template": true,
}

// Text extracts the visible text from an HTML document. Runs of
// whitespace collapse to single spaces; markup-only input yields "".
func Text(page []byte) string {
	z := html.NewTokenizer(bytes.NewReader(page))

	var parts []string
	depth := 0 // nesting depth inside skipped subtrees

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed markup; either way we keep what we have.
			return strings.Join(parts, " ")

		case html.StartTagToken:
			name, _ := z.TagName()
			if skipTags[string(name)] {
				depth++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if skipTags[string(name)] && depth > 0 {
				depth--
			}

		case html.TextToken:
			if depth > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}
