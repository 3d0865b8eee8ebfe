// Package content inspects and renders the HTML bodies produced by the
// rich-text editor.
package content

import (
	"context"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"
)

// SummaryLength is the default number of characters in a listing summary.
const SummaryLength = 250

var (
	reCode  = regexp.MustCompile(`(?i)<(pre|code)[\s>]`)
	reSpace = regexp.MustCompile(`\s+`)
)

// policy is the allow-list applied to editor output: user generated
// content elements, http(s)/mailto and relative links, and language
// classes on code blocks for the highlighter.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w-]+$`)).OnElements("pre", "code")
	return p
}

// HTML returns a templ.Component that writes body unescaped after
// Sanitize.
func HTML(body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, Sanitize(body))
		return err
	})
}

// HasCode reports whether body contains a code block, which tells the
// detail view to load syntax highlighting.
func HasCode(body string) bool {
	return reCode.MatchString(body)
}

// Sanitize reduces editor output to the allow-listed markup. Scripts,
// event handlers, forms and non-http(s) URLs are removed.
func Sanitize(body string) string {
	return policy.Sanitize(body)
}

// Text returns the visible text of body with tags removed, entities
// decoded and whitespace collapsed.
func Text(body string) string {
	var buf strings.Builder
	for len(body) > 0 {
		lt := strings.Index(body, "<")
		if lt < 0 {
			buf.WriteString(body)
			break
		}
		buf.WriteString(body[:lt])
		gt := strings.Index(body[lt:], ">")
		if gt < 0 {
			break
		}
		buf.WriteByte(' ')
		body = body[lt+gt+1:]
	}
	text := html.UnescapeString(buf.String())
	return strings.TrimSpace(reSpace.ReplaceAllString(text, " "))
}

// Summary returns at most n characters of the visible text of body,
// ending with an ellipsis when truncated.
func Summary(body string, n int) string {
	text := Text(body)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
