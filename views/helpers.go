package views

import (
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eringen/weblog"
	"github.com/eringen/weblog/content"
)

var funcs = template.FuncMap{
	"formatDate": FormatDate,
	"inputDate":  inputDate,
	"body":       body,
	"joinTags":   func(tags []string) string { return strings.Join(tags, ", ") },
	"pageURL":    PageURL,
	"pathEscape": url.PathEscape,
	"add":        func(a, b int) int { return a + b },
	"year":       func() int { return time.Now().Year() },
}

// FormatDate renders a post date for display.
func FormatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

func inputDate(p *weblog.Post) string {
	if p == nil {
		return time.Now().Format("2006-01-02")
	}
	return p.Date.Format("2006-01-02")
}

// body marks sanitized editor output as safe for the template.
func body(s string) template.HTML {
	return template.HTML(content.Sanitize(s))
}

// PageURL returns the listing link for page n; page 1 is the bare root.
func PageURL(n int) string {
	if n <= 1 {
		return "/"
	}
	return "/?page=" + strconv.Itoa(n)
}
