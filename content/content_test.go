package content

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestHasCode(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"<p>plain</p>", false},
		{"<pre><code>x := 1</code></pre>", true},
		{`<pre class="language-go">fmt.Println()</pre>`, true},
		{"<p>inline <code>x</code></p>", true},
		{"<p>precise</p>", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasCode(tt.input); got != tt.want {
			t.Errorf("HasCode(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"<p>Hello <strong>world</strong></p>", "Hello world"},
		{"<p>a</p><p>b</p>", "a b"},
		{"Fish &amp; chips", "Fish & chips"},
		{"no tags", "no tags"},
		{"<p>broken <b", "broken"},
	}
	for _, tt := range tests {
		if got := Text(tt.input); got != tt.expected {
			t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSummaryTruncates(t *testing.T) {
	body := "<p>" + strings.Repeat("ü", 300) + "</p>"
	got := Summary(body, SummaryLength)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "…"))); n != SummaryLength {
		t.Errorf("summary length = %d runes, want %d", n, SummaryLength)
	}
}

func TestSummaryShortBodyUnchanged(t *testing.T) {
	if got := Summary("<p>short</p>", SummaryLength); got != "short" {
		t.Errorf("Summary = %q, want %q", got, "short")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`<p>ok</p><script>alert(1)</script>`, `<p>ok</p>`},
		{`<img src="/a.jpg" onerror="alert(1)">`, `<img src="/a.jpg">`},
		{`<a href="javascript:alert(1)">x</a>`, `x`},
		{`<a href="https://example.com/?a=1&amp;b=2">x</a>`, `<a href="https://example.com/?a=1&amp;b=2">x</a>`},
		{`<pre><code>if a &lt; b {}</code></pre>`, `<pre><code>if a &lt; b {}</code></pre>`},
		{`<pre><code class="language-go">x</code></pre>`, `<pre><code class="language-go">x</code></pre>`},
		{`<p class="x" style="color:red">y</p>`, `<p>y</p>`},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.input); got != tt.expected {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestHTMLComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := HTML("<p>hi</p><script>x</script>").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if buf.String() != "<p>hi</p>" {
		t.Errorf("rendered %q, want %q", buf.String(), "<p>hi</p>")
	}
}

func TestSanitizeStripsScriptVectors(t *testing.T) {
	tests := []struct {
		input     string
		forbidden []string
	}{
		{`<svg/onload=alert(1)>`, []string{"<svg", "onload"}},
		{`<img/src=x/onerror=alert(1)>`, []string{" onerror"}},
		{`<form action="javascript:alert(1)"><input type="submit"></form>`, []string{"<form", "javascript:"}},
		{`<button formaction=javascript:alert(1)>go</button>`, []string{"<button", "formaction", "javascript:"}},
		{`<p><a href="JaVaScRiPt:alert(1)" onclick="x()">a</a></p>`, []string{"javascript", "onclick"}},
	}
	for _, tt := range tests {
		got := strings.ToLower(Sanitize(tt.input))
		for _, bad := range tt.forbidden {
			if strings.Contains(got, bad) {
				t.Errorf("Sanitize(%q) = %q, still contains %q", tt.input, got, bad)
			}
		}
	}
}
