package weblog

import (
	"context"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transliterations covers letters that Unicode decomposition does not
// reduce to ASCII on its own.
var transliterations = map[rune]string{
	'ı': "i", 'İ': "I",
	'ş': "s", 'Ş': "S",
	'ğ': "g", 'Ğ': "G",
	'ü': "u", 'Ü': "U",
	'ö': "o", 'Ö': "O",
	'ç': "c", 'Ç': "C",
	'ß': "ss",
	'æ': "ae", 'Æ': "AE",
	'ø': "o", 'Ø': "O",
	'đ': "d", 'Đ': "D",
	'ł': "l", 'Ł': "L",
}

// reservedSlugs collide with the fixed /post/* routes.
var reservedSlugs = map[string]struct{}{
	"add":               {},
	"edit":              {},
	"delete":            {},
	"toggle-visibility": {},
}

// fallbackSlug is used when a title has no sluggable characters.
const fallbackSlug = "post"

// Slugify converts a title to a URL-safe slug matching ^[a-z0-9-]*$ with
// no leading, trailing, or repeated hyphens.
func Slugify(s string) string {
	var t strings.Builder
	for _, r := range s {
		if repl, ok := transliterations[r]; ok {
			t.WriteString(repl)
			continue
		}
		t.WriteRune(r)
	}
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, t.String())
	if err != nil {
		folded = t.String()
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	prevHyphen := true // suppresses a leading hyphen
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r), r == '-':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// UniqueSlug derives a slug from title that taken reports as free. On
// collision a numeric suffix is appended, starting at -2.
func UniqueSlug(ctx context.Context, title string, taken func(context.Context, string) (bool, error)) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = fallbackSlug
	}
	candidate := base
	for n := 2; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, reserved := reservedSlugs[candidate]; !reserved {
			used, err := taken(ctx, candidate)
			if err != nil {
				return "", err
			}
			if !used {
				return candidate, nil
			}
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// BuildURL joins a base URL with path segments.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join("/", u.Path, path.Join(pathSegments...))
	return u.String()
}

// PostURL returns the canonical absolute URL of the post with slug.
func PostURL(base, slug string) string {
	return BuildURL(base, "post", slug)
}

// NormalizeTags splits comma-joined entries, trims whitespace, and drops
// empty labels while keeping order.
func NormalizeTags(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// EncodeTags stores tags as a comma-delimited string (e.g. ",go,web,").
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(NormalizeTags(tags), ",") + ","
}

// ParseTags splits a comma-delimited tag string (e.g. ",go,web,") into a slice.
func ParseTags(tagString string) []string {
	tagString = strings.Trim(tagString, ",")
	if tagString == "" {
		return []string{}
	}
	parts := strings.Split(tagString, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
