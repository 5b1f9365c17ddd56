// Package preprocess cleans raw article text and extracts lightweight
// entity hints before the text reaches the language models.
package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

const maxTextLen = 8000

var (
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	entityRe     = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

var htmlEntities = map[string]string{
	"&amp;":   "&",
	"&lt;":    "<",
	"&gt;":    ">",
	"&quot;":  `"`,
	"&#39;":   "'",
	"&apos;":  "'",
	"&nbsp;":  " ",
	"&mdash;": "-",
	"&ndash;": "-",
}

// Clean normalizes a news item: strips markup, decodes common HTML
// entities, normalizes unicode to NFC, collapses whitespace, and
// truncates overlong bodies. Hints are extracted from the cleaned text.
func Clean(item model.NewsItem) model.CleanedItem {
	text := CleanText(item.Title + ". " + item.RawText)
	return model.CleanedItem{
		ID:             item.ID,
		Title:          CleanText(item.Title),
		NormalizedText: text,
		Hints:          ExtractHints(text),
	}
}

// CleanText applies the normalization steps to a single string.
func CleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	for ent, repl := range htmlEntities {
		s = strings.ReplaceAll(s, ent, repl)
	}
	s = entityRe.ReplaceAllString(s, " ")
	s = norm.NFC.String(s)
	s = stripControl(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen {
		s = truncateAtRune(s, maxTextLen)
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// truncateAtRune cuts at a rune boundary at or before n bytes.
func truncateAtRune(s string, n int) string {
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
