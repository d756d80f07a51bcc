package parser

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// extractMarkup collects the text content of an HTML or XML document.
// The x/net/html tokenizer is lenient, which matches how academic HTML
// and XML exports actually look; script and style bodies are skipped.
func extractMarkup(data []byte) (*domain.ParseResult, error) {
	z := html.NewTokenizer(bytes.NewReader(data))

	var sb strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// The tokenizer only errors at EOF or on I/O failure;
			// a bytes.Reader cannot fail mid-stream.
			return &domain.ParseResult{Text: normalizeWhitespace(sb.String())}, nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			} else if blockTag(string(name)) {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func skippedTag(name string) bool {
	return name == "script" || name == "style"
}

// blockTag names elements whose boundary implies a line break in the
// extracted text.
func blockTag(name string) bool {
	switch name {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "title":
		return true
	}
	return false
}
