package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// extractPlainText passes UTF-8 text through unchanged apart from
// whitespace normalization.
func extractPlainText(data []byte) (*domain.ParseResult, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not valid UTF-8 text")
	}
	return &domain.ParseResult{Text: normalizeWhitespace(string(data))}, nil
}

// extractLaTeX treats LaTeX source as plain text with comment lines
// stripped. Command markup is left in place; the NLP extractor copes
// with it better than a lossy hand-rolled detexer would.
func extractLaTeX(data []byte) (*domain.ParseResult, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not valid UTF-8 text")
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = stripLaTeXComment(line)
	}
	return &domain.ParseResult{Text: normalizeWhitespace(strings.Join(lines, "\n"))}, nil
}

// stripLaTeXComment removes an unescaped % and everything after it.
func stripLaTeXComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '%' {
			continue
		}
		if i > 0 && line[i-1] == '\\' {
			continue // \% is a literal percent
		}
		return line[:i]
	}
	return line
}
