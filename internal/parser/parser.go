// Package parser extracts raw text and embedded document properties from
// uploaded files. One extractor per supported type:
//
//   - pdf: github.com/ledongthuc/pdf (text plus Info dictionary)
//   - docx: archive/zip, word/document.xml and docProps/core.xml
//   - txt, tex: UTF-8 passthrough (LaTeX comments stripped)
//   - html, xml: golang.org/x/net/html tokenizer
package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// DocumentParser dispatches on the closed FileType set resolved at
// pipeline entry. Adding a type means a new case and extractor, not
// runtime type sniffing.
type DocumentParser struct {
	logger *zap.Logger
}

// NewDocumentParser creates a parser.
func NewDocumentParser(logger *zap.Logger) *DocumentParser {
	return &DocumentParser{logger: logger}
}

// Parse extracts text and embedded properties (implements domain.Parser).
// A broken container or a document with no extractable text is a
// permanent failure.
func (p *DocumentParser) Parse(data []byte, fileType domain.FileType) (*domain.ParseResult, error) {
	var (
		res *domain.ParseResult
		err error
	)

	switch fileType {
	case domain.FileTypePDF:
		res, err = extractPDF(data)
	case domain.FileTypeDOCX:
		res, err = extractDOCX(data)
	case domain.FileTypeTXT:
		res, err = extractPlainText(data)
	case domain.FileTypeLaTeX:
		res, err = extractLaTeX(data)
	case domain.FileTypeHTML, domain.FileTypeXML:
		res, err = extractMarkup(data)
	default:
		return nil, domain.NewPermanentServiceError(domain.StatusParsing,
			fmt.Sprintf("no parser for file type %q", fileType), nil)
	}

	if err != nil {
		return nil, domain.NewPermanentServiceError(domain.StatusParsing,
			fmt.Sprintf("unparsable %s content", fileType), err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, domain.NewPermanentServiceError(domain.StatusParsing,
			fmt.Sprintf("no extractable text in %s document", fileType), nil)
	}
	return res, nil
}

// Snippet extracts up to max bytes of text on a best-effort fast path,
// for language detection only (implements domain.Parser). Failures yield
// an empty snippet, never an error: detection is a heuristic, not a gate.
func (p *DocumentParser) Snippet(data []byte, fileType domain.FileType, max int) string {
	res, err := p.Parse(data, fileType)
	if err != nil {
		p.logger.Debug("snippet extraction failed",
			zap.String("file_type", string(fileType)),
			zap.Error(err),
		)
		return ""
	}

	text := res.Text
	if len(text) <= max {
		return text
	}
	// Cut on a rune boundary.
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max]
}

// normalizeWhitespace collapses runs of blank lines and trims trailing
// space, so downstream heuristics see stable line structure.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Verify that DocumentParser implements domain.Parser interface
var _ domain.Parser = (*DocumentParser)(nil)
