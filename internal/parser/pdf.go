package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// extractPDF pulls plain text and the Info dictionary from a PDF.
// The pdf package panics on some malformed files, so the whole
// extraction runs under a recover.
func extractPDF(data []byte) (res *domain.ParseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf text: %w", err)
	}

	return &domain.ParseResult{
		Text:       normalizeWhitespace(string(raw)),
		Properties: pdfProperties(reader),
	}, nil
}

// pdfProperties reads the trailer Info dictionary. Missing or malformed
// entries simply stay empty.
func pdfProperties(reader *pdf.Reader) domain.EmbeddedProperties {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return domain.EmbeddedProperties{}
	}
	return domain.EmbeddedProperties{
		Title:        info.Key("Title").RawString(),
		Author:       info.Key("Author").RawString(),
		Subject:      info.Key("Subject").RawString(),
		CreationDate: info.Key("CreationDate").RawString(),
	}
}
