package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// extractDOCX reads a Word document: paragraphs from word/document.xml,
// core properties from docProps/core.xml.
func extractDOCX(data []byte) (*domain.ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a docx archive: %w", err)
	}

	var body, core []byte
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			body, err = readZipFile(f)
		case "docProps/core.xml":
			core, _ = readZipFile(f)
		}
		if err != nil {
			return nil, err
		}
	}
	if body == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}

	text, err := docxText(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document body: %w", err)
	}

	res := &domain.ParseResult{Text: normalizeWhitespace(text)}
	if core != nil {
		res.Properties = docxProperties(core)
	}
	return res, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// docxText walks the document body collecting w:t runs, with a newline
// per w:p paragraph.
func docxText(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// coreProperties is the subset of docProps/core.xml the pipeline uses as
// fallback metadata.
type coreProperties struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
	Created string `xml:"created"`
}

func docxProperties(core []byte) domain.EmbeddedProperties {
	var props coreProperties
	if err := xml.Unmarshal(core, &props); err != nil {
		return domain.EmbeddedProperties{}
	}
	return domain.EmbeddedProperties{
		Title:        props.Title,
		Author:       props.Creator,
		Subject:      props.Subject,
		CreationDate: props.Created,
	}
}
