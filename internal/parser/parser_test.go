package parser

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

func newParser(t *testing.T) *DocumentParser {
	t.Helper()
	return NewDocumentParser(zaptest.NewLogger(t))
}

// buildDOCX assembles a minimal Word archive in memory.
func buildDOCX(t *testing.T, paragraphs []string, core string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>`)
		body.WriteString(p)
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write(body.Bytes())
	require.NoError(t, err)

	if core != "" {
		f, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = f.Write([]byte(core))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParsePlainText(t *testing.T) {
	p := newParser(t)

	res, err := p.Parse([]byte("Line one.\n\n\n\nLine two.   \n"), domain.FileTypeTXT)
	require.NoError(t, err)
	assert.Equal(t, "Line one.\n\nLine two.", res.Text)
}

func TestParseRejectsBinaryAsText(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse([]byte{0xff, 0xfe, 0x00, 0x80}, domain.FileTypeTXT)
	require.Error(t, err)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.ErrKindPermanentService, se.Kind)
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse([]byte("   \n\t\n"), domain.FileTypeTXT)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractable text")
}

func TestParseLaTeXStripsComments(t *testing.T) {
	p := newParser(t)

	src := "\\section{Results} % section heading\nAccuracy was 95\\% overall.\n% a full comment line\nDetails follow.\n"
	res, err := p.Parse([]byte(src), domain.FileTypeLaTeX)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "\\section{Results}")
	assert.Contains(t, res.Text, "95\\% overall")
	assert.NotContains(t, res.Text, "section heading")
	assert.NotContains(t, res.Text, "a full comment line")
}

func TestParseHTMLSkipsScriptAndStyle(t *testing.T) {
	p := newParser(t)

	src := `<html><head><title>Study Results</title>
<style>body { color: red }</style>
<script>alert("hi")</script></head>
<body><p>First paragraph.</p><p>Second paragraph.</p></body></html>`

	res, err := p.Parse([]byte(src), domain.FileTypeHTML)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Study Results")
	assert.Contains(t, res.Text, "First paragraph.")
	assert.Contains(t, res.Text, "Second paragraph.")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "color: red")
}

func TestParseDOCX(t *testing.T) {
	p := newParser(t)

	core := `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">
  <dc:title>Survey of Queueing Models</dc:title>
  <dc:creator>A. Author</dc:creator>
  <dc:subject>queueing</dc:subject>
  <dcterms:created>2023-04-01T10:00:00Z</dcterms:created>
</cp:coreProperties>`

	data := buildDOCX(t, []string{"Survey of Queueing Models", "Queues are everywhere."}, core)
	res, err := p.Parse(data, domain.FileTypeDOCX)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Survey of Queueing Models")
	assert.Contains(t, res.Text, "Queues are everywhere.")
	assert.Equal(t, "Survey of Queueing Models", res.Properties.Title)
	assert.Equal(t, "A. Author", res.Properties.Author)
	assert.Equal(t, "2023-04-01T10:00:00Z", res.Properties.CreationDate)
}

func TestParseDOCXRejectsNonArchive(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse([]byte("definitely not a zip"), domain.FileTypeDOCX)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparsable docx content")
}

func TestParsePDFRejectsGarbage(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse([]byte("%PDF-1.7 but truncated"), domain.FileTypePDF)
	require.Error(t, err)

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.ErrKindPermanentService, se.Kind)
}

func TestSnippet(t *testing.T) {
	p := newParser(t)

	t.Run("truncates on rune boundary", func(t *testing.T) {
		text := "héllo wörld, this snippet gets cut"
		got := p.Snippet([]byte(text), domain.FileTypeTXT, 2)
		assert.Equal(t, "h", got, "must not split the é rune")
	})

	t.Run("short text passes through", func(t *testing.T) {
		got := p.Snippet([]byte("short text"), domain.FileTypeTXT, 100)
		assert.Equal(t, "short text", got)
	})

	t.Run("unparsable input yields empty snippet", func(t *testing.T) {
		got := p.Snippet([]byte("not a pdf"), domain.FileTypePDF, 100)
		assert.Empty(t, got)
	})
}

func TestNormalizeWhitespace(t *testing.T) {
	got := normalizeWhitespace("  \n\na\t \nb\r\n\n\n\nc\n  ")
	assert.Equal(t, "a\nb\n\nc", got)
}
