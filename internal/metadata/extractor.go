package metadata

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// minNLPWords is the floor below which the NLP call is skipped outright:
// the model cannot say anything useful about a near-empty document.
const minNLPWords = 10

// NLP is the capability Extractor consults first.
type NLP interface {
	Extract(ctx context.Context, text string) (*Fields, error)
}

// Extractor derives structured metadata from parsed text. NLP runs
// first; every field it leaves empty falls back to template rules and
// embedded document properties. Extraction never fails a record; the
// result is at worst sparse.
type Extractor struct {
	nlp    NLP
	logger *zap.Logger
}

// NewExtractor creates an extractor. nlp may be nil, in which case only
// the template fallback runs.
func NewExtractor(nlp NLP, logger *zap.Logger) *Extractor {
	return &Extractor{nlp: nlp, logger: logger}
}

// Extract derives metadata from text and embedded properties (implements
// domain.Extractor).
func (e *Extractor) Extract(ctx context.Context, text string, props domain.EmbeddedProperties) *domain.Metadata {
	meta := &domain.Metadata{}

	if e.nlp != nil && wordCount(text) >= minNLPWords {
		fields, err := e.nlp.Extract(ctx, text)
		if err != nil {
			e.logger.Warn("NLP extraction failed, using template fallback", zap.Error(err))
		} else {
			meta.Title = strings.TrimSpace(fields.Title)
			meta.Authors = cleanList(fields.Authors)
			meta.Abstract = strings.TrimSpace(fields.Abstract)
			meta.PublicationDate = strings.TrimSpace(fields.PublicationDate)
			meta.Keywords = cleanList(fields.Keywords)
		}
	}

	// Template fallback for whatever is still empty.
	if meta.Title == "" {
		meta.Title = firstNonEmpty(strings.TrimSpace(props.Title), headingTitle(text))
	}
	if len(meta.Authors) == 0 {
		meta.Authors = splitAuthors(props.Author)
	}
	if len(meta.Authors) == 0 {
		meta.Authors = []string{"No Authors"}
	}
	if meta.Abstract == "" {
		meta.Abstract = abstractSection(text)
	}
	if meta.PublicationDate == "" {
		meta.PublicationDate = publicationYear(props.CreationDate)
	}
	if len(meta.Keywords) == 0 {
		meta.Keywords = frequencyKeywords(text, 10)
	}
	if len(meta.Keywords) == 0 {
		meta.Keywords = []string{"general"}
	}

	return meta
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// headingTitle takes the first short, non-numeric line as a title guess.
func headingTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 200 {
			break // body text, not a heading
		}
		return line
	}
	return ""
}

// Go's regexp rejects repeat counts above 1000, so the capture is
// bounded there; an unbroken section longer than that is treated as
// body text rather than an abstract.
var abstractRe = regexp.MustCompile(`(?is)\babstract\b[:.\s]*\n?(.{40,1000}?)(\n\s*\n|\n\s*(?:1\.|I\.|introduction\b)|$)`)

// abstractSection finds an explicit "Abstract" section in the text.
func abstractSection(text string) string {
	m := abstractRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(m[1]), " ")
}

var yearRe = regexp.MustCompile(`(19|20)\d{2}`)

// publicationYear pulls a plausible year out of an embedded creation
// date, which may be a PDF "D:YYYYMMDD..." stamp or an ISO timestamp.
func publicationYear(creationDate string) string {
	if creationDate == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, creationDate); err == nil {
		return t.Format("2006-01-02")
	}
	if m := yearRe.FindString(creationDate); m != "" {
		return m
	}
	return ""
}

// splitAuthors breaks an embedded author string on the usual separators.
func splitAuthors(author string) []string {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil
	}
	parts := regexp.MustCompile(`\s*(?:;|,|\band\b|&)\s*`).Split(author, -1)
	return cleanList(parts)
}

func cleanList(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// stopwords excluded from the frequency-based keyword fallback.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "with": {}, "that": {},
	"this": {}, "from": {}, "was": {}, "were": {}, "have": {}, "has": {},
	"been": {}, "can": {}, "which": {}, "their": {}, "its": {}, "our": {},
	"als": {}, "not": {}, "but": {}, "all": {}, "also": {}, "these": {},
	"such": {}, "than": {}, "into": {}, "more": {}, "other": {}, "upon": {},
	"may": {}, "between": {}, "using": {}, "used": {}, "based": {},
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z-]{3,}`)

// frequencyKeywords is the no-NLP fallback: the most frequent
// non-stopword terms, most frequent first.
func frequencyKeywords(text string, top int) []string {
	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, skip := stopwords[w]; skip {
			continue
		}
		counts[w]++
	}

	type kw struct {
		word  string
		count int
	}
	ranked := make([]kw, 0, len(counts))
	for w, c := range counts {
		if c > 1 {
			ranked = append(ranked, kw{w, c})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > top {
		ranked = ranked[:top]
	}
	out := make([]string, len(ranked))
	for i, k := range ranked {
		out[i] = k.word
	}
	return out
}

// Verify that Extractor implements domain.Extractor interface
var _ domain.Extractor = (*Extractor)(nil)
