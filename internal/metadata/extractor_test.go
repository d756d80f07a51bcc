package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

const paperText = `Adaptive Load Shedding in Stream Processors

M. Rivera; K. Chen and T. Okafor

Abstract
Stream processors shed load when input rates exceed capacity. We propose
an adaptive controller that sheds tuples according to downstream latency
targets rather than fixed thresholds, and evaluate it on three workloads.

1. Introduction
Load shedding has been studied extensively. Latency targets shift with
workload composition, and shedding controller decisions must track them.
The controller observes latency and adjusts shedding rates. Latency
measurements feed the controller loop continuously during shedding.
`

// chatServer fakes an OpenAI-compatible chat completion endpoint.
func chatServer(t *testing.T, fields Fields) *NLPClient {
	t.Helper()

	content, err := json.Marshal(fields)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": string(content)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return &NLPClient{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "test-model",
		HTTPClient: srv.Client(),
	}
}

// failingNLP always errors, forcing the template fallback.
type failingNLP struct{}

func (failingNLP) Extract(ctx context.Context, text string) (*Fields, error) {
	return nil, errors.New("model unavailable")
}

func TestExtractorUsesNLPFields(t *testing.T) {
	nlp := chatServer(t, Fields{
		Title:           "Adaptive Load Shedding in Stream Processors",
		Authors:         []string{"M. Rivera", "K. Chen", "T. Okafor"},
		Abstract:        "An adaptive controller sheds load by latency target.",
		PublicationDate: "2024-03-01",
		Keywords:        []string{"load shedding", "stream processing", "latency"},
	})
	e := NewExtractor(nlp, zaptest.NewLogger(t))

	meta := e.Extract(context.Background(), paperText, domain.EmbeddedProperties{})
	require.NotNil(t, meta)
	assert.Equal(t, "Adaptive Load Shedding in Stream Processors", meta.Title)
	assert.Equal(t, []string{"M. Rivera", "K. Chen", "T. Okafor"}, meta.Authors)
	assert.Equal(t, "2024-03-01", meta.PublicationDate)
	assert.Equal(t, []string{"load shedding", "stream processing", "latency"}, meta.Keywords)
}

func TestExtractorFallsBackWhenNLPFails(t *testing.T) {
	e := NewExtractor(failingNLP{}, zaptest.NewLogger(t))

	meta := e.Extract(context.Background(), paperText, domain.EmbeddedProperties{})
	require.NotNil(t, meta)

	assert.Equal(t, "Adaptive Load Shedding in Stream Processors", meta.Title)
	assert.Equal(t, []string{"No Authors"}, meta.Authors)
	assert.Contains(t, meta.Abstract, "adaptive")
	assert.NotEmpty(t, meta.Keywords)
	assert.NotContains(t, meta.Keywords, "the")
}

func TestExtractorNeverReturnsEmptyDefaults(t *testing.T) {
	e := NewExtractor(nil, zaptest.NewLogger(t))

	meta := e.Extract(context.Background(), "tiny", domain.EmbeddedProperties{})
	require.NotNil(t, meta)
	assert.Equal(t, []string{"No Authors"}, meta.Authors)
	assert.Equal(t, []string{"general"}, meta.Keywords)
}

func TestExtractorUsesEmbeddedProperties(t *testing.T) {
	e := NewExtractor(nil, zaptest.NewLogger(t))

	props := domain.EmbeddedProperties{
		Title:        "Embedded Title",
		Author:       "A. First; B. Second and C. Third",
		CreationDate: "D:20210415120000Z",
	}
	meta := e.Extract(context.Background(), "", props)
	require.NotNil(t, meta)
	assert.Equal(t, "Embedded Title", meta.Title)
	assert.Equal(t, []string{"A. First", "B. Second", "C. Third"}, meta.Authors)
	assert.Equal(t, "2021", meta.PublicationDate)
}

func TestExtractorSkipsNLPForTinyDocuments(t *testing.T) {
	// The chat server would fail the test on an unexpected call.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("NLP called for a near-empty document")
	}))
	t.Cleanup(srv.Close)

	nlp := &NLPClient{BaseURL: srv.URL, Model: "test-model", HTTPClient: srv.Client()}
	e := NewExtractor(nlp, zaptest.NewLogger(t))

	meta := e.Extract(context.Background(), "only four words here", domain.EmbeddedProperties{})
	require.NotNil(t, meta)
}

func TestSplitAuthors(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, splitAuthors("A, B and C"))
	assert.Equal(t, []string{"A", "B"}, splitAuthors("A; B"))
	assert.Equal(t, []string{"A", "B"}, splitAuthors("A & B"))
	assert.Nil(t, splitAuthors("  "))
}

func TestAbstractSection(t *testing.T) {
	got := abstractSection(paperText)
	assert.Contains(t, got, "adaptive controller")
	assert.NotContains(t, got, "Introduction")

	assert.Empty(t, abstractSection("No such section anywhere in this text."))
}

// TestAbstractSectionLong keeps the pattern within Go's repeat-count
// limit: compiling is exercised at package init, and a several-hundred
// word section still matches.
func TestAbstractSectionLong(t *testing.T) {
	body := strings.TrimSpace(strings.Repeat("measured behavior under load ", 30))
	text := "Abstract\n" + body + "\n\n1. Introduction\nThe rest of the paper.\n"

	got := abstractSection(text)
	assert.Contains(t, got, "measured behavior under load")
	assert.NotContains(t, got, "Introduction")
}

func TestPublicationYear(t *testing.T) {
	assert.Equal(t, "2023-04-01", publicationYear("2023-04-01T10:00:00Z"))
	assert.Equal(t, "2019", publicationYear("D:20190704120000Z"))
	assert.Empty(t, publicationYear(""))
	assert.Empty(t, publicationYear("no year here"))
}

func TestFrequencyKeywords(t *testing.T) {
	text := "latency latency latency shedding shedding controller controller the the the once"
	got := frequencyKeywords(text, 10)
	assert.Equal(t, []string{"latency", "controller", "shedding"}, got)
}
