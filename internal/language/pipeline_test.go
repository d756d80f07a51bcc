package language

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// translatorServer fakes the Microsoft Translator v3 wire format.
func translatorServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := &Client{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Region:     "westeurope",
		HTTPClient: srv.Client(),
	}
	return srv, client
}

func translationPayload(text string) []byte {
	payload := []map[string]interface{}{
		{"translations": []map[string]string{{"text": text, "to": "en"}}},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestClientTranslateChunk(t *testing.T) {
	var gotFrom, gotKey, gotRegion, gotTrace string
	_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("from")
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotRegion = r.Header.Get("Ocp-Apim-Subscription-Region")
		gotTrace = r.Header.Get("X-ClientTraceId")
		assert.Equal(t, "en", r.URL.Query().Get("to"))
		assert.Equal(t, "3.0", r.URL.Query().Get("api-version"))
		w.Write(translationPayload("Hello world"))
	})

	got, err := client.TranslateChunk(context.Background(), "Bonjour le monde", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
	assert.Equal(t, "fr", gotFrom)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "westeurope", gotRegion)
	assert.NotEmpty(t, gotTrace)
}

func TestClientClassifiesErrors(t *testing.T) {
	t.Run("429 is transient", func(t *testing.T) {
		_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := client.TranslateChunk(context.Background(), "text", "fr")
		var se *domain.StageError
		require.ErrorAs(t, err, &se)
		assert.True(t, se.Retryable())
	})

	t.Run("500 is transient", func(t *testing.T) {
		_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := client.TranslateChunk(context.Background(), "text", "fr")
		var se *domain.StageError
		require.ErrorAs(t, err, &se)
		assert.True(t, se.Retryable())
	})

	t.Run("400 is permanent", func(t *testing.T) {
		_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400036,"message":"The target language is not valid."}}`))
		})
		_, err := client.TranslateChunk(context.Background(), "text", "xx")
		var se *domain.StageError
		require.ErrorAs(t, err, &se)
		assert.False(t, se.Retryable())
		assert.Contains(t, se.Msg, "not valid")
	})

	t.Run("missing key is permanent", func(t *testing.T) {
		client := &Client{Endpoint: "http://localhost:1"}
		_, err := client.TranslateChunk(context.Background(), "text", "fr")
		var se *domain.StageError
		require.ErrorAs(t, err, &se)
		assert.False(t, se.Retryable())
	})
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(translationPayload("translated"))
	})

	p := NewPipeline(client, 4800, 3, time.Millisecond, zaptest.NewLogger(t))
	got, err := p.Translate(context.Background(), "source text", "fr")
	require.NoError(t, err)
	assert.Equal(t, "translated", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPipelineGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	p := NewPipeline(client, 4800, 3, time.Millisecond, zaptest.NewLogger(t))
	_, err := p.Translate(context.Background(), "source text", "fr")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable(), "exhaustion surfaces the last transient error")
}

func TestPipelineDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	p := NewPipeline(client, 4800, 3, time.Millisecond, zaptest.NewLogger(t))
	_, err := p.Translate(context.Background(), "source text", "xx")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors must abort immediately")
}

func TestPipelineSplitsLongText(t *testing.T) {
	var calls atomic.Int32
	_, client := translatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var reqs []struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		require.Len(t, reqs, 1)
		assert.LessOrEqual(t, len(reqs[0].Text), 10)
		w.Write(translationPayload(strings.ToUpper(reqs[0].Text)))
	})

	p := NewPipeline(client, 10, 3, time.Millisecond, zaptest.NewLogger(t))
	got, err := p.Translate(context.Background(), "abcdefghijklmnopqrstuvwx", "fr")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWX", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 10))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, splitChunks("abcdefghij", 4))
	assert.Equal(t, []string{"abcd"}, splitChunks("abcd", 4))
	assert.Equal(t, []string{""}, splitChunks("", 4))
}

// TestSplitChunksKeepsRunesIntact puts a multi-byte rune on every chunk
// boundary; the cut must back up rather than tear it.
func TestSplitChunksKeepsRunesIntact(t *testing.T) {
	text := "aaaaaé" + "ббббб" + "wwwww"
	chunks := splitChunks(text, 6)

	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8: %q", i, c)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
