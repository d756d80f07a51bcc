package language

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

const (
	defaultChunkSize      = 4800
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
)

// Chunker translates one bounded chunk of text.
type Chunker interface {
	TranslateChunk(ctx context.Context, text, sourceLang string) (string, error)
}

// Pipeline splits text into chunks the translation service accepts and
// retries each chunk with exponential backoff on transient failures.
// When retries are exhausted the last transient error is surfaced; a
// permanent error aborts immediately.
type Pipeline struct {
	client         Chunker
	chunkSize      int
	maxRetries     int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewPipeline creates a translation pipeline over the given client.
func NewPipeline(client Chunker, chunkSize, maxRetries int, initialBackoff time.Duration, logger *zap.Logger) *Pipeline {
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	return &Pipeline{
		client:         client,
		chunkSize:      chunkSize,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

// Translate translates text to English (implements domain.Translator).
func (p *Pipeline) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	chunks := splitChunks(text, p.chunkSize)

	var sb strings.Builder
	for i, chunk := range chunks {
		translated, err := p.translateWithRetry(ctx, chunk, sourceLang)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sb.WriteString(translated)
	}
	return sb.String(), nil
}

// translateWithRetry attempts one chunk up to maxRetries times, doubling
// the backoff between attempts.
func (p *Pipeline) translateWithRetry(ctx context.Context, chunk, sourceLang string) (string, error) {
	backoff := p.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		translated, err := p.client.TranslateChunk(ctx, chunk, sourceLang)
		if err == nil {
			return translated, nil
		}
		lastErr = err

		var se *domain.StageError
		if !errors.As(err, &se) || !se.Retryable() {
			return "", err
		}
		if attempt == p.maxRetries {
			break
		}

		p.logger.Warn("transient translation failure, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return "", domain.NewTransientServiceError(domain.StatusTranslating, "translation cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", lastErr
}

// splitChunks slices text into pieces of at most size bytes, cutting
// only on rune boundaries so no chunk carries a torn multi-byte
// sequence onto the wire.
func splitChunks(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	for len(text) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			// Not UTF-8 at this position; a byte cut is the best left.
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// Verify that Pipeline implements domain.Translator interface
var _ domain.Translator = (*Pipeline)(nil)
