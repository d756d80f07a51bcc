package domain

import "context"

// ContentStore defines the interface for persisting raw uploaded bytes
// and derived artifacts.
type ContentStore interface {
	// Save persists original bytes to the long-term area. Called only
	// after a clean scan verdict. Returns the stored path and the
	// content hash.
	Save(ctx context.Context, data []byte, filename string) (path, hash string, err error)

	// SaveDerived persists a derived artifact (translated copy) next to
	// the original.
	SaveDerived(ctx context.Context, data []byte, filename, suffix string) (path string, err error)

	// Read returns the bytes stored at path.
	Read(ctx context.Context, path string) ([]byte, error)
}

// Scanner defines the interface for the malware-scanning capability.
type Scanner interface {
	// Scan submits bytes and returns a verdict. An unreachable scanner
	// yields VerdictUnavailable, never a silent clean.
	Scan(ctx context.Context, data []byte) (Verdict, error)
}

// Detector defines the interface for source-language detection.
type Detector interface {
	// Detect returns an ISO 639-1 language code. Best-effort: ambiguous
	// or too-short input yields "en", never an error.
	Detect(text string) string
}

// Translator defines the interface for the translation capability.
// Errors distinguish retryable (network, quota) from permanent
// (unsupported language) failures via StageError.Retryable.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

// Parser defines the interface for per-type text extraction.
type Parser interface {
	// Parse extracts text and embedded properties from the document.
	Parse(data []byte, fileType FileType) (*ParseResult, error)

	// Snippet extracts up to max bytes of text on a best-effort fast
	// path, for language detection only.
	Snippet(data []byte, fileType FileType, max int) string
}

// Extractor defines the interface for structured metadata extraction.
type Extractor interface {
	// Extract derives metadata from parsed text and embedded
	// properties. Never fails; fields it cannot fill stay empty.
	Extract(ctx context.Context, text string, props EmbeddedProperties) *Metadata
}

// EventPublisher defines the publishing half of the progress bus.
type EventPublisher interface {
	// Publish fans an event out to live observers. Non-blocking; a
	// slow or absent observer never stalls the caller.
	Publish(event IngestionEvent)
}
