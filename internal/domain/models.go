package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the processing state of an ingestion record.
// Transitions are monotonic along the fixed stage order; the only stage
// that may be skipped is Translating (English input).
type Status string

const (
	StatusPending            Status = "Pending"
	StatusScanning           Status = "Scanning"
	StatusDetecting          Status = "Detecting"
	StatusTranslating        Status = "Translating"
	StatusParsing            Status = "Parsing"
	StatusExtractingMetadata Status = "ExtractingMetadata"
	StatusComplete           Status = "Complete"
	StatusError              Status = "Error"
)

// statusRank fixes the stage order. Error is reachable from any
// non-terminal stage and ranks alongside Complete.
var statusRank = map[Status]int{
	StatusPending:            0,
	StatusScanning:           1,
	StatusDetecting:          2,
	StatusTranslating:        3,
	StatusParsing:            4,
	StatusExtractingMetadata: 5,
	StatusComplete:           6,
	StatusError:              6,
}

// Rank returns the position of the status in the stage order.
// Unknown statuses rank below Pending.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// FileType is the closed set of supported document types, resolved once
// from the filename extension at pipeline entry.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeDOCX  FileType = "docx"
	FileTypeTXT   FileType = "txt"
	FileTypeLaTeX FileType = "tex"
	FileTypeHTML  FileType = "html"
	FileTypeXML   FileType = "xml"
)

// ResolveFileType maps a filename to its FileType.
// Returns false for anything outside the supported set.
func ResolveFileType(filename string) (FileType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF, true
	case ".docx":
		return FileTypeDOCX, true
	case ".txt":
		return FileTypeTXT, true
	case ".tex":
		return FileTypeLaTeX, true
	case ".html", ".htm":
		return FileTypeHTML, true
	case ".xml":
		return FileTypeXML, true
	default:
		return "", false
	}
}

// Metadata holds the bibliographic fields derived for a document.
// Fields may be sparse; extraction degrades gracefully.
type Metadata struct {
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Abstract        string    `json:"abstract,omitempty"`
	PublicationDate string    `json:"publication_date,omitempty"`
	Keywords        []string  `json:"keywords"`
	SourceLanguage  string    `json:"source_language"`
	IngestionDate   time.Time `json:"ingestion_date"`
	DocumentHash    string    `json:"document_hash"`
}

// EmbeddedProperties are document properties read from the file container
// (PDF Info dictionary, DOCX core properties). Used as fallback metadata.
type EmbeddedProperties struct {
	Title        string
	Author       string
	Subject      string
	CreationDate string
}

// IngestionRecord is the persistent state of one uploaded file.
// Exactly one pipeline run owns and mutates a record at a time.
type IngestionRecord struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoredPath       string    `json:"stored_path,omitempty"`
	Status           Status    `json:"status"`
	TranslatedPath   string    `json:"translated_path,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy, safe to hand to observers while the owning
// run keeps mutating the original.
func (r *IngestionRecord) Clone() *IngestionRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Metadata != nil {
		m := *r.Metadata
		m.Authors = append([]string(nil), r.Metadata.Authors...)
		m.Keywords = append([]string(nil), r.Metadata.Keywords...)
		cp.Metadata = &m
	}
	return &cp
}

// IngestionEvent is the ephemeral notification emitted at every status
// transition. Events are best-effort; the record is the source of truth.
type IngestionEvent struct {
	RecordID string `json:"record_id"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// ParseResult is the output of the document parser for one file.
type ParseResult struct {
	Text       string
	Properties EmbeddedProperties
}

// Verdict is the outcome of a malware scan.
type Verdict int

const (
	VerdictClean Verdict = iota
	VerdictInfected
	VerdictUnavailable
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictInfected:
		return "infected"
	default:
		return "unavailable"
	}
}
