// Package pipeline drives one uploaded file from Pending to a terminal
// status through the fixed stage order: Scanning, Detecting, Translating
// (skipped for English), Parsing, ExtractingMetadata.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
	"github.com/c-ster/Athena-Ingestion-Module/internal/language"
	"github.com/c-ster/Athena-Ingestion-Module/internal/storage"
)

// detectionSnippetSize bounds how much text language detection sees.
const detectionSnippetSize = 4096

// Config holds the pipeline's policy knobs.
type Config struct {
	// MaxFileSize rejects oversized uploads before any external call.
	MaxFileSize int64
	// ScannerFailOpen treats an unreachable scanner as clean. The
	// default is fail-closed: unavailable means Error, never a silent
	// pass.
	ScannerFailOpen bool
}

// Pipeline sequences the external capabilities for a single record. One
// run owns its record exclusively; the only shared state it touches is
// the registry, the repository and the progress bus.
type Pipeline struct {
	cfg       Config
	store     domain.ContentStore
	scanner   domain.Scanner
	detector  domain.Detector
	translate domain.Translator
	parser    domain.Parser
	extractor domain.Extractor
	repo      domain.RecordRepository
	registry  domain.RecordRegistry
	bus       domain.EventPublisher
	logger    *zap.Logger
}

// New wires a pipeline. All collaborators are required.
func New(
	cfg Config,
	store domain.ContentStore,
	scanner domain.Scanner,
	detector domain.Detector,
	translator domain.Translator,
	parser domain.Parser,
	extractor domain.Extractor,
	repo domain.RecordRepository,
	registry domain.RecordRegistry,
	bus domain.EventPublisher,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		scanner:   scanner,
		detector:  detector,
		translate: translator,
		parser:    parser,
		extractor: extractor,
		repo:      repo,
		registry:  registry,
		bus:       bus,
		logger:    logger,
	}
}

// Run drives rec from Pending to Complete or Error. Stage failures are
// normalized onto the record; the returned error is non-nil only when
// the run was abandoned (context cancelled), in which case the record
// keeps its last-reached status and is never reported Complete.
func (p *Pipeline) Run(ctx context.Context, data []byte, rec *domain.IngestionRecord) (*domain.IngestionRecord, error) {
	log := p.logger.With(
		zap.String("record_id", rec.ID),
		zap.String("filename", rec.OriginalFilename),
	)

	// Validation happens before any external call. A rejected file
	// never sees a Scanning event.
	fileType, ok := domain.ResolveFileType(rec.OriginalFilename)
	if !ok {
		return p.fail(ctx, rec, domain.NewValidationError(
			fmt.Sprintf("unsupported file type %q", rec.OriginalFilename))), nil
	}
	if int64(len(data)) > p.cfg.MaxFileSize {
		return p.fail(ctx, rec, domain.NewValidationError(
			fmt.Sprintf("file exceeds size limit of %d bytes", p.cfg.MaxFileSize))), nil
	}

	// Scanning
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	p.transition(ctx, rec, domain.StatusScanning, "")

	verdict, scanErr := p.scanner.Scan(ctx, data)
	switch verdict {
	case domain.VerdictClean:
	case domain.VerdictInfected:
		// Infected bytes are never persisted to long-term storage.
		return p.fail(ctx, rec, domain.NewSecurityError("malware detected", nil)), nil
	case domain.VerdictUnavailable:
		if !p.cfg.ScannerFailOpen {
			return p.fail(ctx, rec, domain.NewSecurityError("malware scanner unavailable", scanErr)), nil
		}
		log.Warn("scanner unavailable, continuing under fail-open policy", zap.Error(scanErr))
	}

	storedPath, hash, err := p.store.Save(ctx, data, rec.OriginalFilename)
	if err != nil {
		if ctx.Err() != nil {
			return rec, ctx.Err()
		}
		return p.fail(ctx, rec, domain.NewInternalError(domain.StatusScanning, err)), nil
	}
	rec.StoredPath = storedPath

	// Detecting: a heuristic, not a gate. Any failure to parse or to
	// detect reliably assumes English.
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	p.transition(ctx, rec, domain.StatusDetecting, "")

	parsed, parseErr := p.parser.Parse(data, fileType)
	lang := language.English
	if parseErr == nil {
		lang = p.detector.Detect(p.parser.Snippet(data, fileType, detectionSnippetSize))
	}
	log.Debug("language detected", zap.String("language", lang))

	// Translating, entered only for non-English content. Proceeding
	// untranslated would silently corrupt metadata extraction, so
	// retry exhaustion is a hard fail.
	var translatedText string
	if lang != language.English {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		p.transition(ctx, rec, domain.StatusTranslating, "")

		translatedText, err = p.translate.Translate(ctx, parsed.Text, lang)
		if err != nil {
			if ctx.Err() != nil {
				return rec, ctx.Err()
			}
			se := domain.AsStageError(err, domain.StatusTranslating)
			return p.fail(ctx, rec, &domain.StageError{
				Kind:  se.Kind,
				Stage: domain.StatusTranslating,
				Msg:   "translation failed",
				Err:   err,
			}), nil
		}

		translatedPath, err := p.store.SaveDerived(ctx, []byte(translatedText), rec.OriginalFilename, storage.TranslatedSuffix)
		if err != nil {
			if ctx.Err() != nil {
				return rec, ctx.Err()
			}
			return p.fail(ctx, rec, domain.NewInternalError(domain.StatusTranslating, err)), nil
		}
		rec.TranslatedPath = translatedPath
	}

	// Parsing
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	p.transition(ctx, rec, domain.StatusParsing, "")

	if parseErr != nil {
		return p.fail(ctx, rec, domain.AsStageError(parseErr, domain.StatusParsing)), nil
	}
	text := parsed.Text
	if translatedText != "" {
		text = translatedText
	}

	// ExtractingMetadata never fails the record; it degrades to
	// whatever the template fallback could fill.
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	p.transition(ctx, rec, domain.StatusExtractingMetadata, "")

	meta := p.extractor.Extract(ctx, text, parsed.Properties)
	if meta == nil {
		meta = &domain.Metadata{}
	}
	if meta.Title == "" {
		meta.Title = stemOf(rec.OriginalFilename)
	}
	meta.SourceLanguage = lang
	meta.IngestionDate = time.Now().UTC()
	meta.DocumentHash = hash
	rec.Metadata = meta

	// Complete, even with partially populated metadata.
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	if err := p.finalize(ctx, rec, domain.StatusComplete, ""); err != nil {
		log.Error("failed to persist completed record", zap.Error(err))
	}

	log.Info("ingestion complete",
		zap.String("language", lang),
		zap.Bool("translated", rec.TranslatedPath != ""),
	)
	return rec, nil
}

// transition moves the record to a non-terminal status: registry
// snapshot first, then the event. An observer can therefore never see an
// event for a status the record has not reached.
func (p *Pipeline) transition(ctx context.Context, rec *domain.IngestionRecord, status domain.Status, detail string) {
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if err := p.registry.Set(ctx, rec); err != nil {
		p.logger.Warn("failed to update registry snapshot",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
	p.bus.Publish(domain.IngestionEvent{
		RecordID: rec.ID,
		Filename: rec.OriginalFilename,
		Status:   status,
		Detail:   detail,
	})
}

// finalize moves the record to a terminal status and persists it in one
// atomic write before the event goes out.
func (p *Pipeline) finalize(ctx context.Context, rec *domain.IngestionRecord, status domain.Status, detail string) error {
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()

	// Persistence must not be lost to the same cancellation that is
	// abandoning the run.
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if err := p.registry.Set(persistCtx, rec); err != nil {
		p.logger.Warn("failed to update registry snapshot",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
	saveErr := p.repo.Save(persistCtx, rec)

	p.bus.Publish(domain.IngestionEvent{
		RecordID: rec.ID,
		Filename: rec.OriginalFilename,
		Status:   status,
		Detail:   detail,
	})
	return saveErr
}

// fail normalizes a stage error onto the record and finalizes it.
func (p *Pipeline) fail(ctx context.Context, rec *domain.IngestionRecord, se *domain.StageError) *domain.IngestionRecord {
	rec.ErrorDetail = se.Detail()

	p.logger.Warn("ingestion failed",
		zap.String("record_id", rec.ID),
		zap.String("filename", rec.OriginalFilename),
		zap.String("stage", string(se.Stage)),
		zap.String("kind", string(se.Kind)),
		zap.Error(se),
	)

	if err := p.finalize(ctx, rec, domain.StatusError, rec.ErrorDetail); err != nil {
		p.logger.Error("failed to persist failed record",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
	return rec
}

func stemOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[:i]
		}
	}
	return filename
}
