package language

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

// English is the pipeline's target language. Detection defaults to it on
// ambiguous input, and translation is skipped when it is detected.
const English = "en"

// minDetectionLength is the floor below which detection is considered a
// guess rather than a signal.
const minDetectionLength = 20

// WhatlangDetector detects the source language of extracted text. It is
// a heuristic, not a gate: any doubt resolves to English.
type WhatlangDetector struct{}

// NewWhatlangDetector returns a detector.
func NewWhatlangDetector() *WhatlangDetector {
	return &WhatlangDetector{}
}

// Detect returns an ISO 639-1 code where one exists, otherwise the ISO
// 639-3 code (implements domain.Detector). Never errors.
func (d *WhatlangDetector) Detect(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minDetectionLength {
		return English
	}

	info := whatlanggo.Detect(trimmed)
	if info.Script == nil {
		return English
	}
	// Trigram confidence discriminates between languages sharing a
	// script, so the reliability gate matters for Latin text. A
	// non-Latin script is a strong signal on its own and the same gate
	// would reject clear Cyrillic or CJK samples.
	if info.Script == unicode.Latin && !info.IsReliable() {
		return English
	}

	code := whatlanggo.LangToString(info.Lang)
	if code == "" {
		return English
	}
	if short, ok := iso1[code]; ok {
		return short
	}
	return code
}

// iso1 maps the detector's ISO 639-3 output to the two-letter codes the
// translation service expects, for the languages it covers.
var iso1 = map[string]string{
	"eng": "en",
	"fra": "fr",
	"deu": "de",
	"spa": "es",
	"ita": "it",
	"por": "pt",
	"nld": "nl",
	"rus": "ru",
	"ukr": "uk",
	"pol": "pl",
	"ces": "cs",
	"swe": "sv",
	"dan": "da",
	"nob": "nb",
	"fin": "fi",
	"ell": "el",
	"tur": "tr",
	"arb": "ar",
	"heb": "he",
	"hin": "hi",
	"ben": "bn",
	"cmn": "zh",
	"jpn": "ja",
	"kor": "ko",
	"vie": "vi",
	"tha": "th",
	"ind": "id",
	"ron": "ro",
	"hun": "hu",
	"bul": "bg",
	"srp": "sr",
	"hrv": "hr",
	"slk": "sk",
	"slv": "sl",
	"lit": "lt",
	"lav": "lv",
	"est": "et",
	"pes": "fa",
	"urd": "ur",
	"cat": "ca",
}

// Verify that WhatlangDetector implements domain.Detector interface
var _ domain.Detector = (*WhatlangDetector)(nil)
