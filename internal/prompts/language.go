package prompts

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pemistahl/lingua-go"
)

// Language identifies a detected language.
type Language struct {
	Name string
	Code string
}

// Detector guesses the language of item inputs among a fixed candidate set.
type Detector struct {
	detector lingua.LanguageDetector
	fallback Language
}

// NewDetector builds a detector over the named languages (e.g. "English",
// "German"). At least two candidates are required. The first candidate is the
// fallback when detection is inconclusive.
func NewDetector(names []string) (*Detector, error) {
	if len(names) < 2 {
		return nil, errors.Newf("language detection needs at least two candidate languages, got %d", len(names))
	}
	languages := make([]lingua.Language, 0, len(names))
	for _, name := range names {
		language, ok := lookupLanguage(name)
		if !ok {
			return nil, errors.Newf("unknown language %q", name)
		}
		languages = append(languages, language)
	}
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().FromLanguages(languages...).Build(),
		fallback: describe(languages[0]),
	}, nil
}

// Detect returns the most likely language of text, or the fallback.
func (d *Detector) Detect(text string) Language {
	if d == nil {
		return Language{}
	}
	if strings.TrimSpace(text) == "" {
		return d.fallback
	}
	language, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return d.fallback
	}
	return describe(language)
}

func lookupLanguage(name string) (lingua.Language, bool) {
	trimmed := strings.TrimSpace(name)
	for _, language := range lingua.AllLanguages() {
		if strings.EqualFold(language.String(), trimmed) || strings.EqualFold(language.IsoCode639_1().String(), trimmed) {
			return language, true
		}
	}
	return lingua.Unknown, false
}

func describe(language lingua.Language) Language {
	return Language{
		Name: language.String(),
		Code: strings.ToLower(language.IsoCode639_1().String()),
	}
}
