package parser

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/document"
)

const (
	StrategyDirect    = "direct"
	StrategySanitized = "sanitized"
	StrategyAlternate = "alternate"
	StrategySalvage   = "salvage"
)

type directStrategy struct{ format Format }

// Direct parses the text as the target format.
func Direct(format Format) Strategy { return directStrategy{format: format} }

func (directStrategy) Name() string { return StrategyDirect }

func (s directStrategy) TryParse(raw string) (document.Document, error) {
	return decode(s.format, raw)
}

type sanitizedStrategy struct{ format Format }

// Sanitized repairs common generator mistakes and reparses as the target format.
func Sanitized(format Format) Strategy { return sanitizedStrategy{format: format} }

func (sanitizedStrategy) Name() string { return StrategySanitized }

func (s sanitizedStrategy) TryParse(raw string) (document.Document, error) {
	if s.format == FormatJSON {
		return decode(FormatJSON, SanitizeJSON(raw))
	}
	return decode(FormatYAML, SanitizeYAML(raw))
}

type alternateStrategy struct{ format Format }

// Alternate parses the text as the other format.
func Alternate(format Format) Strategy { return alternateStrategy{format: format.Alternate()} }

func (alternateStrategy) Name() string { return StrategyAlternate }

func (s alternateStrategy) TryParse(raw string) (document.Document, error) {
	return decode(s.format, raw)
}

type salvageStrategy struct {
	sections []string
	required []string
}

// Salvage parses each top-level section on its own. Sections that still fail
// are kept as document.Raw. The result is accepted when at least half of the
// required sections parsed.
func Salvage(sections []string, required []string) Strategy {
	if len(sections) == 0 {
		sections = required
	}
	if len(required) == 0 {
		required = sections
	}
	return salvageStrategy{sections: sections, required: required}
}

func (salvageStrategy) Name() string { return StrategySalvage }

func (s salvageStrategy) TryParse(raw string) (document.Document, error) {
	if len(s.sections) == 0 {
		return document.Document{}, errors.New("no sections configured")
	}

	lines := strings.Split(raw, "\n")
	starts := make(map[int]string)
	for _, section := range s.sections {
		header := regexp.MustCompile(`^` + regexp.QuoteMeta(section) + `:(\s.*)?$`)
		for index, line := range lines {
			if _, taken := starts[index]; taken {
				continue
			}
			if header.MatchString(strings.TrimRight(line, " \t\r")) {
				starts[index] = section
				break
			}
		}
	}
	if len(starts) == 0 {
		return document.Document{}, errors.New("no section headers found")
	}

	doc := document.New()
	for index := 0; index < len(lines); index++ {
		section, ok := starts[index]
		if !ok {
			continue
		}
		end := index + 1
		for end < len(lines) {
			if _, next := starts[end]; next {
				break
			}
			end++
		}
		doc.Set(section, parseSlice(section, lines[index:end]))
	}

	parsed := 0
	for _, name := range s.required {
		value := doc.Section(name)
		if value.Kind() != document.KindMissing && value.Kind() != document.KindRaw {
			parsed++
		}
	}
	if parsed*2 < len(s.required) {
		return document.Document{}, errors.Newf("only %d of %d required sections parsed", parsed, len(s.required))
	}
	return doc, nil
}

func parseSlice(section string, lines []string) document.Value {
	text := strings.Join(lines, "\n")
	var lastErr error
	for _, candidate := range []string{text, SanitizeYAML(text)} {
		doc, err := decode(FormatYAML, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if doc.Has(section) {
			return doc.Section(section)
		}
		lastErr = errors.Newf("section %q not found in slice", section)
	}
	body := strings.Join(lines[1:], "\n")
	if header := strings.TrimSpace(strings.TrimPrefix(lines[0], section+":")); header != "" {
		body = strings.TrimSpace(header + "\n" + body)
	}
	return document.Raw{Text: body, Cause: lastErr.Error()}
}
