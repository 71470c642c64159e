// Package validate checks parsed documents against a Schema and scores them.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/document"
)

// ErrHardReject marks a document that must never be persisted.
var ErrHardReject = errors.New("structural validation failed")

const rawSectionCredit = 0.5

// Report is the outcome of Validate.
type Report struct {
	Valid        bool
	Issues       []string
	HardReject   bool
	QualityScore float64
}

// Err returns nil unless the report is a hard reject.
func (r Report) Err() error {
	if !r.HardReject {
		return nil
	}
	return errors.WithDetail(ErrHardReject, strings.Join(r.Issues, "; "))
}

type validation struct {
	report Report
}

func (v *validation) soft(format string, args ...any) {
	v.report.Issues = append(v.report.Issues, fmt.Sprintf(format, args...))
}

func (v *validation) hard(format string, args ...any) {
	v.report.HardReject = true
	v.soft(format, args...)
}

// Validate checks doc against schema. It never fails; problems are reported.
func Validate(doc document.Document, schema Schema) Report {
	v := &validation{}

	checkSections(v, doc, schema.Sections)
	for _, limit := range schema.Limits {
		if count := document.Count(doc.Lookup(limit.Path)); limit.Max > 0 && count > limit.Max {
			v.soft("%s has %d entries, more than %d", limit.Path, count, limit.Max)
		}
	}
	for _, marker := range schema.Markers {
		count := countMarkers(doc.Lookup(marker.Path), marker.Selector)
		if count < marker.Min || (marker.Max > 0 && count > marker.Max) {
			v.hard("%s has %d structural markers, outside [%d, %d]", marker.Path, count, marker.Min, marker.Max)
		}
	}
	for _, rule := range schema.Unique {
		for _, duplicate := range duplicates(doc.Lookup(rule.Path), rule) {
			v.soft("duplicate entry %q in %s", duplicate, rule.Path)
		}
	}

	v.report.QualityScore = qualityScore(doc, schema)
	v.report.Valid = len(v.report.Issues) == 0
	return v.report
}

func checkSections(v *validation, doc document.Document, sections []Section) {
	for _, section := range sections {
		value := doc.Section(section.Name)
		switch value.Kind() {
		case document.KindMissing:
			switch {
			case section.Structural:
				v.hard("missing structural section %q", section.Name)
			case section.Required:
				v.soft("missing required section %q", section.Name)
			}
			continue
		case document.KindRaw:
			v.soft("section %q could only be kept as raw text", section.Name)
			continue
		}
		if expected, ok := document.ParseKind(section.Kind); ok && value.Kind() != expected {
			v.soft("section %q is a %s, expected %s", section.Name, value.Kind(), expected)
		}
	}
}

func countMarkers(value document.Value, selector string) int {
	switch typed := value.(type) {
	case document.List:
		return len(typed)
	case *document.Map:
		return typed.Len()
	case document.Scalar, document.Raw:
		return selectHTML(document.Text(typed, ""), selector).Length()
	default:
		return 0
	}
}

func selectHTML(html string, selector string) *goquery.Selection {
	if selector == "" {
		selector = DefaultMarkerSelector
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &goquery.Selection{}
	}
	return parsed.Find(selector)
}

func duplicates(value document.Value, rule UniqueRule) []string {
	var entries []string
	switch typed := value.(type) {
	case document.List:
		for _, entry := range typed {
			entries = append(entries, document.Text(entry, rule.Field))
		}
	case document.Scalar, document.Raw:
		selectHTML(document.Text(typed, ""), rule.Selector).Each(func(_ int, selection *goquery.Selection) {
			entries = append(entries, selection.Text())
		})
	}

	seen := make(map[string]int, len(entries))
	var repeated []string
	for _, entry := range entries {
		normalized := strings.ToLower(strings.TrimSpace(entry))
		if normalized == "" {
			continue
		}
		seen[normalized]++
		if seen[normalized] == 2 {
			repeated = append(repeated, strings.TrimSpace(entry))
		}
	}
	return repeated
}

func qualityScore(doc document.Document, schema Schema) float64 {
	required := schema.RequiredNames()
	if len(required) == 0 {
		required = schema.SectionNames()
	}
	if len(required) == 0 {
		return 1
	}

	var earned float64
	for _, name := range required {
		value := doc.Section(name)
		if document.IsEmpty(value) {
			continue
		}
		if value.Kind() == document.KindRaw {
			earned += rawSectionCredit
			continue
		}
		earned++
	}
	for _, bonus := range schema.Bonuses {
		if bonusSatisfied(doc.Lookup(bonus.Path), bonus.MinCount) {
			earned += bonus.Weight
		}
	}

	score := earned / float64(len(required))
	return math.Min(1, math.Round(score*1000)/1000)
}

func bonusSatisfied(value document.Value, minCount int) bool {
	if minCount <= 0 {
		return !document.IsEmpty(value) && value.Kind() != document.KindRaw
	}
	return document.Count(value) >= minCount
}
