// Package refine applies the decisions of an analysis pass to a persisted
// document, producing a refined derivative.
package refine

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/document"
	"github.com/temirov/genbatch/internal/parser"
)

// Decision actions.
const (
	ActionRemove    = "remove"
	ActionModify    = "modify"
	ActionNotChange = "not_change"
)

// Target modes.
const (
	ModeHTML = "html"
	ModeList = "list"
)

// ErrNoDecisions is returned when the analysis text holds no usable decisions.
var ErrNoDecisions = errors.New("analysis contains no decisions")

// Decision is one verdict about an entry, matched case-insensitively by Text.
type Decision struct {
	Text   string
	Action string
	Final  string
}

// Target says where decisions apply: text with HTML headings, or a list.
type Target struct {
	Path  string `yaml:"path"`
	Mode  string `yaml:"mode"`
	Field string `yaml:"field,omitempty"`
}

// Summary counts what Apply changed.
type Summary struct {
	Removed  int
	Modified int
	Kept     int
}

var headingLine = regexp.MustCompile(`(?i)^<(h[1-6])[^>]*>(.*?)</(h[1-6])>$`)

// ParseDecisions reads a YAML (or JSON) list of {text, decision, final_decision}.
func ParseDecisions(raw string) ([]Decision, error) {
	normalized := parser.Normalize(raw)
	value, err := document.FromYAML([]byte(normalized))
	if err != nil {
		value, err = document.FromYAML([]byte(parser.SanitizeYAML(normalized)))
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode analysis")
	}
	if mapping, ok := value.(*document.Map); ok && mapping.Len() == 1 {
		value = mapping.Get(mapping.Keys()[0])
	}
	entries, ok := value.(document.List)
	if !ok {
		return nil, errors.Wrapf(ErrNoDecisions, "expected a list, got %s", value.Kind())
	}

	decisions := make([]Decision, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(*document.Map)
		if !ok {
			continue
		}
		text := strings.TrimSpace(document.Text(fields.Get("text"), ""))
		if text == "" {
			continue
		}
		action := strings.ToLower(strings.TrimSpace(document.Text(fields.Get("decision"), "")))
		if action == "" {
			action = ActionNotChange
		}
		decisions = append(decisions, Decision{
			Text:   text,
			Action: action,
			Final:  strings.TrimSpace(document.Text(fields.Get("final_decision"), "")),
		})
	}
	if len(decisions) == 0 {
		return nil, ErrNoDecisions
	}
	return decisions, nil
}

// Apply returns a copy of doc with decisions applied at target.
func Apply(doc document.Document, target Target, decisions []Decision) (document.Document, Summary, error) {
	byText := make(map[string]Decision, len(decisions))
	for _, decision := range decisions {
		byText[strings.ToLower(decision.Text)] = decision
	}

	current := doc.Lookup(target.Path)
	var (
		refined document.Value
		summary Summary
	)
	switch target.Mode {
	case ModeHTML, "":
		if current.Kind() != document.KindScalar {
			return document.Document{}, Summary{}, errors.Newf("%s is a %s, expected text", target.Path, current.Kind())
		}
		var text string
		text, summary = applyToHeadings(document.Text(current, ""), byText)
		refined = document.Scalar{V: text}
	case ModeList:
		list, ok := current.(document.List)
		if !ok {
			return document.Document{}, Summary{}, errors.Newf("%s is a %s, expected list", target.Path, current.Kind())
		}
		refined, summary = applyToList(list, target.Field, byText)
	default:
		return document.Document{}, Summary{}, errors.Newf("unknown refine mode %q", target.Mode)
	}

	root, err := replaceAt(doc.Map, strings.Split(target.Path, "."), refined)
	if err != nil {
		return document.Document{}, Summary{}, err
	}
	return document.FromMap(root), summary, nil
}

func applyToHeadings(text string, decisions map[string]Decision) (string, Summary) {
	var (
		summary Summary
		lines   []string
	)
	for _, line := range strings.Split(text, "\n") {
		match := headingLine.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil || !strings.EqualFold(match[1], match[3]) {
			lines = append(lines, line)
			continue
		}
		level, heading := strings.ToLower(match[1]), strings.TrimSpace(match[2])
		decision, found := decisions[strings.ToLower(heading)]
		switch {
		case level == "h1" || !found:
			lines = append(lines, line)
			summary.Kept++
		case decision.Action == ActionRemove:
			summary.Removed++
		case decision.Action == ActionModify && decision.Final != "":
			lines = append(lines, "<"+level+">"+decision.Final+"</"+level+">")
			summary.Modified++
		default:
			lines = append(lines, line)
			summary.Kept++
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), summary
}

func applyToList(list document.List, field string, decisions map[string]Decision) (document.List, Summary) {
	var summary Summary
	refined := make(document.List, 0, len(list))
	for _, entry := range list {
		decision, found := decisions[strings.ToLower(strings.TrimSpace(document.Text(entry, field)))]
		switch {
		case !found:
			refined = append(refined, entry)
			summary.Kept++
		case decision.Action == ActionRemove:
			summary.Removed++
		case decision.Action == ActionModify && decision.Final != "":
			refined = append(refined, modifyEntry(entry, field, decision.Final))
			summary.Modified++
		default:
			refined = append(refined, entry)
			summary.Kept++
		}
	}
	return refined, summary
}

func modifyEntry(entry document.Value, field string, final string) document.Value {
	mapping, ok := entry.(*document.Map)
	if !ok || field == "" {
		return document.Scalar{V: final}
	}
	clone := mapping.Clone()
	clone.Set(field, document.Scalar{V: final})
	return clone
}

func replaceAt(root *document.Map, segments []string, value document.Value) (*document.Map, error) {
	clone := root.Clone()
	if len(segments) == 1 {
		clone.Set(segments[0], value)
		return clone, nil
	}
	child, ok := root.Get(segments[0]).(*document.Map)
	if !ok {
		return nil, errors.Newf("%s is not a mapping", segments[0])
	}
	replaced, err := replaceAt(child, segments[1:], value)
	if err != nil {
		return nil, err
	}
	clone.Set(segments[0], replaced)
	return clone, nil
}
