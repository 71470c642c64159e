// Package parser turns free-form generator output into a document by trying an
// ordered list of increasingly permissive strategies.
package parser

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/document"
)

// Format is the structured format the generator was asked to emit.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat normalizes a configured format name; empty means YAML.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", errors.Newf("unsupported response format %q", name)
	}
}

// Alternate returns the other supported format.
func (f Format) Alternate() Format {
	if f == FormatJSON {
		return FormatYAML
	}
	return FormatJSON
}

var (
	// ErrParseFailed is matched by every *Failure.
	ErrParseFailed = errors.New("response could not be parsed")
	// ErrNotMapping reports a response that parsed but is not a top-level mapping.
	ErrNotMapping = errors.New("top-level value is not a mapping")
)

// Strategy is one step of the cascade.
type Strategy interface {
	Name() string
	TryParse(raw string) (document.Document, error)
}

// DebugSink stores the single debug artifact written when every strategy fails.
type DebugSink interface {
	SaveDebug(key string, content []byte) error
}

// DebugSinkFunc adapts a function to DebugSink.
type DebugSinkFunc func(key string, content []byte) error

func (f DebugSinkFunc) SaveDebug(key string, content []byte) error { return f(key, content) }

// Attempt records why a strategy did not produce a document.
type Attempt struct {
	Strategy string
	Err      error
}

// Failure is returned when the cascade is exhausted.
type Failure struct {
	Key      string
	Attempts []Attempt
	DebugErr error
}

func (f *Failure) Error() string {
	parts := make([]string, 0, len(f.Attempts))
	for _, attempt := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Strategy, attempt.Err))
	}
	return fmt.Sprintf("%s for %q (%s)", ErrParseFailed.Error(), f.Key, strings.Join(parts, "; "))
}

func (f *Failure) Is(target error) bool { return target == ErrParseFailed }

// Parser drives the strategies in order.
type Parser struct {
	strategies []Strategy
	debugSink  DebugSink
}

// Options configure the default cascade.
type Options struct {
	Format Format
	// Sections are all top-level section names the salvage step recognizes.
	Sections []string
	// Required are the sections that count toward the salvage threshold.
	Required []string
	Debug    DebugSink
}

// New builds the standard cascade: direct, sanitized, alternate, salvage.
func New(options Options) *Parser {
	format := options.Format
	if format == "" {
		format = FormatYAML
	}
	return NewWithStrategies(options.Debug,
		Direct(format),
		Sanitized(format),
		Alternate(format),
		Salvage(options.Sections, options.Required),
	)
}

// NewWithStrategies builds a parser over an explicit ordered cascade.
func NewWithStrategies(debugSink DebugSink, strategies ...Strategy) *Parser {
	return &Parser{strategies: strategies, debugSink: debugSink}
}

// Strategies returns the cascade in order.
func (p *Parser) Strategies() []Strategy {
	return append([]Strategy(nil), p.strategies...)
}

// Parse returns the first document produced by the cascade together with the
// strategy that produced it. On total failure exactly one debug artifact is
// handed to the sink and the returned error matches ErrParseFailed.
func (p *Parser) Parse(key string, raw string) (document.Document, Strategy, error) {
	normalized := Normalize(raw)
	attempts := make([]Attempt, 0, len(p.strategies))
	for _, strategy := range p.strategies {
		doc, err := strategy.TryParse(normalized)
		if err == nil {
			return doc, strategy, nil
		}
		attempts = append(attempts, Attempt{Strategy: strategy.Name(), Err: err})
	}

	failure := &Failure{Key: key, Attempts: attempts}
	if p.debugSink != nil {
		failure.DebugErr = p.debugSink.SaveDebug(key, DebugArtifact(attempts, raw))
	}
	return document.Document{}, nil, failure
}

// debugMessageLimit caps each strategy error line of a debug artifact, in runes.
const debugMessageLimit = 200

// DebugArtifact renders the strategy errors followed by the untouched response.
func DebugArtifact(attempts []Attempt, raw string) []byte {
	var builder strings.Builder
	builder.WriteString("# Parse errors:\n")
	for _, attempt := range attempts {
		message := attempt.Err.Error()
		if runes := []rune(message); len(runes) > debugMessageLimit {
			message = string(runes[:debugMessageLimit])
		}
		fmt.Fprintf(&builder, "# - %s: %s\n", attempt.Strategy, strings.ReplaceAll(message, "\n", " "))
	}
	builder.WriteString("\n# Raw content:\n")
	builder.WriteString(raw)
	return []byte(builder.String())
}

// Normalize trims the response and removes one surrounding markdown fence.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	firstBreak := strings.Index(text, "\n")
	if firstBreak < 0 {
		return strings.TrimSpace(strings.Trim(text, "`"))
	}
	text = text[firstBreak+1:]
	if strings.HasSuffix(strings.TrimRight(text, " \t\r\n"), "```") {
		text = strings.TrimRight(text, " \t\r\n")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

func decode(format Format, text string) (document.Document, error) {
	var (
		value document.Value
		err   error
	)
	switch format {
	case FormatJSON:
		value, err = document.FromJSON([]byte(text))
	default:
		value, err = document.FromYAML([]byte(text))
	}
	if err != nil {
		return document.Document{}, err
	}
	mapping, ok := value.(*document.Map)
	if !ok {
		return document.Document{}, errors.Wrapf(ErrNotMapping, "got %s", value.Kind())
	}
	return document.FromMap(mapping), nil
}
