// Package prompts renders generation requests from recipe templates and item inputs.
package prompts

import (
	"bytes"
	"sort"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/generation"
)

// Spec is the prompt part of a recipe.
type Spec struct {
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// Data is what a template sees.
type Data struct {
	Key      string
	Inputs   map[string]string
	Language string
	LangCode string
	// Document is the persisted result, set for the analysis pass.
	Document string
}

var funcs = template.FuncMap{
	"trim":  strings.TrimSpace,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"default": func(fallback string, value string) string {
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		return value
	},
}

// Renderer turns Data into a generation.Request. It is safe for concurrent use.
type Renderer struct {
	spec     Spec
	system   *template.Template
	user     *template.Template
	detector *Detector
}

// NewRenderer parses both templates. detector may be nil.
func NewRenderer(name string, spec Spec, detector *Detector) (*Renderer, error) {
	if strings.TrimSpace(spec.User) == "" {
		return nil, errors.Newf("prompt %q has no user template", name)
	}
	system, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=error").Parse(spec.System)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s system prompt", name)
	}
	user, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=error").Parse(spec.User)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s user prompt", name)
	}
	return &Renderer{spec: spec, system: system, user: user, detector: detector}, nil
}

// Render fills the templates. Language is detected from the inputs when the
// data does not set it.
func (r *Renderer) Render(data Data) (generation.Request, error) {
	if data.Language == "" && r.detector != nil {
		language := r.detector.Detect(detectionText(data))
		data.Language, data.LangCode = language.Name, language.Code
	}

	system, err := execute(r.system, data)
	if err != nil {
		return generation.Request{}, errors.Wrapf(err, "render system prompt for %q", data.Key)
	}
	user, err := execute(r.user, data)
	if err != nil {
		return generation.Request{}, errors.Wrapf(err, "render user prompt for %q", data.Key)
	}
	return generation.Request{
		SystemPrompt: system,
		UserPrompt:   user,
		Model:        r.spec.Model,
		Temperature:  r.spec.Temperature,
		MaxTokens:    r.spec.MaxTokens,
	}, nil
}

func execute(tmpl *template.Template, data Data) (string, error) {
	var buffer bytes.Buffer
	if err := tmpl.Execute(&buffer, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buffer.String()), nil
}

// detectionText joins the key and inputs in role order.
func detectionText(data Data) string {
	roles := make([]string, 0, len(data.Inputs))
	for role := range data.Inputs {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	parts := []string{data.Key}
	for _, role := range roles {
		text := data.Inputs[role]
		if len(text) > 2000 {
			text = text[:2000]
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}
