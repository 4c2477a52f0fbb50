// Package prompts renders the agent instructions submitted for each plan
// workflow and holds the default connector list per workflow.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"wanderlust/internal/domain/tracker"
)

//go:embed templates/*.md
var templateFS embed.FS

var defaultCapabilities = map[tracker.WorkflowKind][]string{
	tracker.KindLocationSuggestion: {"web_search", "maps", "plan_store"},
	tracker.KindLocationResearch:   {"web_search", "maps", "booking", "plan_store"},
	tracker.KindPreferenceSummary:  {"plan_store"},
}

// Builder renders workflow prompts from embedded templates.
type Builder struct {
	templates    map[tracker.WorkflowKind]*template.Template
	capabilities map[tracker.WorkflowKind][]string
}

// Option customizes a Builder.
type Option func(*Builder)

// WithCapabilities overrides the connector list for the given kinds. Unknown
// kinds are ignored and an empty list keeps the default.
func WithCapabilities(overrides map[string][]string) Option {
	return func(b *Builder) {
		for raw, caps := range overrides {
			kind, err := tracker.ParseWorkflowKind(raw)
			if err != nil || len(caps) == 0 {
				continue
			}
			b.capabilities[kind] = append([]string(nil), caps...)
		}
	}
}

// New parses the embedded templates.
func New(opts ...Option) (*Builder, error) {
	b := &Builder{
		templates:    make(map[tracker.WorkflowKind]*template.Template),
		capabilities: make(map[tracker.WorkflowKind][]string, len(defaultCapabilities)),
	}
	for kind, caps := range defaultCapabilities {
		b.capabilities[kind] = append([]string(nil), caps...)
	}
	for _, kind := range tracker.Kinds() {
		name := "templates/" + string(kind) + ".md"
		content, err := templateFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read prompt template %s: %w", name, err)
		}
		tmpl, err := template.New(string(kind)).Option("missingkey=zero").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		b.templates[kind] = tmpl
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build renders the prompt for kind.
func (b *Builder) Build(kind tracker.WorkflowKind, pc tracker.PromptContext) (string, error) {
	tmpl, ok := b.templates[kind]
	if !ok {
		return "", fmt.Errorf("no prompt template for workflow %q", kind)
	}
	if err := requireContext(kind, pc); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pc); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Capabilities returns the connectors enabled for kind.
func (b *Builder) Capabilities(kind tracker.WorkflowKind) []string {
	return append([]string(nil), b.capabilities[kind]...)
}

func requireContext(kind tracker.WorkflowKind, pc tracker.PromptContext) error {
	switch kind {
	case tracker.KindLocationSuggestion:
		if pc.PlanID == "" {
			return fmt.Errorf("%s prompt: plan id is required", kind)
		}
	case tracker.KindLocationResearch:
		if pc.PlanID == "" || pc.LocationID == "" {
			return fmt.Errorf("%s prompt: plan id and location id are required", kind)
		}
	case tracker.KindPreferenceSummary:
		if pc.UserID == "" {
			return fmt.Errorf("%s prompt: user id is required", kind)
		}
	}
	return nil
}
