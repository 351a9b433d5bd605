package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/procurely/outreach/internal/core"
)

// MessageTemplate is one outbound message body with {placeholder} tokens
// substituted from recipient attributes at dispatch time.
type MessageTemplate struct {
	ID      string
	Subject string
	Body    string
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// DefaultTemplates returns the compiled-in outreach templates.
func DefaultTemplates() []MessageTemplate {
	return []MessageTemplate{
		{
			ID:      "tmpl-claim",
			Subject: "Your directory listing is waiting",
			Body:    "Hi {company_name}, your listing on our procurement directory is still unclaimed. Claim it to start receiving solicitations.",
		},
		{
			ID:      "tmpl-reactivate",
			Subject: "We miss you",
			Body:    "Hi {company_name}, there are new solicitations in {category} since your last visit.",
		},
		{
			ID:      "tmpl-trial",
			Subject: "Your trial ends soon",
			Body:    "Hi {company_name}, your trial ends in {trial_days_remaining} days. Upgrade to keep your bids visible.",
		},
		{
			ID:      "tmpl-welcome",
			Subject: "Welcome aboard",
			Body:    "Hi {company_name}, thanks for registering. Complete your profile to appear in buyer searches.",
		},
	}
}

// RendererOptions configures the template renderer.
type RendererOptions struct {
	// Templates seeds the registry; nil means DefaultTemplates().
	Templates []MessageTemplate
}

// TemplateRenderer resolves a template ID and substitutes {placeholder}
// tokens from the variables map. Implements core.TemplateRenderer.
//
// An unknown template or an unresolved placeholder is an error so that
// launch-time probe rendering surfaces configuration mistakes before any
// job is enqueued.
type TemplateRenderer struct {
	templates map[string]MessageTemplate
}

// NewTemplateRenderer constructs a renderer over the given template set.
func NewTemplateRenderer(opts RendererOptions) *TemplateRenderer {
	templates := opts.Templates
	if templates == nil {
		templates = DefaultTemplates()
	}
	registry := make(map[string]MessageTemplate, len(templates))
	for _, tmpl := range templates {
		registry[tmpl.ID] = tmpl
	}
	return &TemplateRenderer{templates: registry}
}

// Render personalizes the template for one recipient.
func (r *TemplateRenderer) Render(
	_ context.Context,
	templateID string,
	variables map[string]any,
) (*core.RenderedContent, error) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateID)
	}

	subject, err := substitute(tmpl.Subject, variables)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := substitute(tmpl.Body, variables)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &core.RenderedContent{Subject: subject, Body: body}, nil
}

// Has reports whether a template is registered, for launch validation.
func (r *TemplateRenderer) Has(templateID string) bool {
	_, ok := r.templates[templateID]
	return ok
}

func substitute(text string, variables map[string]any) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := token[1 : len(token)-1]
		val, ok := variables[name]
		if !ok || val == nil {
			missing = append(missing, name)
			return token
		}
		return fmt.Sprintf("%v", val)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders: %s", strings.Join(missing, ", "))
	}
	if out == "" && text != "" {
		return "", errors.New("rendered to empty string")
	}
	return out, nil
}
