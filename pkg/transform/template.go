// Copyright 2025-2026 Roberto Szek

package transform

import (
	"fmt"
	"strings"
	"text/template"
)

// AnnotationContext is the only lookup source for annotation templates.
// Placeholders resolve against these fields and nothing else; a template
// referencing anything outside them fails at setup time.
type AnnotationContext struct {
	SourceURL string // canonical URL of the original post
	Username  string // source account handle
	Date      string // original post date, pre-formatted
}

// parseAnnotationTemplate parses and validates an annotation template.
// Validation executes it once against a sample context so unresolved
// placeholders are a configuration error, not a silent runtime substitution.
func parseAnnotationTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", name, err)
	}
	sample := AnnotationContext{
		SourceURL: "https://example.invalid/user/status/1",
		Username:  "user",
		Date:      "2006-01-02",
	}
	if err := tmpl.Execute(&strings.Builder{}, sample); err != nil {
		return nil, fmt.Errorf("%s template references unknown placeholder: %w", name, err)
	}
	return tmpl, nil
}

func renderAnnotation(tmpl *template.Template, ctx AnnotationContext) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
