package llm

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptTemplate represents a named text/template for generating prompts.
type PromptTemplate struct {
	Name        string
	Description string
	Template    string

	parsed *template.Template
}

// NewPromptTemplate parses tmpl and returns the template. Parsing happens
// once, here, so Execute only fails on data errors.
func NewPromptTemplate(name, description, tmpl string) (*PromptTemplate, error) {
	parsed, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return &PromptTemplate{
		Name:        name,
		Description: description,
		Template:    tmpl,
		parsed:      parsed,
	}, nil
}

// MustPromptTemplate is like NewPromptTemplate but panics on a parse error.
// It is meant for package-level templates.
func MustPromptTemplate(name, description, tmpl string) *PromptTemplate {
	pt, err := NewPromptTemplate(name, description, tmpl)
	if err != nil {
		panic(err)
	}
	return pt
}

// Execute renders the template with data.
func (pt *PromptTemplate) Execute(data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := pt.parsed.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", pt.Name, err)
	}
	return buf.String(), nil
}

// SummaryTemplate asks the model to fold new conversation lines into the
// running summary. Slots: summary and new_lines.
var SummaryTemplate = MustPromptTemplate(
	"progressive_summary",
	"Progressively summarize conversation lines onto an existing summary",
	`[INST] <<SYS>>
Progressively summarize the lines of conversation provided, adding onto the previous summary
returning a new summary. Reply with the new summary only, without any preamble.

EXAMPLE
Current summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good.

New lines of conversation:
Human: Why do you think artificial intelligence is a force for good?
AI: Because artificial intelligence will help humans reach their full potential.

New summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good because it will help humans reach their full potential.
END OF EXAMPLE
<</SYS>>

Current summary:
{{.summary}}

New lines of conversation:
{{.new_lines}}

New summary:[/INST]`,
)
