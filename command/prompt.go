package command

import (
	"log/slog"
	"os"
	"strings"
	"text/template"

	quill "github.com/Paranoid-AF/quill"
	defaults "github.com/Paranoid-AF/quill/default"
)

// PromptData holds the data passed to the prompt templates.
type PromptData struct {
	Chat    string
	Purpose string
	Type    string
	Lang    string
	// Output is the previous artifact (retry only).
	Output string
}

// Prompts renders generate and retry prompts.
type Prompts struct {
	generate *template.Template
	retry    *template.Template
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	return &Prompts{
		generate: template.Must(template.New("generate").Parse(defaults.GeneratePrompt)),
		retry:    template.Must(template.New("retry").Parse(defaults.RetryPrompt)),
	}
}

// LoadPrompts uses the user's templates from the config directory where
// present and valid, and the built-in ones otherwise.
func LoadPrompts() *Prompts {
	p := DefaultPrompts()
	if t := loadCustom("generate.tmpl"); t != nil {
		p.generate = t
	}
	if t := loadCustom("retry.tmpl"); t != nil {
		p.retry = t
	}
	return p
}

func loadCustom(name string) *template.Template {
	path := quill.PromptPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(string(data))
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "path", path, "error", err)
		return nil
	}
	slog.Info("loaded custom prompt", "path", path)
	return t
}

// Generate renders the prompt for a first generation.
func (p *Prompts) Generate(d PromptData) string {
	return render(p.generate, defaults.GeneratePrompt, d)
}

// Retry renders the prompt that asks for a revision of d.Output.
func (p *Prompts) Retry(d PromptData) string {
	return render(p.retry, defaults.RetryPrompt, d)
}

func render(t *template.Template, fallback string, d PromptData) string {
	var buf strings.Builder
	if err := t.Execute(&buf, d); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "template", t.Name(), "error", err)
		buf.Reset()
		if err := template.Must(template.New(t.Name()).Parse(fallback)).Execute(&buf, d); err != nil {
			slog.Error("failed to execute default prompt template", "template", t.Name(), "error", err)
		}
	}
	return strings.TrimRight(buf.String(), " \t\n")
}
