package reasoner

import (
	"bytes"
	"embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

//go:embed prompts/*.md
var promptFS embed.FS

// Placeholders understood by Template.
const (
	PlaceholderQuery    = "{{query}}"
	PlaceholderCategory = "{{category}}"
	PlaceholderContext  = "{{context}}"
)

// Template is a classification prompt with {{query}}, {{category}} and
// {{context}} placeholders.
type Template struct {
	text string
}

// DefaultTemplate returns the built-in classification prompt.
func DefaultTemplate() Template {
	b, err := promptFS.ReadFile("prompts/classify.md")
	if err != nil {
		panic(err) // embedded at build time
	}
	return Template{text: string(b)}
}

// DefaultSystemPrompt returns the built-in system prompt.
func DefaultSystemPrompt() string {
	b, err := promptFS.ReadFile("prompts/system.md")
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(b))
}

// NewTemplate wraps text. It must reference the query placeholder.
func NewTemplate(text string) (Template, error) {
	if !strings.Contains(text, PlaceholderQuery) {
		return Template{}, eris.Errorf("reasoner: template has no %s placeholder", PlaceholderQuery)
	}
	return Template{text: text}, nil
}

// LoadTemplate reads a template file.
func LoadTemplate(path string) (Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Template{}, eris.Wrapf(err, "reasoner: read template %s", path)
	}
	return NewTemplate(string(b))
}

// Render substitutes the placeholders in one pass, so placeholder text inside
// a value is left alone.
func (t Template) Render(query, category, context string) string {
	return strings.NewReplacer(
		PlaceholderQuery, query,
		PlaceholderCategory, category,
		PlaceholderContext, context,
	).Replace(t.text)
}

// toJSON serialises v for the prompt. nil renders as an empty string literal.
// HTML escaping is off so taxonomy paths keep their " > " separators.
func toJSON(v any) (string, error) {
	if v == nil {
		v = ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", eris.Wrap(err, "reasoner: serialise prompt value")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
