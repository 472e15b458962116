package loop

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// NoTaskBlock is rendered in place of the task block when none is left.
const NoTaskBlock = "No task block available"

// DefaultPromptTemplate is used when no template is configured.
const DefaultPromptTemplate = `You are working through the task list in {{.TaskFile}}.
This is iteration {{.Iteration}} of {{.MaxIterations}}.

Work on the following task block only:

{{.TaskBlock}}

Rules:
- Make the changes the task block asks for, then check off each finished item
  in {{.TaskFile}} by changing "- [ ]" to "- [x]".
- Do not check off items you did not finish.
- Leave other task blocks alone.
{{- if .ContextFiles}}

Context files you may read:
{{- range .ContextFiles}}
- {{.}}
{{- end}}
{{- end}}

When every item in {{.TaskFile}} is checked off, end your reply with this line
and nothing after it:

<promise>{{.CompletionMarker}}</promise>

Otherwise, do not write that line.
`

// PromptData is the data passed to the prompt template.
type PromptData struct {
	TaskFile         string
	CompletionMarker string
	Iteration        int
	MaxIterations    int
	TaskBlock        string
	ContextFiles     []string
}

// PromptTemplate renders iteration prompts.
type PromptTemplate struct {
	tmpl *template.Template
}

// ParsePromptTemplate compiles text. Missing keys are errors rather than
// silently rendering "<no value>".
func ParsePromptTemplate(text string) (*PromptTemplate, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.NewValidationError("invalid prompt template").WithField("prompt_template").WithCause(err)
	}
	return &PromptTemplate{tmpl: tmpl}, nil
}

// LoadPromptTemplate picks the template source: file first, then inline
// text, then the built-in default.
func LoadPromptTemplate(inline, file string) (*PromptTemplate, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, errors.NewNotFoundError("prompt file", file).WithCause(err)
			}
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		return ParsePromptTemplate(string(data))
	case strings.TrimSpace(inline) != "":
		return ParsePromptTemplate(inline)
	default:
		return ParsePromptTemplate(DefaultPromptTemplate)
	}
}

// Render executes the template.
func (p *PromptTemplate) Render(data PromptData) (string, error) {
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return sb.String(), nil
}
