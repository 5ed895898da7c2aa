package scriptwriter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/tmc/langchaingo/prompts"
)

const scriptDelimiter = "===SCRIPT==="

const systemPrompt = `You are a short-form video script writer. Write tight,
spoken narration only: no camera directions, no scene labels, no markdown.`

var scriptPrompt = prompts.NewPromptTemplate(
	`Write {count} independent narration scripts for a short product video.

Idea: {idea}
Context: {context}

Each script must stand alone and take a different angle on the idea.
Separate the scripts with a line containing exactly {delimiter}.`,
	[]string{"count", "idea", "context", "delimiter"},
)

// Writer generates narration scripts through an Ollama model. The
// provider argument of Write selects the model; empty falls back to the
// configured default.
type Writer struct {
	client       *api.Client
	defaultModel string
}

func NewWriter(baseURL, defaultModel string, httpClient *http.Client) (*Writer, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Writer{
		client:       api.NewClient(parsed, httpClient),
		defaultModel: defaultModel,
	}, nil
}

// Write asks the model for count scripts in a single generation call and
// splits them on the delimiter. It fails rather than padding when the
// model returns fewer scripts than asked.
func (w *Writer) Write(ctx context.Context, idea, ideaContext string, count int, provider string) ([]string, error) {
	model := provider
	if model == "" {
		model = w.defaultModel
	}

	prompt, err := scriptPrompt.Format(map[string]any{
		"count":     count,
		"idea":      idea,
		"context":   ideaContext,
		"delimiter": scriptDelimiter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format script prompt: %w", err)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  model,
		System: systemPrompt,
		Prompt: prompt,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": 0.8,
		},
	}

	var output strings.Builder
	err = w.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		output.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	scripts := splitScripts(output.String())
	if len(scripts) < count {
		return nil, fmt.Errorf("model returned %d scripts, expected %d", len(scripts), count)
	}

	return scripts[:count], nil
}

func splitScripts(output string) []string {
	var scripts []string
	for _, part := range strings.Split(output, scriptDelimiter) {
		part = strings.TrimSpace(part)
		if part != "" {
			scripts = append(scripts, part)
		}
	}
	return scripts
}
