package naming

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

const promptTemplate = `Given the H1 heading from a PDF: "%s"

Current filename: "%s"

Generate a better filename that:
1. Contains key words from the H1 heading
2. Uses hyphen-separation between words
3. Is all lowercase
4. Excludes common words like "the", "and", etc.
5. Is concise but descriptive

Return ONLY the suggested filename without any explanation or additional text.`

// GeminiSuggester asks a Gemini model for a file name.
type GeminiSuggester struct {
	client *genai.Client
	model  string
}

// NewGeminiSuggester creates a Gemini-backed suggester.
func NewGeminiSuggester(ctx context.Context, apiKey, model string) (*GeminiSuggester, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiSuggester{client: client, model: model}, nil
}

// Suggest returns the model's raw answer with surrounding whitespace and quotes removed.
func (g *GeminiSuggester) Suggest(ctx context.Context, heading, currentName string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(100)

	resp, err := model.GenerateContent(ctx, genai.Text(Prompt(heading, currentName)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(text), "\"'`"), nil
}

// Close releases the underlying client.
func (g *GeminiSuggester) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Prompt renders the naming prompt.
func Prompt(heading, currentName string) string {
	return fmt.Sprintf(promptTemplate, heading, currentName)
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
