package extraction

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Model is the text-understanding service. Generate returns the raw text of
// a single JSON response to prompt.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiModel calls the Gemini API through the genai SDK.
type GeminiModel struct {
	client *genai.Client
	name   string
}

// NewGeminiModel creates a Gemini-backed model. An empty API key yields
// ErrServiceUnavailable, since the service is then unconfigured.
func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewGeminiModel: missing API key: %w", ErrServiceUnavailable)
	}
	if modelName == "" {
		modelName = DefaultModelName
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiModel: create genai client: %w", err)
	}

	return &GeminiModel{client: client, name: modelName}, nil
}

func (m *GeminiModel) Name() string {
	return m.name
}

// Generate asks the model for a JSON response at zero temperature.
func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("GeminiModel.Generate: generate content: %w", err)
	}

	return resp.Text(), nil
}
