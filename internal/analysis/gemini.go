package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient sends media inline as blobs read from local files; the Gemini
// API does not fetch arbitrary URLs the way OpenAI does.
type GeminiClient struct {
	model     *genai.GenerativeModel
	modelName string
}

func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key must not be empty")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	sdkClient, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		model:     sdkClient.GenerativeModel(modelName),
		modelName: modelName,
	}, nil
}

func (c *GeminiClient) Analyze(ctx context.Context, req Request) (*Result, error) {
	parts := make([]genai.Part, 0, len(req.Media)+1)
	parts = append(parts, genai.Text(req.Prompt))

	attached := 0
	for _, media := range req.Media {
		if media.LocalPath == "" {
			continue
		}
		data, err := os.ReadFile(media.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read media %s: %w", media.LocalPath, err)
		}
		parts = append(parts, genai.Blob{MIMEType: imageMIMEType(media.LocalPath), Data: data})
		attached++
	}
	if attached == 0 {
		return nil, fmt.Errorf("no local media available for gemini analysis")
	}

	cfg := genai.GenerationConfig{}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		cfg.MaxOutputTokens = &maxTokens
	}
	temp := float32(req.Temperature)
	cfg.Temperature = &temp
	c.model.GenerationConfig = cfg

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini GenerateContent failed: %v", ErrProvider, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: empty gemini response", ErrProvider)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: gemini response has no content (finish reason %s)",
			ErrProvider, candidate.FinishReason.String())
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	text := stripMarkdownFences(sb.String())
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: gemini returned empty text", ErrProvider)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Result{
		Text:       text,
		TokensUsed: tokens,
		Model:      c.modelName,
	}, nil
}

// stripMarkdownFences removes a ```json ... ``` wrapper that Gemini likes to
// put around structured answers.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func imageMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
