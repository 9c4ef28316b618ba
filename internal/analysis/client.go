package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrProvider marks a failed or unusable vision-model response. The
// provider's own classification is preserved in the wrapped message; this
// package never retries.
var ErrProvider = errors.New("provider error")

// MediaRef is one media item attached to an analysis request. OpenAI fetches
// URL; Gemini reads LocalPath and sends the bytes inline.
type MediaRef struct {
	URL       string
	LocalPath string
}

// Request is a single multi-part analysis call: one text segment plus one
// image reference per media item, in manifest (rank) order.
type Request struct {
	Prompt      string
	Media       []MediaRef
	MaxTokens   int
	Temperature float64
}

// Result carries the model's raw response and reported usage.
type Result struct {
	Text       string
	TokensUsed int
	Model      string
}

// Client invokes an external vision-capable language model.
type Client interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

const defaultPromptTemplate = "Analyze these social media ads. Describe the visual strategy, " +
	"colors, messaging and key creative elements, and compare the ads against each other."

// BuildPrompt composes the request's text segment: the prompt template plus
// a dataset header so the model can attribute images to ads. The ad id
// enumeration preserves rank order; downstream report interpretation assumes
// position corresponds to rank.
func BuildPrompt(template, runID string, totalAds int, selectedAdIDs []string, mediaCount int) string {
	if strings.TrimSpace(template) == "" {
		template = defaultPromptTemplate
	}

	var sb strings.Builder
	sb.WriteString("DATASET INFO:\n")
	sb.WriteString(fmt.Sprintf("- Run ID: %s\n", runID))
	sb.WriteString(fmt.Sprintf("- Total ads in dataset: %d\n", totalAds))
	sb.WriteString(fmt.Sprintf("- Selected ad IDs (in rank order): %s\n", strings.Join(selectedAdIDs, ", ")))
	sb.WriteString("\n")
	sb.WriteString(template)
	sb.WriteString(fmt.Sprintf("\n\nAnalyze the following %d images:", mediaCount))
	return sb.String()
}
