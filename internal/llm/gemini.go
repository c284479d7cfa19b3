package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const suggestTimeout = 8 * time.Second

// GeminiAdvisor implements Advisor on the Gemini API.
type GeminiAdvisor struct {
	model  string
	client *genai.Client
}

// NewGeminiAdvisor creates a Gemini-backed advisor. The API key is read
// from the environment by the genai client (GEMINI_API_KEY / GOOGLE_API_KEY).
func NewGeminiAdvisor(ctx context.Context, model string) (*GeminiAdvisor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiAdvisor{model: model, client: client}, nil
}

func (g *GeminiAdvisor) SuggestCategory(ctx context.Context, req SuggestRequest) (SuggestResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	payload, _ := json.Marshal(req)
	prompt := "You are a bookkeeping assistant for a German dog-rescue nonprofit.\n" +
		"Given the transaction JSON below, choose the single best category from the provided 'categories' list.\n" +
		"Return ONLY valid raw JSON with keys: category (string, one of the list), confidence (number 0-1), rationale (short string).\n" +
		"Do NOT wrap the response in code fences.\n\n" +
		"Transaction:\n" + string(payload)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return SuggestResponse{}, fmt.Errorf("llm: generate content: %w", err)
	}
	rawText := resp.Text()
	if rawText == "" {
		return SuggestResponse{}, fmt.Errorf("llm: empty response from model")
	}

	var out SuggestResponse
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &out); err != nil {
		return SuggestResponse{}, fmt.Errorf("llm: parse suggestion: %w", err)
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk in case the
// model ignored the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
