package extract

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Request is one completion call. The prompt already contains the document
// text and the response-shape instructions.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int32
}

// CompletionService is the external model capability the extractor calls.
// Implementations must be safe for concurrent use; the worker pool shares
// one instance.
type CompletionService interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeminiService calls the Gemini API.
type GeminiService struct {
	client *genai.Client
	model  string
}

// NewGeminiService creates the production completion service. The API key
// may be empty, in which case the client falls back to GOOGLE_API_KEY or
// application default credentials.
func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cc.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiService: create client: %w", err)
	}
	return &GeminiService{client: client, model: model}, nil
}

// Complete sends the prompt and returns the raw response text.
func (g *GeminiService) Complete(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = req.MaxTokens
	}

	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: req.Prompt}}},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Complete: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Complete: model returned no text")
	}
	return text, nil
}

var _ CompletionService = (*GeminiService)(nil)

// RateLimitedService throttles an inner service to a requests-per-minute
// budget. The pipeline's parallelism is bounded by this limiter rather than
// by document count.
type RateLimitedService struct {
	inner   CompletionService
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a per-minute request budget.
func NewRateLimited(inner CompletionService, perMinute int) *RateLimitedService {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimitedService{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Complete blocks until the limiter admits the call, then delegates.
func (r *RateLimitedService) Complete(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("Complete: rate limiter: %w", err)
	}
	return r.inner.Complete(ctx, req)
}

var _ CompletionService = (*RateLimitedService)(nil)
