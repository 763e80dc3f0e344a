package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

const geminiLiteModel = "gemini-2.5-flash-lite"

// Gemini pricing (per million tokens)
type pricing struct {
	input  float64
	output float64
}

var geminiPricing = map[string]pricing{
	DefaultModel:    {input: 0.50, output: 3.00},
	geminiLiteModel: {input: 0.075, output: 0.30},
}

// GeminiClient implements Client on Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for model. An empty model selects DefaultModel.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	return newGeminiClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model)
}

func newGeminiClient(ctx context.Context, cfg *genai.ClientConfig, model string) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not set")
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Model returns the model name requests are sent to.
func (g *GeminiClient) Model() string {
	return g.model
}

// Complete sends req as one GenerateContent call.
func (g *GeminiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	imageCount := 0
	for _, msg := range req.Messages {
		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if len(p.Data) > 0 {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{Data: p.Data, MIMEType: p.MIMEType},
				})
				imageCount++
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Format == FormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini %s call failed: %w", req.Tag, err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	resp := &Response{Text: result.Text(), Model: g.model}
	if result.UsageMetadata != nil {
		price, ok := geminiPricing[g.model]
		if !ok {
			price = geminiPricing[DefaultModel]
		}
		resp.Usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		resp.Usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		resp.Usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		resp.Usage.CostUSD = calculateGeminiCost(resp.Usage.InputTokens, resp.Usage.OutputTokens, price.input, price.output)
	}

	log.Info().
		Str("model", g.model).
		Str("tag", req.Tag).
		Int("imageCount", imageCount).
		Int64("inputTokens", resp.Usage.InputTokens).
		Int64("outputTokens", resp.Usage.OutputTokens).
		Float64("costUSD", resp.Usage.CostUSD).
		Msg("llm call")

	return resp, nil
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}
