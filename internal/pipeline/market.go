package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/stage"
)

type MarketInput struct {
	VisionJSON   json.RawMessage
	EvidenceJSON json.RawMessage
	Language     string
	Currency     string
	Hints        string
	Keywords     []string
}

// MarketStage synthesizes pricing, audience, category and SEO signals.
type MarketStage struct {
	llm llm.Client
}

func NewMarketStage(client llm.Client) *MarketStage {
	return &MarketStage{llm: client}
}

func (s *MarketStage) Name() string { return "market" }

func (s *MarketStage) Description() string {
	return "analyzes pricing, audience and SEO signals from the product and competitor evidence"
}

func (s *MarketStage) Run(ctx context.Context, in MarketInput) stage.Result[json.RawMessage] {
	hints := strings.TrimSpace(in.Hints)
	if hints == "" {
		hints = "-"
	}
	keywords := strings.Join(in.Keywords, ", ")
	if keywords == "" {
		keywords = "-"
	}
	return completeJSON(ctx, s.llm, &llm.Request{
		Tag:    s.Name(),
		System: prompt(marketSystemPrompt, in.Language, in.Currency),
		Messages: []llm.Message{llm.UserText(prompt(marketUserPrompt,
			orEmpty(in.VisionJSON), orEmpty(in.EvidenceJSON), hints, keywords))},
		Temperature: 0.3,
		Format:      llm.FormatJSON,
	})
}

// AudienceStage narrows the market analysis down to an audience profile.
type AudienceStage struct {
	llm llm.Client
}

func NewAudienceStage(client llm.Client) *AudienceStage {
	return &AudienceStage{llm: client}
}

func (s *AudienceStage) Name() string        { return "audience" }
func (s *AudienceStage) Description() string { return "describes the target audience" }

func (s *AudienceStage) Run(ctx context.Context, marketJSON json.RawMessage) stage.Result[json.RawMessage] {
	return completeJSON(ctx, s.llm, &llm.Request{
		Tag:         s.Name(),
		System:      prompt(audienceSystemPrompt),
		Messages:    []llm.Message{llm.UserText(string(orEmpty(marketJSON)))},
		Temperature: 0.4,
		Format:      llm.FormatJSON,
	})
}

// completeJSON makes one JSON-mode call and returns the validated object.
func completeJSON(ctx context.Context, client llm.Client, req *llm.Request) stage.Result[json.RawMessage] {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return stage.FromError[json.RawMessage](ctx, err, stage.KindUpstreamUnavailable, req.Tag+" llm call")
	}
	obj, err := validObject(resp.Text)
	if err != nil {
		return stage.FailRaw[json.RawMessage](stage.KindMalformedResponse, resp.Text, "invalid %s response: %v", req.Tag, err)
	}
	return stage.Ok(obj)
}

func orEmpty(doc json.RawMessage) json.RawMessage {
	if len(doc) == 0 {
		return emptyDocument
	}
	return doc
}
