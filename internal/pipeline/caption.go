package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/stage"
)

type CaptionInput struct {
	VisionJSON   json.RawMessage
	MarketJSON   json.RawMessage
	AudienceJSON json.RawMessage
	RefinedJSON  json.RawMessage
	Language     string
}

// CaptionStage writes the social media caption. A missing caption never
// blocks the listing: the orchestrator records the failure as a gap and uses
// CaptionPlaceholder.
type CaptionStage struct {
	llm llm.Client
}

func NewCaptionStage(client llm.Client) *CaptionStage {
	return &CaptionStage{llm: client}
}

func (s *CaptionStage) Name() string        { return "caption" }
func (s *CaptionStage) Description() string { return "writes a social media caption" }

// CaptionPlaceholder is returned when no caption could be generated.
func CaptionPlaceholder(language string) string {
	switch strings.ToLower(language) {
	case "uk", "ukr", "ua", "uk-ua":
		return "Опис для соцмереж зараз недоступний. Спробуйте згенерувати його пізніше."
	case "ru", "rus", "ru-ru":
		return "Описание для соцсетей сейчас недоступно. Попробуйте сгенерировать его позже."
	}
	return "Caption is not available right now. Try generating it again later."
}

func (s *CaptionStage) Run(ctx context.Context, in CaptionInput) stage.Result[string] {
	resp, err := s.llm.Complete(ctx, &llm.Request{
		Tag:    s.Name(),
		System: prompt(captionSystemPrompt, in.Language),
		Messages: []llm.Message{llm.UserText(prompt(captionUserPrompt,
			orEmpty(in.VisionJSON), orEmpty(in.MarketJSON), orEmpty(in.AudienceJSON), orEmpty(in.RefinedJSON)))},
		Temperature: 0.8,
		Format:      llm.FormatText,
	})
	if err != nil {
		return stage.FromError[string](ctx, err, stage.KindUpstreamUnavailable, "caption llm call")
	}

	caption := llm.StripCodeFence(resp.Text)
	if caption == "" {
		return stage.FailRaw[string](stage.KindMalformedResponse, resp.Text, "empty caption from llm")
	}
	return stage.Ok(caption)
}
