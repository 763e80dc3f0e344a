package pipeline

import (
	"context"
	"errors"

	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/raine/listing-pipeline/internal/publish"
	"github.com/raine/listing-pipeline/internal/stage"
)

// ValidationStage checks a draft against the publishing rules.
type ValidationStage struct{}

func (ValidationStage) Name() string        { return "validate" }
func (ValidationStage) Description() string { return "checks the draft is complete enough to publish" }

func (ValidationStage) Run(ctx context.Context, d *listing.Draft) stage.Result[string] {
	return stage.Ok(listing.Validate(d))
}

// Publisher submits drafts.
type Publisher interface {
	Publish(ctx context.Context, draft *listing.Draft) (publish.Result, error)
}

// PublishStage submits the draft to the marketplace. A rejection by the
// marketplace is a successful stage run with Result.Success false.
type PublishStage struct {
	publisher Publisher
}

func NewPublishStage(p Publisher) *PublishStage {
	return &PublishStage{publisher: p}
}

func (s *PublishStage) Name() string        { return "publish" }
func (s *PublishStage) Description() string { return "submits the listing to the marketplace" }

func (s *PublishStage) Run(ctx context.Context, d *listing.Draft) stage.Result[publish.Result] {
	if s.publisher == nil {
		return stage.Fail[publish.Result](stage.KindConfigMissing, "%v", publish.ErrNotConfigured)
	}
	res, err := s.publisher.Publish(ctx, d)
	if errors.Is(err, publish.ErrNotConfigured) {
		return stage.Fail[publish.Result](stage.KindConfigMissing, "%v", err)
	}
	if err != nil {
		return stage.FromError[publish.Result](ctx, err, stage.KindUpstreamUnavailable, "publish")
	}
	return stage.Ok(res)
}
