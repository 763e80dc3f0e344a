package pipeline

import (
	"context"

	"github.com/raine/listing-pipeline/internal/blob"
	"github.com/raine/listing-pipeline/internal/imageproc"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type PhotoInput struct {
	Keys    []string
	RunID   string
	Options imageproc.Options
}

// PhotoStage corrects every photo and stores the results under the processed
// namespace. Images that fail are skipped, so the output may be shorter than
// the input.
type PhotoStage struct {
	blobs       *blob.Store
	processor   *imageproc.Processor
	concurrency int
}

func NewPhotoStage(blobs *blob.Store, processor *imageproc.Processor, concurrency int) *PhotoStage {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &PhotoStage{blobs: blobs, processor: processor, concurrency: concurrency}
}

func (s *PhotoStage) Name() string { return "photo" }

func (s *PhotoStage) Description() string {
	return "rotates, pads, adjusts and watermarks the photos"
}

func (s *PhotoStage) Run(ctx context.Context, in PhotoInput) stage.Result[[]string] {
	processed := make([]string, len(in.Keys))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, key := range in.Keys {
		g.Go(func() error {
			ref, err := s.processOne(ctx, in, i, key)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("key", key).Msg("skipping photo that failed processing")
				}
				return nil
			}
			processed[i] = ref.Key
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return stage.Cancelled[[]string]()
	}

	keys := make([]string, 0, len(processed))
	for _, k := range processed {
		if k != "" {
			keys = append(keys, k)
		}
	}
	log.Info().Int("input", len(in.Keys)).Int("processed", len(keys)).Msg("photos corrected")
	return stage.Ok(keys)
}

func (s *PhotoStage) processOne(ctx context.Context, in PhotoInput, index int, key string) (blob.Reference, error) {
	res := s.blobs.Resolve(ctx, key)
	if !res.IsOk() {
		return blob.Reference{}, res.Err
	}
	out, err := s.processor.Process(res.Value, in.Options)
	if err != nil {
		return blob.Reference{}, err
	}
	if ctx.Err() != nil {
		return blob.Reference{}, ctx.Err()
	}
	return s.blobs.Put(ctx, blob.NamespaceProcessed, in.RunID, index, out)
}
