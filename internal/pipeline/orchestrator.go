// Package pipeline turns product photos into a listing draft. Each step is a
// stage.Stage; the Orchestrator runs them in a fixed order, degrading past
// failed analysis stages and stopping at the first cancellation.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raine/listing-pipeline/internal/blob"
	"github.com/raine/listing-pipeline/internal/cache"
	"github.com/raine/listing-pipeline/internal/imageproc"
	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/observability"
	"github.com/raine/listing-pipeline/internal/publish"
	"github.com/raine/listing-pipeline/internal/scrape"
	"github.com/raine/listing-pipeline/internal/search"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the user-visible outcome of a run.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusCompletedWithGap Status = "completed-with-gaps"
	StatusCancelled        Status = "cancelled"
	StatusValidationFailed Status = "validation-failed"
	StatusPublishFailed    Status = "publish-failed"
	StatusPublished        Status = "published"
	StatusFailed           Status = "failed"
)

// DefaultImageURLTTL is the lifetime of presigned image URLs in drafts.
const DefaultImageURLTTL = time.Hour

// Request is one pipeline run.
type Request struct {
	Images   [][]byte
	Hint     string
	Language string
	Currency string
	Keywords []string
	Photo    imageproc.Options
	Publish  bool
}

// Gap records a stage whose output was replaced by a default.
type Gap struct {
	Stage   string     `json:"stage"`
	Kind    stage.Kind `json:"kind"`
	Message string     `json:"message"`
}

type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Result   string        `json:"result"`
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID      string          `json:"runId"`
	Status     Status          `json:"status"`
	Draft      *listing.Draft  `json:"draft,omitempty"`
	Validation string          `json:"validation,omitempty"`
	Publish    *publish.Result `json:"publish,omitempty"`
	Gaps       []Gap           `json:"gaps,omitempty"`
	Timings    []StageTiming   `json:"timings"`
	Usage      llm.Usage       `json:"usage"`
	Error      *stage.Error    `json:"error,omitempty"`
	Context    *Context        `json:"context,omitempty"`
}

// Deps are the collaborators of an Orchestrator. Searcher, Scraper,
// Publisher and Recorder may be nil.
type Deps struct {
	Blobs     *blob.Store
	LLM       llm.Client
	Cache     cache.Cache
	Searcher  search.Searcher
	Scraper   *scrape.Scraper
	Images    *imageproc.Processor
	Publisher Publisher
	Recorder  *observability.Recorder

	Concurrency    int
	MaxScrapeURLs  int
	VisionCacheTTL time.Duration
	ImageURLTTL    time.Duration
}

type Orchestrator struct {
	blobs    *blob.Store
	vision   *VisionStage
	evidence *EvidenceStage
	market   *MarketStage
	audience *AudienceStage
	refine   *RefineStage
	caption  *CaptionStage
	photo    *PhotoStage
	validate ValidationStage
	publish  *PublishStage

	recorder    *observability.Recorder
	tracer      trace.Tracer
	imageURLTTL time.Duration
	newRunID    func() string
}

func New(deps Deps) *Orchestrator {
	client := llm.NewMeteredClient(deps.LLM)
	images := deps.Images
	if images == nil {
		images = imageproc.NewProcessor()
	}
	var scrapeStage *ScrapeStage
	if deps.Scraper != nil {
		scrapeStage = NewScrapeStage(deps.Scraper, deps.MaxScrapeURLs, deps.Concurrency)
	}
	urlTTL := deps.ImageURLTTL
	if urlTTL <= 0 {
		urlTTL = DefaultImageURLTTL
	}
	return &Orchestrator{
		blobs:       deps.Blobs,
		vision:      NewVisionStage(deps.Blobs, client, deps.Cache, deps.VisionCacheTTL, deps.Concurrency),
		evidence:    NewEvidenceStage(NewSearchStage(deps.Searcher, search.MaxResults), scrapeStage),
		market:      NewMarketStage(client),
		audience:    NewAudienceStage(client),
		refine:      NewRefineStage(client),
		caption:     NewCaptionStage(client),
		photo:       NewPhotoStage(deps.Blobs, images, deps.Concurrency),
		publish:     NewPublishStage(deps.Publisher),
		recorder:    deps.Recorder,
		tracer:      observability.Tracer(),
		imageURLTTL: urlTTL,
		newRunID:    uuid.NewString,
	}
}

// run is the mutable state of one Run or Publish call.
type run struct {
	id      string
	ctx     context.Context
	span    trace.Span
	meter   *llm.UsageMeter
	outcome *Outcome
}

func (o *Orchestrator) start(ctx context.Context, name string) *run {
	r := &run{id: o.newRunID(), meter: &llm.UsageMeter{}}
	r.ctx, r.span = o.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("run.id", r.id)))
	r.ctx = llm.WithUsageMeter(r.ctx, r.meter)
	r.outcome = &Outcome{RunID: r.id, Timings: []StageTiming{}}
	return r
}

// runStage invokes s with timing, metrics and a span.
func runStage[In, Out any](o *Orchestrator, r *run, s stage.Stage[In, Out], in In) stage.Result[Out] {
	ctx, span := o.tracer.Start(r.ctx, "stage "+s.Name(), trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("stage.name", s.Name()),
	))
	started := time.Now()
	res := stage.Invoke(ctx, s, in)
	elapsed := time.Since(started)

	result := "ok"
	if res.Err != nil {
		result = string(res.Err.Kind)
		span.SetStatus(codes.Error, res.Err.Message)
	}
	span.End()

	r.outcome.Timings = append(r.outcome.Timings, StageTiming{Stage: s.Name(), Duration: elapsed, Result: result})
	o.recorder.ObserveStage(s.Name(), elapsed, result)
	return res
}

func (r *run) gap(stageName string, err *stage.Error) {
	log.Warn().
		Str("runId", r.id).
		Str("stage", stageName).
		Str("kind", string(err.Kind)).
		Str("error", err.Message).
		Msg("stage failed, continuing with defaults")
	r.outcome.Gaps = append(r.outcome.Gaps, Gap{Stage: stageName, Kind: err.Kind, Message: err.Message})
}

func (r *run) put(pc *Context, name string, doc json.RawMessage) {
	if err := pc.Put(name, doc); err != nil {
		log.Error().Err(err).Str("runId", r.id).Str("document", name).Msg("failed to record document")
	}
}

// finish sets the final status and emits the run report.
func (o *Orchestrator) finish(r *run, status Status, err *stage.Error) *Outcome {
	r.outcome.Status = status
	r.outcome.Error = err
	r.outcome.Usage = r.meter.Total()

	if err != nil {
		r.span.SetStatus(codes.Error, err.Message)
	}
	r.span.SetAttributes(attribute.String("run.status", string(status)))
	r.span.End()

	o.recorder.ObserveRun(string(status))
	o.recorder.AddLLMUsage(r.outcome.Usage.InputTokens, r.outcome.Usage.OutputTokens, r.outcome.Usage.CostUSD)

	timings := zerolog.Dict()
	var total time.Duration
	for _, t := range r.outcome.Timings {
		timings.Dur(t.Stage, t.Duration)
		total += t.Duration
	}
	log.Info().
		Str("runId", r.id).
		Str("status", string(status)).
		Dict("timings", timings).
		Dur("total", total).
		Int("gaps", len(r.outcome.Gaps)).
		Int("llmCalls", r.meter.Calls()).
		Float64("costUSD", r.outcome.Usage.CostUSD).
		Msg("pipeline run finished")
	return r.outcome
}

func cancelledErr() *stage.Error {
	return stage.Cancelled[struct{}]().Err
}

// Run executes the whole pipeline for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Outcome {
	r := o.start(ctx, "pipeline run")
	if r.ctx.Err() != nil {
		return o.finish(r, StatusCancelled, cancelledErr())
	}

	keys, err := o.ingest(r, req.Images)
	if err != nil {
		return o.finish(r, StatusCancelled, err)
	}
	if len(keys) == 0 {
		return o.finish(r, StatusFailed, &stage.Error{
			Kind:    stage.KindUpstreamUnavailable,
			Message: "none of the images could be stored",
		})
	}

	pc := NewContext(keys)
	r.outcome.Context = pc
	ingressKeys := keys

	// vision
	productName := strings.TrimSpace(req.Hint)
	vision := runStage(o, r, o.vision, VisionInput{Keys: keys, Language: req.Language, Hints: req.Hint})
	if vision.IsCancelled() {
		return o.finish(r, StatusCancelled, vision.Err)
	}
	if vision.IsOk() {
		productName = vision.Value.ProductName
		doc, _ := json.Marshal(vision.Value)
		r.put(pc, DocVision, doc)
	} else {
		r.gap(o.vision.Name(), vision.Err)
		doc := emptyDocument
		if productName != "" {
			doc, _ = json.Marshal(map[string]string{"productName": productName})
		}
		r.put(pc, DocVision, doc)
	}

	// evidence
	evidence := runStage(o, r, o.evidence, EvidenceInput{ProductName: productName, Currency: req.Currency})
	if evidence.IsCancelled() {
		return o.finish(r, StatusCancelled, evidence.Err)
	}
	if evidence.IsOk() {
		doc, _ := json.Marshal(evidence.Value)
		r.put(pc, DocEvidence, doc)
	} else {
		r.gap(o.evidence.Name(), evidence.Err)
		r.put(pc, DocEvidence, emptyDocument)
	}

	// market
	market := runStage(o, r, o.market, MarketInput{
		VisionJSON:   pc.Doc(DocVision),
		EvidenceJSON: pc.Doc(DocEvidence),
		Language:     req.Language,
		Currency:     req.Currency,
		Hints:        req.Hint,
		Keywords:     req.Keywords,
	})
	if market.IsCancelled() {
		return o.finish(r, StatusCancelled, market.Err)
	}
	o.recordDoc(r, pc, DocMarket, o.market.Name(), market)

	// audience
	audience := runStage(o, r, o.audience, pc.Doc(DocMarket))
	if audience.IsCancelled() {
		return o.finish(r, StatusCancelled, audience.Err)
	}
	o.recordDoc(r, pc, DocAudience, o.audience.Name(), audience)

	// refine
	refinedRes := runStage(o, r, o.refine, RefineInput{
		Title:      productName,
		MarketJSON: pc.Doc(DocMarket),
		Keys:       pc.Keys(),
		Currency:   req.Currency,
	})
	if refinedRes.IsCancelled() {
		return o.finish(r, StatusCancelled, refinedRes.Err)
	}
	refined := refinedRes.Value
	if refinedRes.IsOk() {
		doc, _ := json.Marshal(refined)
		r.put(pc, DocRefined, doc)
	} else {
		r.gap(o.refine.Name(), refinedRes.Err)
		r.put(pc, DocRefined, emptyDocument)
		refined = FinishRefined(Refined{NameUK: productName}, ParsePricing(pc.Doc(DocMarket), req.Currency), pc.Keys())
	}

	// caption
	caption := runStage(o, r, o.caption, CaptionInput{
		VisionJSON:   pc.Doc(DocVision),
		MarketJSON:   pc.Doc(DocMarket),
		AudienceJSON: pc.Doc(DocAudience),
		RefinedJSON:  pc.Doc(DocRefined),
		Language:     req.Language,
	})
	if caption.IsCancelled() {
		return o.finish(r, StatusCancelled, caption.Err)
	}
	captionText := caption.Value
	if !caption.IsOk() {
		r.gap(o.caption.Name(), caption.Err)
		captionText = CaptionPlaceholder(req.Language)
	}
	doc, _ := json.Marshal(map[string]string{"caption": captionText})
	r.put(pc, DocCaption, doc)

	// photo
	photos := runStage(o, r, o.photo, PhotoInput{Keys: pc.Keys(), RunID: r.id, Options: req.Photo})
	switch {
	case photos.IsCancelled():
		return o.finish(r, StatusCancelled, photos.Err)
	case !photos.IsOk():
		r.gap(o.photo.Name(), photos.Err)
	case len(photos.Value) == 0:
		r.gap(o.photo.Name(), &stage.Error{Kind: stage.KindUpstreamUnavailable, Message: "no photo could be processed, keeping originals"})
	default:
		pc.ReplaceKeys(photos.Value)
	}
	if len(pc.Keys()) == 0 {
		pc.ReplaceKeys(ingressKeys)
	}

	draft := o.assemble(r.ctx, refined, pc, captionText, req.Language)
	r.outcome.Draft = draft

	validation := runStage(o, r, o.validate, draft)
	if validation.IsCancelled() {
		return o.finish(r, StatusCancelled, validation.Err)
	}
	r.outcome.Validation = validation.Value

	if !req.Publish {
		if len(r.outcome.Gaps) > 0 {
			return o.finish(r, StatusCompletedWithGap, nil)
		}
		return o.finish(r, StatusCompleted, nil)
	}
	return o.publishDraft(r, draft)
}

// Publish validates and publishes an existing draft.
func (o *Orchestrator) Publish(ctx context.Context, draft *listing.Draft) *Outcome {
	r := o.start(ctx, "pipeline publish")
	r.outcome.Draft = draft
	if r.ctx.Err() != nil {
		return o.finish(r, StatusCancelled, cancelledErr())
	}

	validation := runStage(o, r, o.validate, draft)
	if validation.IsCancelled() {
		return o.finish(r, StatusCancelled, validation.Err)
	}
	r.outcome.Validation = validation.Value
	return o.publishDraft(r, draft)
}

// publishDraft publishes when validation passed. A failed validation blocks
// publishing, including drafts with no price.
func (o *Orchestrator) publishDraft(r *run, draft *listing.Draft) *Outcome {
	if r.outcome.Validation != listing.ValidationOK {
		return o.finish(r, StatusValidationFailed, &stage.Error{
			Kind:    stage.KindMalformedResponse,
			Message: r.outcome.Validation,
		})
	}

	res := runStage(o, r, o.publish, draft)
	if res.IsCancelled() {
		return o.finish(r, StatusCancelled, res.Err)
	}
	if !res.IsOk() {
		return o.finish(r, StatusPublishFailed, res.Err)
	}
	r.outcome.Publish = &res.Value
	if !res.Value.Success {
		return o.finish(r, StatusPublishFailed, &stage.Error{
			Kind:    stage.KindUpstreamUnavailable,
			Message: res.Value.Message,
		})
	}
	return o.finish(r, StatusPublished, nil)
}

func (o *Orchestrator) recordDoc(r *run, pc *Context, name, stageName string, res stage.Result[json.RawMessage]) {
	if res.IsOk() {
		r.put(pc, name, res.Value)
		return
	}
	r.gap(stageName, res.Err)
	r.put(pc, name, emptyDocument)
}

// ingest stores the raw images. Images that cannot be stored are skipped.
func (o *Orchestrator) ingest(r *run, images [][]byte) ([]string, *stage.Error) {
	keys := make([]string, 0, len(images))
	for i, img := range images {
		ref, err := o.blobs.Put(r.ctx, blob.NamespaceIngress, r.id, i, img)
		if err != nil {
			if r.ctx.Err() != nil {
				return nil, cancelledErr()
			}
			log.Warn().Err(err).Str("runId", r.id).Int("index", i).Msg("failed to store uploaded image")
			continue
		}
		keys = append(keys, ref.Key)
	}
	return keys, nil
}
