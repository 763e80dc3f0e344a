package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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
	"github.com/raine/listing-pipeline/internal/translit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const mugName = "Керамічна чашка ручної роботи"

func mugResponses() map[string]string {
	return map[string]string{
		"vision": `{"productName": "` + mugName + `", "sceneDescription": "Чашка на дерев'яному столі",
			"keyFeatures": ["глазур", "350 мл"], "confidenceScore": 0.92}`,
		"market": `{"summary": "Попит стабільний", "recommendedPrice": "450", "currency": "UAH",
			"category": "Посуд", "measureUnit": "шт.", "availability": "in_stock",
			"minimumOrderQuantity": "1", "dimensions": {"height": "10 см", "weight": "0.3 кг"},
			"seoKeywords": ["чашка", "кераміка"]}`,
		"audience": `{"audienceProfile": "Поціновувачі ручної роботи", "keyCharacteristics": ["25-45 років"]}`,
		"refine": "```json\n{\"nameUk\": \"" + mugName + "\", \"descriptionUk\": \"Чашка з глини, вкрита глазур'ю.\"," +
			" \"keywordsUk\": [\"чашка\", \"кераміка\"], \"metaTitleUk\": \"Чашка ручної роботи\"," +
			" \"benefitsUk\": [\"ручна робота\"]}\n```",
		"caption": "Ранкова кава смакує краще з чашки ручної роботи! #кераміка #чашка",
	}
}

func mugImages(t *testing.T) [][]byte {
	return [][]byte{
		pngBytes(t, color.White),
		pngBytes(t, color.RGBA{R: 200, G: 120, B: 80, A: 255}),
		pngBytes(t, color.Black),
	}
}

func newTestOrchestrator(deps Deps) *Orchestrator {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache()
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewStore(blob.NewMockObjectStore(), "bucket", deps.Cache)
	}
	o := New(deps)
	n := 0
	o.newRunID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return o
}

func TestOrchestrator_CeramicMug(t *testing.T) {
	client := &llm.MockClient{Responses: mugResponses()}
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(Deps{LLM: client, Recorder: observability.NewRecorder(reg)})

	out := o.Run(context.Background(), Request{
		Images:   mugImages(t),
		Hint:     "handmade ceramic mug",
		Language: "ukr",
		Currency: "UAH",
		Photo:    imageproc.Options{Width: 24, Height: 24, WatermarkText: "shop"},
	})

	require.Nil(t, out.Error)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Empty(t, out.Gaps)
	assert.Equal(t, listing.ValidationOK, out.Validation)
	assert.Nil(t, out.Publish)

	d := out.Draft
	require.NotNil(t, d)
	assert.Equal(t, mugName, d.Title.UK)
	assert.Equal(t, translit.UkToRu(mugName), d.Title.RU)
	assert.NotEmpty(t, d.Description.RU)
	assert.Equal(t, []string{"чашка", "кераміка"}, d.Keywords.UK)
	assert.Equal(t, 450.0, d.Price)
	assert.Equal(t, "UAH", d.Currency)
	assert.Equal(t, "Посуд", d.Category)
	assert.Equal(t, "шт.", d.MeasureUnit)
	assert.Equal(t, 1, d.MinimumOrderQuantity)
	assert.Equal(t, "10 см", d.Dimensions.Height)
	assert.Equal(t, translit.Slugify(mugName), d.SeoURL)
	assert.Equal(t, []string{"processed/run-1/0", "processed/run-1/1", "processed/run-1/2"}, d.ImageKeys)
	assert.Equal(t, "https://objects.test/bucket/processed/run-1/0", d.ImageURLs[0])
	assert.Contains(t, d.Caption, "#кераміка")

	assert.Equal(t, []string{DocVision, DocEvidence, DocMarket, DocAudience, DocRefined, DocCaption}, out.Context.Names())
	var ev Evidence
	require.NoError(t, json.Unmarshal(out.Context.Doc(DocEvidence), &ev))
	assert.Empty(t, ev.Hits)

	stages := make([]string, 0, len(out.Timings))
	for _, timing := range out.Timings {
		stages = append(stages, timing.Stage)
		assert.Equal(t, "ok", timing.Result)
	}
	assert.Equal(t, []string{"vision", "evidence", "market", "audience", "refine", "caption", "photo", "validate"}, stages)

	assert.Equal(t, 5, len(client.Calls()))
	runs, err := testutil.GatherAndCount(reg, "listing_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	results, err := testutil.GatherAndCount(reg, "listing_pipeline_stage_results_total")
	require.NoError(t, err)
	assert.Equal(t, 8, results)
}

func TestOrchestrator_Spans(t *testing.T) {
	responses := mugResponses()
	responses["audience"] = "not json"
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	o := newTestOrchestrator(Deps{LLM: &llm.MockClient{Responses: responses}})
	o.tracer = tp.Tracer("test")

	out := o.Run(context.Background(), Request{Images: mugImages(t)[:1], Language: "uk"})
	require.Equal(t, StatusCompletedWithGap, out.Status)

	spans := sr.Ended()
	require.Len(t, spans, len(out.Timings)+1)

	root := spans[len(spans)-1]
	assert.Equal(t, "pipeline run", root.Name())
	assert.Contains(t, root.Attributes(), attribute.String("run.status", string(StatusCompletedWithGap)))

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans[:len(spans)-1] {
		byName[s.Name()] = s
		assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID())
	}
	assert.Equal(t, codes.Error, byName["stage audience"].Status().Code)
	assert.Equal(t, codes.Unset, byName["stage market"].Status().Code)
}

func TestOrchestrator_ObjectStoreUnreachable(t *testing.T) {
	objects := blob.NewMockObjectStore()
	objects.PutFunc = func(ctx context.Context, bucket, key string, data []byte, contentType string) error {
		return errors.New("dial tcp: connection refused")
	}
	c := cache.NewMemoryCache()
	client := &llm.MockClient{Responses: mugResponses()}
	o := newTestOrchestrator(Deps{LLM: client, Cache: c, Blobs: blob.NewStore(objects, "bucket", c)})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Language: "uk", Currency: "UAH"})

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, listing.ValidationOK, out.Validation)
	assert.Len(t, out.Draft.ImageKeys, 3)
	assert.Nil(t, out.Draft.ImageURLs)
	assert.Equal(t, 0, objects.Gets())

	vision := client.Calls()[0]
	assert.Equal(t, "vision", vision.Tag)
	assert.Len(t, vision.Messages[0].Parts, 3)
}

func TestOrchestrator_CancelBeforePhoto(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responses := mugResponses()
	var published atomic.Bool
	client := &llm.MockClient{CompleteFunc: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
		if req.Tag == "caption" {
			cancel()
		}
		return &llm.Response{Text: responses[req.Tag]}, nil
	}}
	o := newTestOrchestrator(Deps{
		LLM: client,
		Publisher: publisherFunc(func(ctx context.Context, d *listing.Draft) (publish.Result, error) {
			published.Store(true)
			return publish.Result{Success: true}, nil
		}),
	})

	out := o.Run(ctx, Request{Images: mugImages(t), Language: "uk", Publish: true})

	assert.Equal(t, StatusCancelled, out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, stage.KindCancelled, out.Error.Kind)
	assert.Nil(t, out.Draft)
	assert.False(t, published.Load())

	last := out.Timings[len(out.Timings)-1]
	assert.Equal(t, "photo", last.Stage)
	assert.Equal(t, string(stage.KindCancelled), last.Result)
}

func TestOrchestrator_Gaps(t *testing.T) {
	responses := mugResponses()
	delete(responses, "vision")
	responses["audience"] = "not json at all"
	client := &llm.MockClient{Responses: responses}
	o := newTestOrchestrator(Deps{LLM: client})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Hint: "ceramic mug", Language: "uk"})

	assert.Equal(t, StatusCompletedWithGap, out.Status)
	require.Len(t, out.Gaps, 2)
	assert.Equal(t, "vision", out.Gaps[0].Stage)
	assert.Equal(t, stage.KindUpstreamUnavailable, out.Gaps[0].Kind)
	assert.Equal(t, "audience", out.Gaps[1].Stage)
	assert.Equal(t, stage.KindMalformedResponse, out.Gaps[1].Kind)

	assert.JSONEq(t, `{"productName": "ceramic mug"}`, string(out.Context.Doc(DocVision)))
	assert.JSONEq(t, `{}`, string(out.Context.Doc(DocAudience)))

	var ev Evidence
	require.NoError(t, json.Unmarshal(out.Context.Doc(DocEvidence), &ev))
	assert.Equal(t, SearchQuery("ceramic mug", ""), ev.Query)
}

func TestOrchestrator_CaptionFailureIsGap(t *testing.T) {
	responses := mugResponses()
	delete(responses, "caption")
	o := newTestOrchestrator(Deps{LLM: &llm.MockClient{Responses: responses}})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Language: "uk", Currency: "UAH"})

	assert.Equal(t, StatusCompletedWithGap, out.Status)
	require.Len(t, out.Gaps, 1)
	assert.Equal(t, "caption", out.Gaps[0].Stage)
	assert.Equal(t, stage.KindUpstreamUnavailable, out.Gaps[0].Kind)
	require.NotNil(t, out.Draft)
	assert.Equal(t, CaptionPlaceholder("uk"), out.Draft.Caption)
	assert.JSONEq(t, `{"caption": "`+CaptionPlaceholder("uk")+`"}`, string(out.Context.Doc(DocCaption)))
	assert.Equal(t, listing.ValidationOK, out.Validation)
}

func TestOrchestrator_RefineFailureUsesDefaults(t *testing.T) {
	responses := mugResponses()
	delete(responses, "refine")
	o := newTestOrchestrator(Deps{LLM: &llm.MockClient{Responses: responses}})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Language: "uk", Currency: "UAH"})

	assert.Equal(t, StatusCompletedWithGap, out.Status)
	assert.Equal(t, mugName, out.Draft.Title.UK)
	assert.Equal(t, 450.0, out.Draft.Price)
	assert.Equal(t, translit.Slugify(mugName), out.Draft.SeoURL)
	assert.Equal(t, "description is empty; no keywords", out.Validation)
}

func TestOrchestrator_NoImagesStored(t *testing.T) {
	o := newTestOrchestrator(Deps{LLM: &llm.MockClient{}})
	out := o.Run(context.Background(), Request{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Empty(t, out.Timings)
}

func TestOrchestrator_Evidence(t *testing.T) {
	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`<html><head><meta property="og:title" content="Чашка 350 мл"></head>
<body><span class="price">399 грн</span><div class="product-description">Біла чашка</div></body></html>`))
	}))
	defer shop.Close()

	searcher := &search.MockSearcher{SearchFunc: func(ctx context.Context, query string, limit int) ([]search.Hit, error) {
		return []search.Hit{
			{Title: "Чашка", Link: shop.URL + "/mug"},
			{Title: "Broken", Link: shop.URL + "/broken"},
		}, nil
	}}
	o := newTestOrchestrator(Deps{
		LLM:      &llm.MockClient{Responses: mugResponses()},
		Searcher: searcher,
		Scraper:  scrape.NewScraper(scrape.NewHTTPFetcher(0)),
	})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Language: "uk", Currency: "UAH"})
	require.Equal(t, StatusCompleted, out.Status)

	var ev Evidence
	require.NoError(t, json.Unmarshal(out.Context.Doc(DocEvidence), &ev))
	assert.Equal(t, SearchQuery(mugName, "UAH"), ev.Query)
	assert.Len(t, ev.Hits, 2)
	require.Len(t, ev.Products, 1)
	assert.Equal(t, 399.0, ev.Products[0].Price)
	require.Len(t, ev.Failures, 1)
	assert.Equal(t, shop.URL+"/broken", ev.Failures[0].URL)
}

func TestOrchestrator_SearchFailureIsGap(t *testing.T) {
	searcher := &search.MockSearcher{SearchFunc: func(ctx context.Context, query string, limit int) ([]search.Hit, error) {
		return nil, errors.New("quota exceeded")
	}}
	o := newTestOrchestrator(Deps{LLM: &llm.MockClient{Responses: mugResponses()}, Searcher: searcher})

	out := o.Run(context.Background(), Request{Images: mugImages(t), Language: "uk"})
	assert.Equal(t, StatusCompletedWithGap, out.Status)
	require.Len(t, out.Gaps, 1)
	assert.Equal(t, "evidence", out.Gaps[0].Stage)
	assert.JSONEq(t, `{}`, string(out.Context.Doc(DocEvidence)))
}

func TestOrchestrator_Publish(t *testing.T) {
	valid := &listing.Draft{
		Title:       listing.Localized{UK: "Чашка"},
		Description: listing.Localized{UK: "Опис"},
		Keywords:    listing.LocalizedList{UK: []string{"чашка"}},
		ImageKeys:   []string{"processed/r/0"},
		Price:       450,
	}

	tests := []struct {
		name       string
		draft      *listing.Draft
		publisher  Publisher
		wantStatus Status
		wantCalled bool
	}{
		{
			name:  "published",
			draft: valid,
			publisher: publisherFunc(func(ctx context.Context, d *listing.Draft) (publish.Result, error) {
				return publish.Result{Success: true, PublishedID: "p-1", StatusCode: 201}, nil
			}),
			wantStatus: StatusPublished,
			wantCalled: true,
		},
		{
			name:  "rejected",
			draft: valid,
			publisher: publisherFunc(func(ctx context.Context, d *listing.Draft) (publish.Result, error) {
				return publish.Result{Success: false, Message: "invalid category", StatusCode: 422}, nil
			}),
			wantStatus: StatusPublishFailed,
			wantCalled: true,
		},
		{
			name:       "not configured",
			draft:      valid,
			wantStatus: StatusPublishFailed,
		},
		{
			name:  "zero price blocks publishing",
			draft: &listing.Draft{Title: valid.Title, Description: valid.Description, Keywords: valid.Keywords, ImageKeys: valid.ImageKeys},
			publisher: publisherFunc(func(ctx context.Context, d *listing.Draft) (publish.Result, error) {
				return publish.Result{Success: true}, nil
			}),
			wantStatus: StatusValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called atomic.Bool
			var p Publisher
			if tt.publisher != nil {
				p = publisherFunc(func(ctx context.Context, d *listing.Draft) (publish.Result, error) {
					called.Store(true)
					return tt.publisher.Publish(ctx, d)
				})
			}
			o := newTestOrchestrator(Deps{LLM: &llm.MockClient{}, Publisher: p})

			out := o.Publish(context.Background(), tt.draft)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantCalled, called.Load())
			if tt.wantStatus == StatusPublished {
				require.NotNil(t, out.Publish)
				assert.Equal(t, "p-1", out.Publish.PublishedID)
			} else {
				assert.NotNil(t, out.Error)
			}
		})
	}
}
