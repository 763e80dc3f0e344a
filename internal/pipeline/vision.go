package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/raine/listing-pipeline/internal/blob"
	"github.com/raine/listing-pipeline/internal/cache"
	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultVisionCacheTTL bounds how long a vision result is reused.
const DefaultVisionCacheTTL = 24 * time.Hour

// Telegram's album limit; more images add cost without improving recognition.
const maxVisionImages = 10

type VisionInput struct {
	Keys     []string
	Language string
	Hints    string
}

type VisionResult struct {
	ProductName      string   `json:"productName"`
	SceneDescription string   `json:"sceneDescription"`
	KeyFeatures      []string `json:"keyFeatures"`
	ConfidenceScore  float64  `json:"confidenceScore"`
}

// VisionStage identifies the product in a set of images.
type VisionStage struct {
	blobs       *blob.Store
	llm         llm.Client
	cache       cache.Cache
	ttl         time.Duration
	concurrency int
}

func NewVisionStage(blobs *blob.Store, client llm.Client, c cache.Cache, ttl time.Duration, concurrency int) *VisionStage {
	if ttl <= 0 {
		ttl = DefaultVisionCacheTTL
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &VisionStage{blobs: blobs, llm: client, cache: c, ttl: ttl, concurrency: concurrency}
}

func (s *VisionStage) Name() string { return "vision" }

func (s *VisionStage) Description() string {
	return "identifies the product and scene from the uploaded photos"
}

// VisionCacheKey derives the result cache key from the sorted reference keys,
// the language and a hash of the hints.
func VisionCacheKey(in VisionInput) string {
	keys := append([]string(nil), in.Keys...)
	sort.Strings(keys)
	hintHash := sha256.Sum256([]byte(in.Hints))

	h := sha256.New()
	for _, k := range keys {
		binary.Write(h, binary.LittleEndian, int64(len(k)))
		h.Write([]byte(k))
	}
	binary.Write(h, binary.LittleEndian, int64(len(in.Language)))
	h.Write([]byte(in.Language))
	h.Write(hintHash[:])
	return "vision:" + hex.EncodeToString(h.Sum(nil))
}

func (s *VisionStage) Run(ctx context.Context, in VisionInput) stage.Result[VisionResult] {
	cacheKey := VisionCacheKey(in)
	if cached, ok := s.cached(ctx, cacheKey); ok {
		log.Debug().Str("key", cacheKey[:23]).Msg("vision cache hit")
		return stage.Ok(cached)
	}

	images := resolveImages(ctx, s.blobs, in.Keys, s.concurrency)
	if ctx.Err() != nil {
		return stage.Cancelled[VisionResult]()
	}
	if len(images) == 0 {
		return stage.Fail[VisionResult](stage.KindUpstreamUnavailable, "none of %d images could be resolved", len(in.Keys))
	}
	if len(images) > maxVisionImages {
		images = images[:maxVisionImages]
	}

	parts := make([]llm.Part, 0, len(images)+1)
	if hint := strings.TrimSpace(in.Hints); hint != "" {
		parts = append(parts, llm.Part{Text: prompt(visionHintPrompt, hint)})
	}
	for _, img := range images {
		parts = append(parts, llm.Part{Data: img, MIMEType: http.DetectContentType(img)})
	}

	resp, err := s.llm.Complete(ctx, &llm.Request{
		Tag:         s.Name(),
		System:      prompt(visionSystemPrompt, in.Language),
		Messages:    []llm.Message{{Role: llm.RoleUser, Parts: parts}},
		Temperature: 0.2,
		Format:      llm.FormatJSON,
	})
	if err != nil {
		return stage.FromError[VisionResult](ctx, err, stage.KindUpstreamUnavailable, "vision llm call")
	}

	result, err := parseVisionResult(resp.Text)
	if err != nil {
		return stage.FailRaw[VisionResult](stage.KindMalformedResponse, resp.Text, "invalid vision response: %v", err)
	}

	if data, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, cacheKey, data, s.ttl); err != nil {
			log.Warn().Err(err).Msg("failed to cache vision result")
		}
	}
	return stage.Ok(result)
}

func (s *VisionStage) cached(ctx context.Context, key string) (VisionResult, bool) {
	if s.cache == nil {
		return VisionResult{}, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("failed to check vision cache")
		return VisionResult{}, false
	}
	if !ok {
		return VisionResult{}, false
	}
	var result VisionResult
	if err := json.Unmarshal(data, &result); err != nil || result.ProductName == "" {
		return VisionResult{}, false
	}
	return result, true
}

func parseVisionResult(text string) (VisionResult, error) {
	var result VisionResult
	if err := decodeObject(text, &result); err != nil {
		return result, err
	}
	result.ProductName = strings.TrimSpace(result.ProductName)
	if result.ProductName == "" {
		return result, errMissingField("productName")
	}
	if result.ConfidenceScore < 0 {
		result.ConfidenceScore = 0
	}
	if result.ConfidenceScore > 1 {
		result.ConfidenceScore = 1
	}
	return result, nil
}

// resolveImages resolves keys concurrently. Failed keys are logged and left
// out; the result keeps the input order.
func resolveImages(ctx context.Context, blobs *blob.Store, keys []string, limit int) [][]byte {
	resolved := make([][]byte, len(keys))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, key := range keys {
		g.Go(func() error {
			res := blobs.Resolve(ctx, key)
			if !res.IsOk() {
				if !res.IsCancelled() {
					log.Warn().Str("key", key).Str("kind", string(res.Err.Kind)).Str("error", res.Err.Message).Msg("skipping unresolvable image")
				}
				return nil
			}
			resolved[i] = res.Value
			return nil
		})
	}
	g.Wait()

	out := make([][]byte, 0, len(keys))
	for _, data := range resolved {
		if len(data) > 0 {
			out = append(out, data)
		}
	}
	return out
}
