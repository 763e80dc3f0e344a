package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/raine/listing-pipeline/internal/cache"
	"github.com/rs/zerolog/log"
)

// CachedClient wraps a Client with a response cache. Identical requests
// within ttl are answered from the cache with zero usage.
type CachedClient struct {
	inner Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient creates a cached client.
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{inner: inner, cache: c, ttl: ttl}
}

type cachedResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// RequestKey hashes every field that influences the completion.
// Each variable-length field is length-prefixed to prevent boundary collisions.
func RequestKey(req *Request) string {
	h := sha256.New()
	writeField := func(b []byte) {
		binary.Write(h, binary.LittleEndian, int64(len(b)))
		h.Write(b)
	}
	writeField([]byte(req.System))
	binary.Write(h, binary.LittleEndian, req.Temperature)
	binary.Write(h, binary.LittleEndian, int64(req.MaxTokens))
	binary.Write(h, binary.LittleEndian, int64(req.Format))
	for _, msg := range req.Messages {
		writeField([]byte(msg.Role))
		for _, p := range msg.Parts {
			writeField([]byte(p.Text))
			writeField([]byte(p.MIMEType))
			writeField(p.Data)
		}
	}
	return "llm:" + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	key := RequestKey(req)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("tag", req.Tag).Msg("failed to check llm response cache")
	} else if ok {
		var cached cachedResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			log.Debug().Str("tag", req.Tag).Str("key", key[:20]).Msg("llm response cache hit")
			return &Response{Text: cached.Text, Model: cached.Model, Cached: true}, nil
		}
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if cacheable(req, resp) {
		data, _ := json.Marshal(cachedResponse{Text: resp.Text, Model: resp.Model})
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			log.Warn().Err(err).Str("tag", req.Tag).Msg("failed to cache llm response")
		}
	}
	return resp, nil
}

// cacheable reports whether resp may be replayed for req. Replies to JSON
// requests must contain a well-formed object.
func cacheable(req *Request, resp *Response) bool {
	if strings.TrimSpace(resp.Text) == "" {
		return false
	}
	if req.Format != FormatJSON {
		return true
	}
	obj, err := ExtractJSONObject(resp.Text)
	return err == nil && json.Valid([]byte(obj))
}
