// Package blob keeps image bytes out of the inter-stage JSON context. Stages
// pass short reference keys; the Store resolves a key to bytes from the remote
// object store or, when the upload failed, from a base64 copy in a local
// time-limited cache.
package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raine/listing-pipeline/internal/cache"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long a reference stays resolvable.
	DefaultTTL = 30 * time.Minute

	NamespaceIngress   = "ingress"
	NamespaceProcessed = "processed"

	refPrefix    = "ref:"
	inlinePrefix = "inline:"
)

// ErrNotFound is returned by ObjectStore.Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the remote storage the Store uploads to.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Reference describes how a key resolves to bytes. Exactly one of BackingKey
// and Inline is set.
type Reference struct {
	Key        string    `json:"key"`
	BackingKey string    `json:"backingKey,omitempty"`
	Inline     bool      `json:"inline,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store maps reference keys to image bytes.
type Store struct {
	objects ObjectStore
	bucket  string
	cache   cache.Cache
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a Store. objects may be nil, in which case every Put takes
// the inline path.
func NewStore(objects ObjectStore, bucket string, c cache.Cache) *Store {
	return &Store{
		objects: objects,
		bucket:  bucket,
		cache:   c,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// WithTTL sets the reference lifetime.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock replaces the time source (for tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Key builds the reference key for one image of a run.
func Key(namespace, runID string, index int) string {
	return fmt.Sprintf("%s/%s/%d", namespace, runID, index)
}

// Put stores data and returns its reference. It only fails when both the
// remote upload and the inline fallback fail.
func (s *Store) Put(ctx context.Context, namespace, runID string, index int, data []byte) (Reference, error) {
	key := Key(namespace, runID, index)
	ref := Reference{Key: key, ExpiresAt: s.now().Add(s.ttl)}

	uploaded := false
	if s.objects != nil {
		err := s.objects.Put(ctx, s.bucket, key, data, http.DetectContentType(data))
		if err == nil {
			ref.BackingKey = key
			uploaded = true
		} else {
			if ctx.Err() != nil {
				return Reference{}, ctx.Err()
			}
			log.Warn().Err(err).Str("key", key).Msg("object store upload failed, using inline fallback")
		}
	}

	if !uploaded {
		encoded := base64.StdEncoding.EncodeToString(data)
		if err := s.cache.Set(ctx, inlinePrefix+key, []byte(encoded), s.ttl); err != nil {
			return Reference{}, fmt.Errorf("failed to store inline fallback: %w", err)
		}
		ref.Inline = true
	}

	meta, err := json.Marshal(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("failed to encode reference: %w", err)
	}
	if err := s.cache.Set(ctx, refPrefix+key, meta, s.ttl); err != nil {
		return Reference{}, fmt.Errorf("failed to store reference: %w", err)
	}

	log.Debug().Str("key", key).Bool("inline", ref.Inline).Int("bytes", len(data)).Msg("blob stored")
	return ref, nil
}

// Lookup returns the reference recorded for key.
func (s *Store) Lookup(ctx context.Context, key string) (Reference, bool, error) {
	meta, ok, err := s.cache.Get(ctx, refPrefix+key)
	if err != nil || !ok {
		return Reference{}, false, err
	}
	var ref Reference
	if err := json.Unmarshal(meta, &ref); err != nil {
		return Reference{}, false, fmt.Errorf("corrupt reference %s: %w", key, err)
	}
	return ref, true, nil
}

// Resolve returns the bytes behind key.
func (s *Store) Resolve(ctx context.Context, key string) stage.Result[[]byte] {
	if ctx.Err() != nil {
		return stage.Cancelled[[]byte]()
	}

	ref, ok, err := s.Lookup(ctx, key)
	if err != nil {
		return stage.FromError[[]byte](ctx, err, stage.KindUpstreamUnavailable, "reference lookup")
	}
	if !ok {
		s.forget(ctx, key)
		return stage.Fail[[]byte](stage.KindUpstreamUnavailable, "unknown or expired reference %s", key)
	}
	if s.now().After(ref.ExpiresAt) {
		s.forget(ctx, key)
		return stage.Fail[[]byte](stage.KindUpstreamUnavailable, "reference %s expired at %s", key, ref.ExpiresAt.Format(time.RFC3339))
	}

	if ref.BackingKey != "" && s.objects != nil {
		data, err := s.download(ctx, ref.BackingKey)
		if err == nil {
			return stage.Ok(data)
		}
		if ctx.Err() != nil {
			return stage.Cancelled[[]byte]()
		}
		log.Warn().Err(err).Str("key", key).Msg("object store read failed, trying inline fallback")
	}

	encoded, ok, err := s.cache.Get(ctx, inlinePrefix+key)
	if err != nil {
		return stage.FromError[[]byte](ctx, err, stage.KindUpstreamUnavailable, "inline fallback")
	}
	if !ok {
		return stage.Fail[[]byte](stage.KindUpstreamUnavailable, "reference %s is not resolvable", key)
	}
	data, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return stage.Fail[[]byte](stage.KindMalformedResponse, "corrupt inline payload for %s: %v", key, err)
	}
	return stage.Ok(data)
}

// forget drops the cached metadata and inline payload of a dead reference.
// Remote objects are left to the bucket's lifecycle rules.
func (s *Store) forget(ctx context.Context, key string) {
	for _, k := range []string{refPrefix + key, inlinePrefix + key} {
		if err := s.cache.Delete(ctx, k); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("failed to drop expired reference")
		}
	}
}

func (s *Store) download(ctx context.Context, backingKey string) ([]byte, error) {
	rc, err := s.objects.Get(ctx, s.bucket, backingKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return buf.Bytes(), nil
}

// PresignedURL returns a temporary GET URL for a remote reference. Inline
// references have no URL and return "".
func (s *Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ref, ok, err := s.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok || ref.Inline || ref.BackingKey == "" || s.objects == nil {
		return "", nil
	}
	return s.objects.PresignedURL(ctx, s.bucket, ref.BackingKey, ttl)
}
