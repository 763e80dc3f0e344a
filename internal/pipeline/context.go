package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Names of the documents a run accumulates.
const (
	DocVision   = "vision"
	DocEvidence = "evidence"
	DocMarket   = "market"
	DocAudience = "audience"
	DocRefined  = "refined"
	DocCaption  = "caption"
)

// ErrDocumentExists is returned when a document name is written twice.
var ErrDocumentExists = errors.New("document already exists")

// emptyDocument replaces the output of a stage that failed.
var emptyDocument = json.RawMessage(`{}`)

// Context is the append-only set of named JSON documents a run accumulates,
// plus the current ordered list of blob reference keys.
type Context struct {
	mu    sync.RWMutex
	docs  map[string]json.RawMessage
	order []string
	keys  []string
}

func NewContext(keys []string) *Context {
	return &Context{
		docs: make(map[string]json.RawMessage),
		keys: append([]string(nil), keys...),
	}
}

// Put stores doc under name. Documents are immutable once written.
func (c *Context) Put(name string, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("document %s is not valid JSON", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDocumentExists)
	}
	c.docs[name] = append(json.RawMessage(nil), doc...)
	c.order = append(c.order, name)
	return nil
}

// Get returns a copy of the document stored under name.
func (c *Context) Get(name string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[name]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), doc...), true
}

// Doc returns the document stored under name or an empty object.
func (c *Context) Doc(name string) json.RawMessage {
	if doc, ok := c.Get(name); ok {
		return doc
	}
	return emptyDocument
}

// Names lists the documents in write order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.keys...)
}

// ReplaceKeys swaps the reference list, e.g. for the corrected photos.
func (c *Context) ReplaceKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append([]string(nil), keys...)
}

func (c *Context) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(struct {
		Documents map[string]json.RawMessage `json:"documents"`
		Keys      []string                   `json:"keys"`
	}{Documents: c.docs, Keys: c.keys})
}
