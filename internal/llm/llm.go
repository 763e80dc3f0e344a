// Package llm is a small chat-completion abstraction over the model provider.
package llm

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Format selects the response encoding requested from the model.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Part is one piece of a message: either text or inline binary data.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

type Message struct {
	Role  Role
	Parts []Part
}

// Request is a single completion call.
type Request struct {
	// Tag names the call in logs and metrics (e.g. "vision", "market").
	Tag         string
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Format      Format
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	CostUSD      float64 `json:"costUSD"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

type Response struct {
	Text   string
	Model  string
	Usage  Usage
	Cached bool
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// UserText builds a user message holding a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// ExtractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

// StripCodeFence removes a surrounding markdown code block if the model added one.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the info string (```text, ```markdown, ...)
	if nl := strings.IndexByte(text, '\n'); nl != -1 && !strings.ContainsAny(strings.TrimSpace(text[:nl]), " \t") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
