package ai

import (
	"context"
	"strings"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText      StreamEventType = "text"
	EventTypeThinking  StreamEventType = "thinking"
	EventTypeImage     StreamEventType = "image"     // Text carries an image URL or data URL
	EventTypeSignature StreamEventType = "signature" // Text carries the thought signature
	EventTypeError     StreamEventType = "error"
	EventTypeDone      StreamEventType = "done" // Context is set by stateful providers
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Text    string          `json:"text,omitempty"`
	Error   error           `json:"-"`
	Context *WebContext     `json:"context,omitempty"`
}

// Attachment is a file sent alongside a message.
type Attachment struct {
	Data     string `json:"data"` // base64 payload, optionally a data: URL
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// RawData returns the base64 payload with any data-URL header stripped.
func (a Attachment) RawData() string {
	if strings.HasPrefix(a.Data, "data:") {
		if i := strings.Index(a.Data, ","); i >= 0 {
			return a.Data[i+1:]
		}
	}
	return a.Data
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role        string       `json:"role"` // "user" or "model"
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Update is the accumulated partial reply reported while a response streams.
type Update struct {
	Text     string `json:"text"`
	Thoughts string `json:"thoughts,omitempty"`
}

// UpdateFunc receives partial replies. It may be called zero or more times.
type UpdateFunc func(Update)

// ChatRequest is a single ask sent to a provider.
type ChatRequest struct {
	Text          string       `json:"text"`
	System        string       `json:"system,omitempty"`
	History       []Turn       `json:"history,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Model         string       `json:"model,omitempty"`
	ThinkingLevel string       `json:"thinking_level,omitempty"`

	// Per-request credentials; rotation happens above the provider.
	APIKey  string `json:"-"`
	BaseURL string `json:"-"`

	// Web session only.
	Context      *WebContext `json:"-"`
	AccountIndex int         `json:"-"`

	OnUpdate UpdateFunc `json:"-"`
}

// Reply is the complete response of a provider.
type Reply struct {
	Text             string      `json:"text"`
	Thoughts         string      `json:"thoughts,omitempty"`
	Images           []string    `json:"images,omitempty"`
	Context          *WebContext `json:"context,omitempty"`
	ThoughtSignature string      `json:"thoughtSignature,omitempty"`
}

// Provider streams a response for a request.
type Provider interface {
	// ID returns the provider identifier (e.g., "gemini", "openai")
	ID() string

	// Stream sends a request and returns a channel of streaming events
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// Adapter sends a request and returns the complete reply.
type Adapter interface {
	Send(ctx context.Context, req *ChatRequest) (*Reply, error)
}

// Collect drains a provider stream into a Reply, reporting accumulated
// partial text through req.OnUpdate as it arrives.
func Collect(ctx context.Context, p Provider, req *ChatRequest) (*Reply, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var text, thoughts strings.Builder
	reply := &Reply{}
	for ev := range events {
		switch ev.Type {
		case EventTypeText:
			text.WriteString(ev.Text)
		case EventTypeThinking:
			thoughts.WriteString(ev.Text)
		case EventTypeImage:
			reply.Images = append(reply.Images, ev.Text)
			continue
		case EventTypeSignature:
			reply.ThoughtSignature = ev.Text
			continue
		case EventTypeError:
			// Drain so the producer goroutine can exit.
			for range events {
			}
			return nil, ev.Error
		case EventTypeDone:
			if ev.Context != nil {
				reply.Context = ev.Context
			}
			continue
		}
		if req.OnUpdate != nil {
			req.OnUpdate(Update{Text: text.String(), Thoughts: thoughts.String()})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, Wrap(KindCanceled, p.ID(), err)
	}

	reply.Text = text.String()
	reply.Thoughts = thoughts.String()
	if reply.Text == "" && len(reply.Images) == 0 {
		return nil, &ProviderError{Kind: KindTransient, Provider: p.ID(), Message: "No valid response found"}
	}
	return reply, nil
}

// send delivers an event unless the context is done.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
