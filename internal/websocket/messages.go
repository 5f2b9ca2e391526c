package websocket

import (
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/types"
)

// Inbound frame types.
const (
	FrameAsk          = "ask"
	FrameCancel       = "cancel"
	FrameResetContext = "reset_context"
)

// Outbound actions besides dispatch.ActionReply.
const (
	ActionStreamUpdate = "GEMINI_STREAM_UPDATE"
	ActionCanceled     = "GEMINI_CANCELED"
	ActionError        = "GEMINI_ERROR"
)

// Frame is a message from the client.
type Frame struct {
	Type string            `json:"type"`
	ID   string            `json:"id,omitempty"`
	Ask  *types.AskRequest `json:"ask,omitempty"`
}

// StreamUpdate carries the cumulative partial reply of an ask.
type StreamUpdate struct {
	Action   string `json:"action"`
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	Thoughts string `json:"thoughts,omitempty"`
}

// ReplyFrame is the final reply of an ask.
type ReplyFrame struct {
	ID string `json:"id,omitempty"`
	*dispatch.Reply
}

// Notice reports a cancelled ask or a malformed frame.
type Notice struct {
	Action  string `json:"action"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}
