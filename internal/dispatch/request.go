package dispatch

import (
	"github.com/neboloop/nexus/internal/ai"
)

const (
	// ActionReply tags every reply produced by a dispatch.
	ActionReply = "GEMINI_REPLY"

	StatusSuccess = "success"
	StatusError   = "error"

	defaultImageName = "image.png"
	defaultImageType = "image/png"
)

// Request is one inbound ask. Files wins over the legacy single image fields.
type Request struct {
	Text              string          `json:"text"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	SessionID         string          `json:"sessionId,omitempty"`
	Model             string          `json:"model,omitempty"`
	Files             []ai.Attachment `json:"files,omitempty"`

	Image     string `json:"image,omitempty"`
	ImageType string `json:"imageType,omitempty"`
	ImageName string `json:"imageName,omitempty"`
}

// Attachments normalizes the request's files into a list.
func (r *Request) Attachments() []ai.Attachment {
	if len(r.Files) > 0 {
		out := make([]ai.Attachment, len(r.Files))
		copy(out, r.Files)
		return out
	}
	if r.Image == "" {
		return nil
	}
	a := ai.Attachment{Data: r.Image, MimeType: r.ImageType, Name: r.ImageName}
	if a.Name == "" {
		a.Name = defaultImageName
	}
	if a.MimeType == "" {
		a.MimeType = defaultImageType
	}
	return []ai.Attachment{a}
}

// Reply is the normalized result of a dispatch.
type Reply struct {
	Action           string         `json:"action"`
	Text             string         `json:"text"`
	Thoughts         string         `json:"thoughts,omitempty"`
	Images           []string       `json:"images,omitempty"`
	Status           string         `json:"status"`
	Context          *ai.WebContext `json:"context,omitempty"`
	ThoughtSignature string         `json:"thoughtSignature,omitempty"`
}

func successReply(r *ai.Reply, wc *ai.WebContext) *Reply {
	return &Reply{
		Action:           ActionReply,
		Text:             r.Text,
		Thoughts:         r.Thoughts,
		Images:           r.Images,
		Status:           StatusSuccess,
		Context:          wc,
		ThoughtSignature: r.ThoughtSignature,
	}
}

func errorReply(msg string) *Reply {
	return &Reply{Action: ActionReply, Text: "Error: " + msg, Status: StatusError}
}
