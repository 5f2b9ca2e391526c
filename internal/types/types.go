package types

// Attachment is a file sent with an ask, as base64 (optionally a data URL).
type Attachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

type AskRequest struct {
	Text              string       `json:"text"`
	SystemInstruction string       `json:"systemInstruction,omitempty"`
	SessionId         string       `json:"sessionId,omitempty"`
	Model             string       `json:"model,omitempty"`
	Files             []Attachment `json:"files,omitempty"`
	// Legacy single-image fields, ignored when Files is set
	Image     string `json:"image,omitempty"`
	ImageType string `json:"imageType,omitempty"`
	ImageName string `json:"imageName,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type ResetContextResponse struct {
	Reset bool `json:"reset"`
}

type Session struct {
	Id        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type SessionMessage struct {
	Id          int64        `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   string       `json:"createdAt"`
}

type ListSessionsRequest struct {
	Limit int `form:"limit"`
}

type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

type CreateSessionRequest struct {
	Id    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

type CreateSessionResponse struct {
	Session Session `json:"session"`
}

type GetSessionRequest struct {
	Id string `path:"id"`
}

type ExportSessionRequest struct {
	Id     string `path:"id"`
	Format string `form:"format"` // markdown (default) or html
}

type GetSessionResponse struct {
	Session  Session          `json:"session"`
	Messages []SessionMessage `json:"messages"`
}

type DeleteSessionRequest struct {
	Id string `path:"id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
