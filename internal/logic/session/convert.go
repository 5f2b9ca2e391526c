package session

import (
	"time"

	"github.com/neboloop/nexus/internal/db"
	"github.com/neboloop/nexus/internal/types"
)

func toSession(s db.ChatSession) types.Session {
	return types.Session{
		Id:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

func toMessage(m db.SessionMessage) types.SessionMessage {
	out := types.SessionMessage{
		Id:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, types.Attachment{Data: a.Data, MimeType: a.MimeType, Name: a.Name})
	}
	return out
}
