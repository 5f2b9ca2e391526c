package session

import (
	"context"
	"fmt"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/markdown"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type ExportSessionLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Export a session as a markdown or HTML transcript
func NewExportSessionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ExportSessionLogic {
	return &ExportSessionLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// ExportSession returns the document and its content type.
func (l *ExportSessionLogic) ExportSession(req *types.ExportSessionRequest) (string, string, error) {
	s, err := l.svcCtx.Sessions.Get(l.ctx, req.Id)
	if err != nil {
		return "", "", err
	}
	msgs, err := l.svcCtx.Sessions.GetMessages(l.ctx, req.Id)
	if err != nil {
		return "", "", err
	}

	turns := make([]markdown.Turn, 0, len(msgs))
	for _, m := range msgs {
		t := markdown.Turn{Role: m.Role, Content: m.Content, At: m.CreatedAt}
		for _, a := range m.Attachments {
			t.Attachments = append(t.Attachments, a.Name)
		}
		turns = append(turns, t)
	}

	switch req.Format {
	case "", "markdown", "md":
		return markdown.Transcript(s.Title, turns), "text/markdown; charset=utf-8", nil
	case "html":
		return markdown.RenderPage(s.Title, turns), "text/html; charset=utf-8", nil
	default:
		return "", "", fmt.Errorf("unknown export format %q", req.Format)
	}
}
