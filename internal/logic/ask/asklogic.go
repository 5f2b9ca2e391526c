package ask

import (
	"context"
	"time"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/crashlog"
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/lifecycle"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type AskLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Ask a question through the configured backend
func NewAskLogic(ctx context.Context, svcCtx *svc.ServiceContext) *AskLogic {
	return &AskLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Ask dispatches req and, on success, records both turns in the session.
// It returns dispatch.ErrCanceled when the ask was cancelled or superseded.
func (l *AskLogic) Ask(req *types.AskRequest, onUpdate ai.UpdateFunc) (*dispatch.Reply, error) {
	dreq := ToDispatchRequest(req)
	event := lifecycle.AskEventData{SessionID: req.SessionId, Model: req.Model}
	l.svcCtx.Lifecycle.Emit(lifecycle.EventAskStart, event)
	start := time.Now()

	reply, err := l.svcCtx.Dispatcher.Dispatch(l.ctx, dreq, onUpdate)
	event.Duration = time.Since(start)
	if err != nil {
		event.Status = "canceled"
		l.svcCtx.Lifecycle.Emit(lifecycle.EventAskComplete, event)
		return nil, err
	}
	event.Status = reply.Status
	l.svcCtx.Lifecycle.Emit(lifecycle.EventAskComplete, event)

	if reply.Status == dispatch.StatusSuccess && req.SessionId != "" {
		l.record(req.SessionId, dreq, reply)
	}
	return reply, nil
}

func (l *AskLogic) record(sessionID string, req *dispatch.Request, reply *dispatch.Reply) {
	// Recording must not be undone by a cancel that lands after the reply.
	ctx := context.WithoutCancel(l.ctx)
	turns := []ai.Turn{
		{Role: "user", Text: req.Text, Attachments: req.Attachments()},
		{Role: "model", Text: reply.Text},
	}
	for _, turn := range turns {
		if err := l.svcCtx.Sessions.AppendMessage(ctx, sessionID, turn); err != nil {
			crashlog.LogError("Ask", err, map[string]string{"session": sessionID, "role": turn.Role})
			return
		}
	}
}

// ToDispatchRequest converts the API shape to the dispatcher's request.
func ToDispatchRequest(req *types.AskRequest) *dispatch.Request {
	out := &dispatch.Request{
		Text:              req.Text,
		SystemInstruction: req.SystemInstruction,
		SessionID:         req.SessionId,
		Model:             req.Model,
		Image:             req.Image,
		ImageType:         req.ImageType,
		ImageName:         req.ImageName,
	}
	for _, f := range req.Files {
		out.Files = append(out.Files, ai.Attachment{Data: f.Data, MimeType: f.MimeType, Name: f.Name})
	}
	return out
}
