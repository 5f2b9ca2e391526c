package session

import (
	"context"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type GetSessionLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Get a session with its messages
func NewGetSessionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetSessionLogic {
	return &GetSessionLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetSessionLogic) GetSession(req *types.GetSessionRequest) (*types.GetSessionResponse, error) {
	s, err := l.svcCtx.Sessions.Get(l.ctx, req.Id)
	if err != nil {
		return nil, err
	}
	msgs, err := l.svcCtx.Sessions.GetMessages(l.ctx, req.Id)
	if err != nil {
		l.Errorf("Failed to load messages for %s: %v", req.Id, err)
		return nil, err
	}

	resp := &types.GetSessionResponse{
		Session:  toSession(*s),
		Messages: make([]types.SessionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessage(m))
	}
	return resp, nil
}
