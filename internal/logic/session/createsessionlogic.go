package session

import (
	"context"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type CreateSessionLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Create a session
func NewCreateSessionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *CreateSessionLogic {
	return &CreateSessionLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *CreateSessionLogic) CreateSession(req *types.CreateSessionRequest) (*types.CreateSessionResponse, error) {
	s, err := l.svcCtx.Sessions.GetOrCreate(l.ctx, req.Id, req.Title)
	if err != nil {
		l.Errorf("Failed to create session: %v", err)
		return nil, err
	}
	return &types.CreateSessionResponse{Session: toSession(*s)}, nil
}
