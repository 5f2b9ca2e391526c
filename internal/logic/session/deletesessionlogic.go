package session

import (
	"context"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type DeleteSessionLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Delete a session and its messages
func NewDeleteSessionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DeleteSessionLogic {
	return &DeleteSessionLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *DeleteSessionLogic) DeleteSession(req *types.DeleteSessionRequest) (*types.MessageResponse, error) {
	if _, err := l.svcCtx.Sessions.Get(l.ctx, req.Id); err != nil {
		return nil, err
	}
	if err := l.svcCtx.Sessions.Delete(l.ctx, req.Id); err != nil {
		l.Errorf("Failed to delete session %s: %v", req.Id, err)
		return nil, err
	}
	return &types.MessageResponse{Message: "session deleted"}, nil
}
