package session

import (
	"context"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type ListSessionsLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// List sessions, most recent first
func NewListSessionsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ListSessionsLogic {
	return &ListSessionsLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ListSessionsLogic) ListSessions(req *types.ListSessionsRequest) (*types.ListSessionsResponse, error) {
	sessions, err := l.svcCtx.Sessions.List(l.ctx, req.Limit)
	if err != nil {
		l.Errorf("Failed to list sessions: %v", err)
		return nil, err
	}

	resp := &types.ListSessionsResponse{Sessions: make([]types.Session, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSession(s))
	}
	return resp, nil
}
