package ask

import (
	"context"

	"github.com/neboloop/nexus/internal/lifecycle"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type ResetContextLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Forget the web conversation so the next ask starts fresh
func NewResetContextLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ResetContextLogic {
	return &ResetContextLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ResetContextLogic) ResetContext() (*types.ResetContextResponse, error) {
	if err := l.svcCtx.Dispatcher.ResetContext(l.ctx); err != nil {
		l.Errorf("[Ask] Failed to reset context: %v", err)
		return nil, err
	}
	l.Infof("[Ask] Web context reset")
	l.svcCtx.Lifecycle.Emit(lifecycle.EventContextReset, nil)
	return &types.ResetContextResponse{Reset: true}, nil
}
