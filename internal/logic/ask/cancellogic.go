package ask

import (
	"context"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

type CancelLogic struct {
	logging.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// Cancel the in-flight ask
func NewCancelLogic(ctx context.Context, svcCtx *svc.ServiceContext) *CancelLogic {
	return &CancelLogic{
		Logger: logging.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *CancelLogic) Cancel() (*types.CancelResponse, error) {
	return &types.CancelResponse{Cancelled: l.svcCtx.Dispatcher.CancelCurrentRequest()}, nil
}
