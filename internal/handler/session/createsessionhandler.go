package session

import (
	"net/http"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/session"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

// Create a session
func CreateSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		l := session.NewCreateSessionLogic(r.Context(), svcCtx)
		resp, err := l.CreateSession(&req)
		if err != nil {
			httputil.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}
