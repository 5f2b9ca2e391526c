package session

import (
	"net/http"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/session"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

// Delete a session
func DeleteSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DeleteSessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		l := session.NewDeleteSessionLogic(r.Context(), svcCtx)
		resp, err := l.DeleteSession(&req)
		if err != nil {
			httputil.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}
