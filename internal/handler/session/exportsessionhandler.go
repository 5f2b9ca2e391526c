package session

import (
	"net/http"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/session"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

// Export a session as a markdown or HTML transcript
func ExportSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ExportSessionRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		l := session.NewExportSessionLogic(r.Context(), svcCtx)
		doc, contentType, err := l.ExportSession(&req)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(doc))
	}
}
