package ask

import (
	"net/http"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/ask"
	"github.com/neboloop/nexus/internal/svc"
)

// Forget the web conversation
func ResetContextHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := ask.NewResetContextLogic(r.Context(), svcCtx)
		resp, err := l.ResetContext()
		if err != nil {
			httputil.InternalError(w, err.Error())
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}
