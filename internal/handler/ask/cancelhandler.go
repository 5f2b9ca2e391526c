package ask

import (
	"net/http"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/ask"
	"github.com/neboloop/nexus/internal/svc"
)

// Cancel the in-flight ask
func CancelHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := ask.NewCancelLogic(r.Context(), svcCtx)
		resp, err := l.Cancel()
		if err != nil {
			httputil.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}
