package ask

import (
	"errors"
	"net/http"

	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/logic/ask"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

// Ask a question; responds with the final reply. Backend failures are a
// 200 with status "error"; a cancelled or superseded ask is a 409.
func AskHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AskRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		l := ask.NewAskLogic(r.Context(), svcCtx)
		resp, err := l.Ask(&req, nil)
		switch {
		case errors.Is(err, dispatch.ErrCanceled):
			httputil.ErrorWithCode(w, http.StatusConflict, err.Error())
		case err != nil:
			httputil.InternalError(w, err.Error())
		default:
			httputil.OkJSON(w, resp)
		}
	}
}
