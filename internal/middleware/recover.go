package middleware

import (
	"net/http"

	"github.com/neboloop/nexus/internal/crashlog"
	"github.com/neboloop/nexus/internal/httputil"
)

// Recoverer turns a handler panic into a 500 and records it in the crash log.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			crashlog.LogPanic("http", rec, map[string]string{"method": r.Method, "path": r.URL.Path})
			httputil.InternalError(w, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}
