package handler

import (
	"net/http"
	"time"

	"github.com/neboloop/nexus/internal/httputil"
	"github.com/neboloop/nexus/internal/svc"
	"github.com/neboloop/nexus/internal/types"
)

// Version is the build version reported by /health; set by the CLI.
var Version = "dev"

func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, &types.HealthResponse{
			Status:    "healthy",
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
