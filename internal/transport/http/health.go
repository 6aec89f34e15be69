package http

import (
	"context"
	stdhttp "net/http"
	"time"
)

// HealthHandler reports basic liveness for the service.
func HealthHandler(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleReady reports 503 while any dependency fails its ping.
func HandleReady(deps map[string]Pinger) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(deps))
		ready := true
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				status[name] = err.Error()
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			writeJSON(w, stdhttp.StatusServiceUnavailable, map[string]any{"code": codeServiceUnavailable, "checks": status})
			return
		}
		writeJSON(w, stdhttp.StatusOK, map[string]any{"checks": status})
	}
}
