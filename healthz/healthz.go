// Package healthz serves liveness and readiness probes.
package healthz

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

type Handler struct {
	checks []CheckFunc
}

// New returns a handler that answers 200 once every check passes.  With no
// checks it always answers 200.
func New(checks ...CheckFunc) *Handler {
	return &Handler{checks: checks}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			glog.Errorf("Health check failed: %v", err)
			http.Error(w, "503 Service Unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("200 OK"))
}
