package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-logr/logr"

	"github.com/conveyorci/conveyor/pkg/build"
)

// HealthCheck returns an http.Handler that responds with JSON containing
// the git revision, uptime, and goroutine count. It encodes into a buffer first
// so that encoding errors can be reported with a proper 500 status.
func HealthCheck(log logr.Logger, startTime time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		res := struct {
			GitRev        string `json:"git_rev"`
			UptimeSeconds string `json:"uptime_seconds"`
			Goroutines    int    `json:"goroutines"`
		}{
			GitRev:        build.GitRevision(),
			UptimeSeconds: fmt.Sprintf("%.2f", time.Since(startTime).Seconds()),
			Goroutines:    runtime.NumGoroutine(),
		}
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(&res); err != nil {
			log.Error(err, "failed to encode healthcheck response")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := buf.WriteTo(w); err != nil {
			log.Error(err, "failed to write healthcheck response")
		}
	})
}
