package net

import (
	"log"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// LogRequests is router middleware recording one line per request: method,
// path, status, bytes, duration. Hijacked connections (websocket upgrades)
// pass through untouched.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("[http] %s %s %d %dB %s", r.Method, r.URL.Path, m.Code, m.Written, m.Duration)
	})
}
