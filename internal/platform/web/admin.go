package web

import (
	"encoding/json"
	"net/http"
)

// NewAdminHandler builds the admin HTTP surface:
//
//	GET /metrics     Prometheus exposition (metrics)
//	GET /api/stats   JSON queue stats (stats)
//	GET /api/events  WebSocket event feed (hub)
//
// The /api routes go through limiter when it is non-nil.
func NewAdminHandler(stats func() any, hub *Hub, metrics http.Handler, limiter *RateLimiter) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats())
	})
	api.HandleFunc("GET /api/events", hub.HandleWS)

	var apiHandler http.Handler = api
	if limiter != nil {
		apiHandler = limiter.Middleware(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return enableCORS(mux)
}

// enableCORS lets browser dashboards on other origins read the admin API.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
