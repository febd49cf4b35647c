package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", h.Health).Methods("GET")
	r.HandleFunc("/fiti", h.Fiti).Methods("POST", "OPTIONS")
	r.HandleFunc("/katri", h.Katri).Methods("POST", "OPTIONS")
	r.HandleFunc("/kotiti", h.Kotiti).Methods("POST", "OPTIONS")

	// Outermost first: ids, then logging, then recovery around the handlers.
	chain := []mux.MiddlewareFunc{
		requestIDMiddleware,
		accessLogMiddleware(h.log),
		recoverMiddleware(h.log),
		corsMiddleware,
	}
	r.Use(chain...)

	// mux skips Use middleware for unmatched requests, so the fallbacks are
	// wrapped by hand.
	r.NotFoundHandler = wrap(chain, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = wrap(chain, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	return r
}

func wrap(chain []mux.MiddlewareFunc, h http.Handler) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Page-Count, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
