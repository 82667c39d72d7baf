package routes

// HTTP routing setup for the gradeseal API endpoints.

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/gradeseal/handler"
	"github.com/collapsinghierarchy/gradeseal/service"
)

// SetupRoutes wires all HTTP endpoints behind the middleware chain.
func SetupRoutes(svc *service.Service, log *logrus.Logger) http.Handler {
	srv := handler.New(svc)

	mux := http.NewServeMux()

	mux.Handle("/gs/v1/principals", http.HandlerFunc(srv.RegisterPrincipal))
	mux.Handle("/gs/v1/keys/generate", http.HandlerFunc(srv.GenerateKey))
	mux.Handle("/gs/v1/keys", keyDispatch(srv))
	mux.Handle("/gs/v1/submit", http.HandlerFunc(srv.Submit))
	mux.Handle("/gs/v1/unseal", http.HandlerFunc(srv.Unseal))
	mux.Handle("/gs/v1/evaluate", http.HandlerFunc(srv.Evaluate))
	mux.Handle("/gs/v1/publish", http.HandlerFunc(srv.Publish))
	mux.Handle("/gs/v1/submission", http.HandlerFunc(srv.Delete))
	mux.Handle("/gs/v1/decisions", http.HandlerFunc(srv.Decisions))

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	chain := alice.New(logRequest(log))
	return chain.Then(mux)
}

// keyDispatch splits register (POST) and lookup (GET) on the same path.
func keyDispatch(srv *handler.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			srv.RegisterKey(w, r)
		case http.MethodGet:
			srv.LookupKey(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// logRequest logs basic request information. Bodies are never logged: they
// can carry private key material in transit.
func logRequest(log *logrus.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("request")
		})
	}
}
