// Package api exposes the HTTP surface: the provider webhook, health
// probes and the authenticated admin endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"formflow/pkg/auth"
	"formflow/pkg/queue"
	"formflow/pkg/store"
	"formflow/pkg/utils"
	"formflow/pkg/worker"
)

// API holds the handler dependencies. Queue and Worker are injected so
// tests can swap implementations.
type API struct {
	Queue         queue.Queue
	Worker        *worker.Worker
	VerifyToken   string
	WebhookSecret string
	Sec           auth.SecConfig
	// MaxBody bounds the webhook request body; 0 means the default.
	MaxBody int64
	Now     func() time.Time
}

// New returns an API with defaults filled in.
func New(q queue.Queue, w *worker.Worker, verifyToken, webhookSecret string, sec auth.SecConfig) *API {
	return &API{
		Queue:         q,
		Worker:        w,
		VerifyToken:   verifyToken,
		WebhookSecret: webhookSecret,
		Sec:           sec,
		Now:           time.Now,
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)

	wh := r.PathPrefix("/webhook/whatsapp").Subrouter()
	wh.Use(auth.RateLimitByIP(a.Sec))
	wh.HandleFunc("", a.webhookVerify).Methods(http.MethodGet)
	wh.HandleFunc("", a.webhookReceive).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireAPIKey(a.Sec))
	admin.HandleFunc("/queue/stats", a.queueStats).Methods(http.MethodGet)
	admin.HandleFunc("/queue/dead-letters", a.listDeadLetters).Methods(http.MethodGet)
	admin.HandleFunc("/queue/dead-letters", a.purgeDeadLetters).Methods(http.MethodDelete)
	admin.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	admin.HandleFunc("/forms", a.createForm).Methods(http.MethodPost)
	admin.HandleFunc("/forms", a.listForms).Methods(http.MethodGet)
	admin.HandleFunc("/simulate-message", a.simulateMessage).Methods(http.MethodPost)

	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	utils.JSONOK(w)
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	if _, err := a.Queue.Len(); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "queue not ready")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
