package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formflow/pkg/api"
	"formflow/pkg/banner"
)

const shutdownTimeout = 10 * time.Second

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// startHTTP builds the handler, starts the HTTP server in a goroutine
// and returns a channel that will contain any server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	cfg := a.eff.Config

	h := api.New(a.q, a.wrk, cfg.WhatsApp.VerifyToken, cfg.WhatsApp.WebhookSecret, a.secConfig())
	h.MaxBody = cfg.Server.MaxBodyBytes.Int64()

	router := h.Router()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.srv = &http.Server{
		Addr:         a.eff.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
