package httpserver

import (
	"errors"
	"net/http"
	"time"

	"visitorid/internal/platform/config"
)

// New builds an HTTP server with the project's timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve listens with TLS when the configured protocol is HTTPS. It returns nil
// once the server is shut down.
func Serve(srv *http.Server, cfg config.Server) error {
	var err error
	if cfg.Protocol == config.ProtocolHTTPS {
		err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
