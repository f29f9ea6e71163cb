// Package httpserver builds the console's http.Server with shared defaults.
package httpserver

import (
	"net/http"
	"time"
)

// New returns an HTTP server with conservative timeouts. Write timeout stays
// generous because the API proxy streams upstream responses through.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
