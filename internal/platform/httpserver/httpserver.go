// Package httpserver constructs the net/http server that fronts the chi
// router. Per-request deadlines are enforced by the timeout middleware, so
// the server itself only guards the header read.
package httpserver

import (
	"net/http"
	"time"
)

// headerReadTimeout bounds how long a client may take to send request
// headers, keeping stalled connections from accumulating.
const headerReadTimeout = 5 * time.Second

// New returns a server for addr wrapping the given handler.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: headerReadTimeout,
	}
}
