package pgshare

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
)

// HTTPServer wraps net/http.Server with ShutdownHelper-coordinated graceful
// shutdown: the listener is closed, which makes Serve return, and in-flight
// handlers are left to finish on their own. WaitShutdown returns once the
// listener is closed; it does not wait for Serve to exit.
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener net.Listener
}

// NewHTTPServer creates a new HTTPServer bound to logger for its lifecycle logging.
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		Server: &http.Server{},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// HandleOnceShutdown closes the listener, which unblocks Serve.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	h.DLogf("HandleOnceShutdown")
	err := h.listener.Close()
	if err != nil {
		h.DLogf("listener close failed, ignoring: %s", err)
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// ListenAndServe starts the server on addr with the given handler and,
// if tlsConfig is non-nil, terminates TLS at the listener. It blocks until
// the server has fully shut down, returning the final completion status.
// Shutdown can be triggered either by cancelling ctx or by calling Shutdown().
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string, handler http.Handler, tlsConfig *tls.Config) error {
	err := h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return h.DLogErrorf("listen failed: %s", err)
			}
			if tlsConfig != nil {
				l = tls.NewListener(l, tlsConfig)
			}
			h.Handler = handler
			h.listener = l

			go func() {
				h.Shutdown(h.Serve(l))
			}()

			return nil
		},
		true,
	)
	if err == nil {
		err = h.WaitShutdown()
	}
	return err
}

// Shutdown shuts the server down completely and returns the final completion code.
func (h *HTTPServer) Shutdown(completionError error) error {
	return h.ShutdownHelper.Shutdown(completionError)
}

// Close shuts the server down completely and returns the final completion code.
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
