package pgshare

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"
	"github.com/tomasen/realip"
)

// ConnIDInUseCloseCode is the application-defined WebSocket close code sent
// to a client whose requested connection id is already held by a live
// session.
const ConnIDInUseCloseCode = 4409

// ServerConfig configures a Server.
type ServerConfig struct {
	Host string
	Port string

	// Validator gates WebSocket upgrade; see TokenValidator.
	Validator TokenValidator

	// RequestTimeout bounds how long a public request waits for a client's
	// response before receiving 504. Defaults to 30s if zero.
	RequestTimeout time.Duration

	// MaxBodyBytes bounds the buffered size of a public request body; a
	// larger body is rejected with 413. Zero means no limit beyond the
	// underlying server's own.
	MaxBodyBytes int64

	// TLSConfig, if non-nil, is used to terminate TLS at the public
	// listener. Certificate loading is out of scope for this package; the
	// caller builds and supplies the already-loaded config.
	TLSConfig *tls.Config

	// Debug enables debug-level logging and the request-log middleware.
	Debug bool
}

// Server is the public HTTP surface (C4) plus the WebSocket handshake/auth
// gate (C5), backed by a shared Registry of live client sessions.
type Server struct {
	ShutdownHelper

	config     *ServerConfig
	registry   *Registry
	httpServer *HTTPServer
	upgrader   websocket.Upgrader
}

// NewServer creates a Server; it does not start listening until Run is called.
func NewServer(config *ServerConfig) *Server {
	logLevel := LogLevelInfo
	if config.Debug {
		logLevel = LogLevelDebug
	}
	logger := NewLogger("server", logLevel)
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		config:     config,
		registry:   NewRegistry(),
		httpServer: NewHTTPServer(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.InitShutdownHelper(logger, s)
	return s
}

// Run starts the public listener and blocks until shutdown completes, either
// because ctx was cancelled or Shutdown was called.
func (s *Server) Run(ctx context.Context) error {
	s.ShutdownOnContext(ctx)

	var handler http.Handler = http.HandlerFunc(s.serveHTTP)
	if s.GetLogLevel() >= LogLevelDebug {
		handler = requestlog.Wrap(handler)
	}

	addr := s.config.Host + ":" + s.config.Port
	s.ILogf("listening on %s", addr)
	err := s.httpServer.ListenAndServe(ctx, addr, handler, s.config.TLSConfig)
	s.StartShutdown(err)
	s.WaitShutdown()
	return err
}

// HandleOnceShutdown drains every registered session, then tears down the
// HTTP listener (C7: coordinated process shutdown).
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.DLogf("shutting down: draining %d session(s)", len(s.registry.Sessions()))
	for _, sess := range s.registry.Sessions() {
		sess.Drain(ErrProcessShutdown)
	}
	for _, sess := range s.registry.Sessions() {
		sess.WaitShutdown()
	}
	return s.httpServer.Close()
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleUpgrade(w, r)
		return
	}
	s.handlePublicRequest(w, r)
}

func pathSegments(urlPath string) (first, rest string) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx:]
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	first, _ := pathSegments(r.URL.Path)
	connID, err := ParseConnID(first)
	if err != nil {
		http.Error(w, "malformed connection id", http.StatusBadRequest)
		return
	}

	token, ok := ExtractToken(r)
	if !ok || !s.config.Validator.Validate(token) {
		s.WLogf("auth failed for %s from %s", connID, realip.FromRequest(r))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.DLogf("upgrade failed for %s: %s", connID, err)
		return
	}

	sess := NewSession(s.Logger, s.registry, connID, conn)
	if err := s.registry.TryRegister(connID, sess); err != nil {
		s.ILogf("connection id %s already in use, rejecting", connID)
		closeMsg := websocket.FormatCloseMessage(ConnIDInUseCloseCode, "connection id in use")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(5*time.Second))
		conn.Close()
		return
	}

	sess.Activate()
	s.ILogf("tunnel %s connected from %s", connID, realip.FromRequest(r))
	sess.RunReader(r.Context())
	s.ILogf("tunnel %s disconnected", connID)
}

func (s *Server) handlePublicRequest(w http.ResponseWriter, r *http.Request) {
	first, rest := pathSegments(r.URL.Path)
	connID, err := ParseConnID(first)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	sess, ok := s.registry.Lookup(connID)
	if !ok {
		http.Error(w, "tunnel not connected", http.StatusBadGateway)
		return
	}

	var bodyReader io.Reader = r.Body
	if s.config.MaxBodyBytes > 0 {
		bodyReader = io.LimitReader(r.Body, s.config.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadGateway)
		return
	}
	if s.config.MaxBodyBytes > 0 && int64(len(body)) > s.config.MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	path := rest
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	req := RequestMessage{
		Method:  r.Method,
		Path:    path,
		Headers: filterHopByHop(headerPairsFromHTTP(r.Header)),
		Body:    body,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp, err := sess.Dispatch(ctx, req)
	if err != nil {
		switch err {
		case ErrUpstreamTimeout:
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		case ErrTunnelClosed:
			http.Error(w, "tunnel closed", http.StatusBadGateway)
		default:
			if ctx.Err() != nil {
				// public caller disconnected; nothing to write
				return
			}
			http.Error(w, "tunnel closed", http.StatusBadGateway)
		}
		return
	}

	writeHeaderPairs(w.Header(), filterHopByHop(resp.Headers))
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func headerPairsFromHTTP(h http.Header) []HeaderPair {
	out := make([]HeaderPair, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, HeaderPair{name, v})
		}
	}
	return out
}

func writeHeaderPairs(h http.Header, pairs []HeaderPair) {
	for _, p := range pairs {
		h.Add(p[0], p[1])
	}
}
