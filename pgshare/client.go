package pgshare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"
)

// ClientConfig configures a ClientRelay.
type ClientConfig struct {
	// LocalURL is the origin base URL that incoming requests are replayed
	// against, e.g. "http://127.0.0.1:9090".
	LocalURL string
	// ServerURL is the PipeGate WebSocket URL including the connection id,
	// e.g. "ws://example.com:8080/<conn-id>".
	ServerURL string
	// Token is the bearer token presented at handshake.
	Token string

	// MaxRetryInterval caps the reconnect backoff delay. Defaults to 5
	// minutes if zero.
	MaxRetryInterval time.Duration
	// MaxRetryCount caps the number of consecutive reconnect attempts;
	// zero (the default) or negative means retry forever.
	MaxRetryCount int

	Debug bool
}

// ClientRelay is the client-side half of the tunnel (C6): it maintains the
// outbound WebSocket, replays each RequestMessage against the local origin,
// and returns the matching ResponseMessage.
type ClientRelay struct {
	ShutdownHelper

	config     *ClientConfig
	httpClient *http.Client

	sendMu sync.Mutex
	conn   *websocket.Conn
}

// NewClientRelay creates a ClientRelay; it does not connect until Run is called.
func NewClientRelay(config *ClientConfig) *ClientRelay {
	logLevel := LogLevelInfo
	if config.Debug {
		logLevel = LogLevelDebug
	}
	if config.MaxRetryInterval <= 0 {
		config.MaxRetryInterval = 5 * time.Minute
	}
	c := &ClientRelay{
		config:     config,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	c.InitShutdownHelper(NewLogger("client", logLevel), c)
	return c
}

// HandleOnceShutdown closes the active socket, if any, unblocking the reader loop.
func (c *ClientRelay) HandleOnceShutdown(completionErr error) error {
	c.DLogf("HandleOnceShutdown")
	c.sendMu.Lock()
	conn := c.conn
	c.sendMu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Run drives the dial-retry-relay loop until ctx is cancelled or Shutdown is called.
func (c *ClientRelay) Run(ctx context.Context) error {
	c.ShutdownOnContext(ctx)

	b := &backoff.Backoff{Max: c.config.MaxRetryInterval}
	for !c.IsStartedShutdown() {
		err := c.connectAndServe(ctx, b)
		if err == nil {
			break
		}
		d := b.Duration()
		attempt := int(b.Attempt())
		if c.config.MaxRetryCount > 0 && attempt >= c.config.MaxRetryCount {
			c.ILogf("giving up after %d attempts: %s", attempt, err)
			return err
		}
		c.ILogf("disconnected (%s), retrying in %s", err, d)
		select {
		case <-time.After(d):
		case <-c.ShutdownStartedChan():
			return c.WaitShutdown()
		}
	}
	return c.WaitShutdown()
}

func (c *ClientRelay) connectAndServe(ctx context.Context, b *backoff.Backoff) error {
	dialer := websocket.Dialer{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 45 * time.Second,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)

	conn, _, err := dialer.DialContext(ctx, c.config.ServerURL, header)
	if err != nil {
		return err
	}
	b.Reset()
	c.ILogf("connected to %s", c.config.ServerURL)

	c.sendMu.Lock()
	c.conn = conn
	c.sendMu.Unlock()

	var wg sync.WaitGroup
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			wg.Wait()
			conn.Close()
			return err
		}

		req, _, err := Decode(string(payload))
		if err != nil {
			c.DLogf("protocol error, disconnecting: %s", err)
			wg.Wait()
			conn.Close()
			return err
		}
		if req == nil {
			c.DLogf("unexpected response frame from server, disconnecting")
			wg.Wait()
			conn.Close()
			return fmt.Errorf("unexpected response frame from server")
		}

		wg.Add(1)
		go func(req RequestMessage) {
			defer wg.Done()
			c.handleRequest(ctx, req)
		}(*req)
	}
}

func (c *ClientRelay) handleRequest(ctx context.Context, req RequestMessage) {
	resp := c.forwardToOrigin(ctx, req)
	payload, err := EncodeResponse(resp)
	if err != nil {
		c.ELogf("failed to encode response for %s: %s", req.RequestID, err)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		c.DLogf("failed to send response for %s: %s", req.RequestID, err)
	}
}

func (c *ClientRelay) forwardToOrigin(ctx context.Context, req RequestMessage) ResponseMessage {
	url := strings.TrimSuffix(c.config.LocalURL, "/") + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, newBodyReader(req.Body))
	if err != nil {
		return originErrorResponse(req.RequestID, err)
	}
	for _, p := range filterHopByHop(req.Headers) {
		httpReq.Header.Add(p[0], p[1])
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.DLogf("origin error for %s: %s", req.RequestID, err)
		return originErrorResponse(req.RequestID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return originErrorResponse(req.RequestID, err)
	}

	c.TLogf("origin %s -> %d (%s body)", req.Path, resp.StatusCode, sizestr.ToString(int64(len(body))))

	return ResponseMessage{
		RequestID: req.RequestID,
		Status:    resp.StatusCode,
		Headers:   filterHopByHop(headerPairsFromHTTP(resp.Header)),
		Body:      body,
	}
}

func originErrorResponse(id RequestID, err error) ResponseMessage {
	return ResponseMessage{
		RequestID: id,
		Status:    http.StatusBadGateway,
		Headers:   []HeaderPair{{"Content-Type", "text/plain"}},
		Body:      []byte("pipegate: origin unreachable: " + err.Error()),
	}
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}
