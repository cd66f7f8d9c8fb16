package pgshare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestClientForwardToOriginSuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("i am a teapot"))
	}))
	defer origin.Close()

	c := NewClientRelay(&ClientConfig{LocalURL: origin.URL})

	req := RequestMessage{
		RequestID: uuid.New(),
		Method:    "GET",
		Path:      "/hello",
	}
	resp := c.forwardToOrigin(context.Background(), req)

	if resp.Status != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, resp.Status)
	}
	if string(resp.Body) != "i am a teapot" {
		t.Errorf("unexpected body: %q", resp.Body)
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("request id not preserved")
	}

	found := false
	for _, p := range resp.Headers {
		if p[0] == "X-Reply" && p[1] == "yes" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected X-Reply header to pass through, got %+v", resp.Headers)
	}
}

func TestClientForwardToOriginUnreachable(t *testing.T) {
	c := NewClientRelay(&ClientConfig{LocalURL: "http://127.0.0.1:1"})

	req := RequestMessage{RequestID: uuid.New(), Method: "GET", Path: "/"}
	resp := c.forwardToOrigin(context.Background(), req)

	if resp.Status != http.StatusBadGateway {
		t.Errorf("expected 502 for unreachable origin, got %d", resp.Status)
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("request id not preserved on error response")
	}
}

func TestClientForwardToOriginStripsHopByHopRequestHeaders(t *testing.T) {
	var sawConnection, sawUpgrade bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawConnection = r.Header.Get("Connection") != ""
		sawUpgrade = r.Header.Get("Upgrade") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	c := NewClientRelay(&ClientConfig{LocalURL: origin.URL})
	req := RequestMessage{
		RequestID: uuid.New(),
		Method:    "GET",
		Path:      "/",
		Headers: []HeaderPair{
			{"Connection", "keep-alive"},
			{"Upgrade", "websocket"},
			{"X-Real", "1"},
		},
	}
	c.forwardToOrigin(context.Background(), req)

	if sawConnection || sawUpgrade {
		t.Errorf("expected hop-by-hop headers to be stripped before reaching origin")
	}
}
