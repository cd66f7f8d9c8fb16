package pgshare

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// SessionState is one of the four states a Session passes through over its lifetime.
type SessionState int

const (
	// StateRegistering is the brief window between Session construction and a
	// successful Registry.TryRegister.
	StateRegistering SessionState = iota
	// StateActive is the normal operating state: the reader loop is running
	// and Dispatch calls are accepted.
	StateActive
	// StateDraining means the session is tearing down: pending waiters are
	// being failed and the socket is being closed.
	StateDraining
	// StateClosed is the terminal state: pending is empty, the socket is
	// closed, and the session has been unregistered.
	StateClosed
)

// Errors returned by Dispatch.
var (
	// ErrUpstreamTimeout is returned when a dispatch deadline elapses before a
	// matching response arrives.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrTunnelClosed is returned when the session transitions to Draining or
	// Closed while a dispatch is pending, or before one can begin.
	ErrTunnelClosed = errors.New("tunnel closed")

	// ErrProcessShutdown is the Drain cause a Server passes to every session
	// during coordinated process shutdown (C7), distinguishing it from a
	// session draining because its own socket died. Dispatch reports it as
	// ErrUpstreamTimeout (504) rather than ErrTunnelClosed (502).
	ErrProcessShutdown = errors.New("server shutting down")
)

// pendingSlot is the one-shot rendezvous between the reader (producer, writes
// once) and a Dispatch call (consumer, reads once) for a single RequestID.
type pendingSlot struct {
	resultCh chan ResponseMessage
}

// Session holds all per-connected-client state: the socket, the in-flight
// request table, the send serializer, and the lifecycle state machine. A
// Session owns its socket exclusively for its lifetime; the Registry only
// ever holds a reference to it for dispatch.
type Session struct {
	ShutdownHelper

	ConnID ConnID

	registry *Registry
	conn     *websocket.Conn

	sendMu sync.Mutex

	mu      sync.Mutex
	state   SessionState
	pending map[RequestID]*pendingSlot
}

// NewSession constructs a Session in state Registering. The caller is
// responsible for calling Registry.TryRegister before transitioning it to Active.
func NewSession(logger Logger, registry *Registry, connID ConnID, conn *websocket.Conn) *Session {
	s := &Session{
		ConnID:   connID,
		registry: registry,
		conn:     conn,
		state:    StateRegistering,
		pending:  make(map[RequestID]*pendingSlot),
	}
	s.InitShutdownHelper(logger.Fork("session:%s", connID), s)
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate transitions a Registering session to Active once it has been
// installed in the Registry.
func (s *Session) Activate() {
	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
}

// HandleOnceShutdown is invoked by ShutdownHelper exactly once and performs
// the draining work: fail every pending waiter,
// close the socket, mark Closed, and unregister.
func (s *Session) HandleOnceShutdown(completionErr error) error {
	s.DLogf("draining: %v", completionErr)

	s.mu.Lock()
	s.state = StateDraining
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, slot := range pending {
		close(slot.resultCh)
	}

	err := s.conn.Close()
	if err != nil {
		s.DLogf("socket close failed, ignoring: %s", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.registry.Unregister(s.ConnID, s)

	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Drain begins session teardown with cause as the advisory completion error.
// Idempotent: a second call while already draining/closed has no effect.
func (s *Session) Drain(cause error) {
	s.StartShutdown(cause)
}

// RunReader runs the session's single reader task until the socket closes or
// a protocol error is detected, then drains the session. It blocks until the
// session is fully drained, so callers typically invoke it in its own goroutine.
func (s *Session) RunReader(ctx context.Context) {
	s.ShutdownOnContext(ctx)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.DLogf("reader: socket closed: %s", err)
			s.Drain(err)
			break
		}

		req, resp, err := Decode(string(payload))
		if err != nil {
			s.DLogf("reader: protocol error: %s", err)
			s.Drain(err)
			break
		}
		if req != nil {
			// The reader only ever expects ResponseMessages; an inbound
			// RequestMessage on this leg is a protocol violation.
			s.DLogf("reader: unexpected request frame from client")
			s.Drain(&MalformedMessageError{Reason: "unexpected request frame from client"})
			break
		}

		s.deliver(*resp)
	}
	s.WaitShutdown()
}

// deliver matches an inbound ResponseMessage to its waiter and hands it off.
// A lookup miss (the waiter already timed out or the caller disconnected) is
// not an error: the late response is silently discarded.
func (s *Session) deliver(resp ResponseMessage) {
	s.mu.Lock()
	var slot *pendingSlot
	if s.pending != nil {
		slot = s.pending[resp.RequestID]
		delete(s.pending, resp.RequestID)
	}
	s.mu.Unlock()

	if slot == nil {
		return
	}
	slot.resultCh <- resp
}

// Dispatch sends req over the session's socket and awaits the matching
// response. req.RequestID is overwritten with a freshly minted RequestID
// before being sent. Dispatch returns ErrUpstreamTimeout if ctx's deadline
// elapses first, ErrTunnelClosed if the session drains while waiting (or has
// already drained), or ctx.Err() if ctx is cancelled for another reason (the
// public caller disconnected). A drain whose cause is ErrProcessShutdown that
// begins while Dispatch is waiting yields ErrUpstreamTimeout instead of
// ErrTunnelClosed.
func (s *Session) Dispatch(ctx context.Context, req RequestMessage) (ResponseMessage, error) {
	req.RequestID = NewRequestID()
	req.Headers = append(append([]HeaderPair{}, req.Headers...), HeaderPair{RequestIDHeader, req.RequestID.String()})
	slot := &pendingSlot{resultCh: make(chan ResponseMessage, 1)}

	s.mu.Lock()
	if s.state != StateActive || s.pending == nil {
		s.mu.Unlock()
		return ResponseMessage{}, ErrTunnelClosed
	}
	s.pending[req.RequestID] = slot
	s.mu.Unlock()

	removePending := func() {
		s.mu.Lock()
		if s.pending != nil {
			delete(s.pending, req.RequestID)
		}
		s.mu.Unlock()
	}

	payload, err := EncodeRequest(req)
	if err != nil {
		removePending()
		return ResponseMessage{}, err
	}

	s.sendMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
	s.sendMu.Unlock()
	if err != nil {
		removePending()
		s.Drain(err)
		return ResponseMessage{}, ErrTunnelClosed
	}

	select {
	case resp, ok := <-slot.resultCh:
		if !ok {
			// channel closed by HandleOnceShutdown without a value: session drained.
			return ResponseMessage{}, s.drainStatus()
		}
		return resp, nil
	case <-ctx.Done():
		removePending()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ResponseMessage{}, ErrUpstreamTimeout
		}
		return ResponseMessage{}, ctx.Err()
	case <-s.ShutdownStartedChan():
		removePending()
		return ResponseMessage{}, s.drainStatus()
	}
}

// drainStatus reports the error Dispatch should return once it has observed
// that the session is draining or closed: ErrUpstreamTimeout if the cause was
// a coordinated process shutdown, ErrTunnelClosed otherwise (the session's own
// socket died, or it was drained individually). ShutdownCause is safe to read
// as soon as either signal Dispatch selects on has fired.
func (s *Session) drainStatus() error {
	if s.ShutdownCause() == ErrProcessShutdown {
		return ErrUpstreamTimeout
	}
	return ErrTunnelClosed
}
