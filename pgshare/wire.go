package pgshare

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ConnID identifies a tunnel (client connection) by its canonical UUID form.
type ConnID = uuid.UUID

// RequestID identifies one in-flight request within a single session's lifetime.
type RequestID = uuid.UUID

// ParseConnID parses the canonical UUID string form of a ConnID.
func ParseConnID(s string) (ConnID, error) {
	return uuid.Parse(s)
}

// NewRequestID mints a new, session-locally-unique RequestID.
func NewRequestID() RequestID {
	return uuid.New()
}

// HeaderPair preserves header name/value order and case exactly as received,
// including duplicate names, which a map[string][]string cannot do in a
// deterministic wire order.
type HeaderPair [2]string

// RequestIDHeader is added to every RequestMessage by Dispatch, carrying the
// minted RequestID back out to the origin so its own logs can be correlated
// with a tunneled request.
const RequestIDHeader = "X-Pipegate-Request-Id"

// wireMessage is the on-the-wire envelope shared by request and response
// frames; kind discriminates which concrete type a decoded payload holds.
type wireMessage struct {
	Kind      string       `json:"kind"`
	RequestID uuid.UUID    `json:"request_id"`
	Method    string       `json:"method,omitempty"`
	Path      string       `json:"path,omitempty"`
	Status    int          `json:"status,omitempty"`
	Headers   []HeaderPair `json:"headers"`
	Body      string       `json:"body"`
}

// RequestMessage is sent server -> client: a public HTTP request to be
// replayed against the client's local origin.
type RequestMessage struct {
	RequestID RequestID
	Method    string
	Path      string
	Headers   []HeaderPair
	Body      []byte
}

// ResponseMessage is sent client -> server: the local origin's reply to a
// previously-dispatched RequestMessage, correlated by RequestID.
type ResponseMessage struct {
	RequestID RequestID
	Status    int
	Headers   []HeaderPair
	Body      []byte
}

// MalformedMessageError is returned by Decode when a wire payload cannot be
// interpreted as a valid RequestMessage or ResponseMessage.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedMessageError{Reason: fmt.Sprintf(format, args...)}
}

// EncodeRequest serializes a RequestMessage as a text-frame JSON payload.
// Encoding is deterministic for a given input: header order and duplicates
// are preserved, bodies are base64-encoded.
func EncodeRequest(m RequestMessage) (string, error) {
	w := wireMessage{
		Kind:      "request",
		RequestID: m.RequestID,
		Method:    m.Method,
		Path:      m.Path,
		Headers:   headersOrEmpty(m.Headers),
		Body:      base64.StdEncoding.EncodeToString(m.Body),
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeResponse serializes a ResponseMessage as a text-frame JSON payload.
func EncodeResponse(m ResponseMessage) (string, error) {
	w := wireMessage{
		Kind:      "response",
		RequestID: m.RequestID,
		Status:    m.Status,
		Headers:   headersOrEmpty(m.Headers),
		Body:      base64.StdEncoding.EncodeToString(m.Body),
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func headersOrEmpty(h []HeaderPair) []HeaderPair {
	if h == nil {
		return []HeaderPair{}
	}
	return h
}

// Decode parses a text-frame JSON payload into either a RequestMessage or a
// ResponseMessage, returning whichever one is non-nil. A MalformedMessageError
// is returned for invalid JSON, an unknown kind, a missing required field, an
// out-of-range status, or a base64 error in the body.
func Decode(payload string) (*RequestMessage, *ResponseMessage, error) {
	var w wireMessage
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, nil, malformed("invalid JSON: %s", err)
	}
	if w.RequestID == uuid.Nil {
		return nil, nil, malformed("missing request_id")
	}
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return nil, nil, malformed("invalid base64 body: %s", err)
	}

	switch w.Kind {
	case "request":
		if w.Method == "" {
			return nil, nil, malformed("missing method")
		}
		return &RequestMessage{
			RequestID: w.RequestID,
			Method:    w.Method,
			Path:      w.Path,
			Headers:   headersOrEmpty(w.Headers),
			Body:      body,
		}, nil, nil
	case "response":
		if w.Status < 100 || w.Status > 599 {
			return nil, nil, malformed("status %d out of range", w.Status)
		}
		return nil, &ResponseMessage{
			RequestID: w.RequestID,
			Status:    w.Status,
			Headers:   headersOrEmpty(w.Headers),
			Body:      body,
		}, nil
	default:
		return nil, nil, malformed("unknown kind %q", w.Kind)
	}
}
