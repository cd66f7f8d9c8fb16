package pgshare

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := RequestMessage{
		RequestID: uuid.New(),
		Method:    "POST",
		Path:      "/widgets?x=1",
		Headers:   []HeaderPair{{"Content-Type", "application/json"}, {"X-Foo", "a"}, {"X-Foo", "b"}},
		Body:      []byte(`{"hello":"world"}`),
	}

	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest returned error: %s", err)
	}

	got, resp, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if resp != nil {
		t.Fatalf("Decode returned a ResponseMessage for a request payload")
	}
	if got == nil {
		t.Fatalf("Decode returned a nil RequestMessage")
	}
	if !reflect.DeepEqual(*got, req) {
		t.Errorf("round trip mismatch: got %+v, want %+v", *got, req)
	}
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	resp := ResponseMessage{
		RequestID: uuid.New(),
		Status:    204,
		Headers:   []HeaderPair{{"X-Trace", "abc"}},
		Body:      nil,
	}

	payload, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse returned error: %s", err)
	}

	req, got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if req != nil {
		t.Fatalf("Decode returned a RequestMessage for a response payload")
	}
	if got == nil {
		t.Fatalf("Decode returned a nil ResponseMessage")
	}
	if got.RequestID != resp.RequestID || got.Status != resp.Status {
		t.Errorf("round trip mismatch: got %+v, want %+v", *got, resp)
	}
	if len(got.Body) != 0 {
		t.Errorf("expected empty body, got %q", got.Body)
	}
}

func TestDecodeRejectsMissingRequestID(t *testing.T) {
	_, _, err := Decode(`{"kind":"request","method":"GET","headers":[],"body":""}`)
	if err == nil {
		t.Fatalf("expected error for missing request_id")
	}
	if _, ok := err.(*MalformedMessageError); !ok {
		t.Errorf("expected *MalformedMessageError, got %T", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, _, err := Decode(`{"kind":"bogus","request_id":"` + uuid.New().String() + `","headers":[],"body":""}`)
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDecodeRejectsEmptyMethod(t *testing.T) {
	_, _, err := Decode(`{"kind":"request","request_id":"` + uuid.New().String() + `","headers":[],"body":""}`)
	if err == nil {
		t.Fatalf("expected error for missing method")
	}
}

func TestDecodeRejectsOutOfRangeStatus(t *testing.T) {
	_, _, err := Decode(`{"kind":"response","request_id":"` + uuid.New().String() + `","status":999,"headers":[],"body":""}`)
	if err == nil {
		t.Fatalf("expected error for out-of-range status")
	}
}

func TestDecodeRejectsInvalidBase64(t *testing.T) {
	_, _, err := Decode(`{"kind":"response","request_id":"` + uuid.New().String() + `","status":200,"headers":[],"body":"not-base64!!"}`)
	if err == nil {
		t.Fatalf("expected error for invalid base64 body")
	}
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	_, _, err := Decode(`not json`)
	if err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
