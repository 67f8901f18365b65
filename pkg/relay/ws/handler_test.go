package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDispatchRoutesByAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc("session.status", func(ctx context.Context, clientID string, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]string{"phase": "profile"})
	})

	req, err := NewRequest("req-1", "session.status", map[string]string{"session_id": "abc"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	resp := d.Dispatch(context.Background(), "client-1", req)
	if resp.Type != MessageTypeResponse {
		t.Fatalf("expected response type, got %s", resp.Type)
	}
	if resp.ID != "req-1" {
		t.Fatalf("expected response ID req-1, got %q", resp.ID)
	}

	var payload map[string]string
	if err := resp.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload["phase"] != "profile" {
		t.Fatalf("expected phase=profile, got %q", payload["phase"])
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher()

	req, _ := NewRequest("req-2", "session.bogus", nil)
	resp := d.Dispatch(context.Background(), "client-1", req)

	if resp.Type != MessageTypeError {
		t.Fatalf("expected error type, got %s", resp.Type)
	}
	var errPayload ErrorPayload
	if err := resp.ParsePayload(&errPayload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if errPayload.Code != ErrCodeUnknownAction {
		t.Fatalf("expected code %s, got %s", ErrCodeUnknownAction, errPayload.Code)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc("session.stop", func(ctx context.Context, clientID string, msg *Message) (*Message, error) {
		return nil, errors.New("session not running")
	})

	req, _ := NewRequest("req-3", "session.stop", nil)
	resp := d.Dispatch(context.Background(), "client-1", req)

	if resp.Type != MessageTypeError {
		t.Fatalf("expected error type, got %s", resp.Type)
	}
	if resp.ID != "req-3" {
		t.Fatalf("error response must carry the request ID, got %q", resp.ID)
	}
	var errPayload ErrorPayload
	if err := resp.ParsePayload(&errPayload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if errPayload.Message != "session not running" {
		t.Fatalf("unexpected error message %q", errPayload.Message)
	}
}

func TestNotificationHasNoID(t *testing.T) {
	n, err := NewNotification(ActionPipelinePhase, map[string]string{"phase": "matching"})
	if err != nil {
		t.Fatalf("NewNotification failed: %v", err)
	}
	if n.ID != "" {
		t.Fatalf("notifications must not carry a request ID, got %q", n.ID)
	}
	if n.Type != MessageTypeNotification {
		t.Fatalf("expected notification type, got %s", n.Type)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewRequest("req-4", ActionSessionSend, map[string]string{"text": "3 bedrooms"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Action != ActionSessionSend {
		t.Fatalf("expected action %s, got %s", ActionSessionSend, decoded.Action)
	}
	var payload map[string]string
	if err := decoded.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload["text"] != "3 bedrooms" {
		t.Fatalf("payload did not survive round trip: %v", payload)
	}
}
