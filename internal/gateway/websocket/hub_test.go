package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(ws.NewDispatcher(), newTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func phaseNotification(t *testing.T, seq int64) *ws.Message {
	t.Helper()
	msg, err := ws.NewNotification(ws.ActionPipelinePhase, map[string]interface{}{
		"session_id": "sess-1",
		"phase":      "gathering",
		"sequence":   seq,
	})
	if err != nil {
		t.Fatalf("failed to build notification: %v", err)
	}
	return msg
}

func receiveMessage(t *testing.T, c *Client) *ws.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastReachesSubscribedClientOnly(t *testing.T) {
	hub := newTestHub(t)
	log := newTestLogger(t)

	subscribed := NewClient("c1", nil, hub, log)
	other := NewClient("c2", nil, hub, log)
	hub.Register(subscribed)
	hub.Register(other)

	hub.SubscribeToSession(subscribed, "sess-1")
	hub.FinishReplay(subscribed, "sess-1", 0)

	hub.BroadcastToSession("sess-1", 1, phaseNotification(t, 1))

	msg := receiveMessage(t, subscribed)
	if msg.Action != ws.ActionPipelinePhase {
		t.Fatalf("expected action %s, got %s", ws.ActionPipelinePhase, msg.Action)
	}
	assertNoMessage(t, other)
}

func TestReplayParksLiveEventsUntilFinished(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient("c1", nil, hub, newTestLogger(t))
	hub.Register(client)

	hub.SubscribeToSession(client, "sess-1")

	for seq := int64(1); seq <= 3; seq++ {
		hub.BroadcastToSession("sess-1", seq, phaseNotification(t, seq))
	}
	assertNoMessage(t, client)

	// Sequences 1 and 2 were covered by the replay, only 3 is new.
	hub.FinishReplay(client, "sess-1", 2)

	msg := receiveMessage(t, client)
	var payload map[string]interface{}
	if err := msg.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if seq, _ := payload["sequence"].(float64); int64(seq) != 3 {
		t.Fatalf("expected sequence 3, got %v", payload["sequence"])
	}
	assertNoMessage(t, client)
}

func TestFloorSuppressesAlreadyReplayedEvents(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient("c1", nil, hub, newTestLogger(t))
	hub.Register(client)

	hub.SubscribeToSession(client, "sess-1")
	hub.FinishReplay(client, "sess-1", 5)

	hub.BroadcastToSession("sess-1", 5, phaseNotification(t, 5))
	assertNoMessage(t, client)

	hub.BroadcastToSession("sess-1", 6, phaseNotification(t, 6))
	receiveMessage(t, client)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t)
	client := NewClient("c1", nil, hub, newTestLogger(t))
	hub.Register(client)

	hub.SubscribeToSession(client, "sess-1")
	hub.FinishReplay(client, "sess-1", 0)
	hub.BroadcastToSession("sess-1", 1, phaseNotification(t, 1))
	receiveMessage(t, client)

	hub.UnsubscribeFromSession(client, "sess-1")
	hub.BroadcastToSession("sess-1", 2, phaseNotification(t, 2))
	assertNoMessage(t, client)
}

// Queueing a message after the hub shut the client down must be a silent
// drop, never a send on a closed channel.
func TestSendAfterHubShutdownDoesNotPanic(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(ws.NewDispatcher(), log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient("c1", nil, hub, log)
	hub.Register(client)
	hub.SubscribeToSession(client, "sess-1")
	hub.FinishReplay(client, "sess-1", 0)

	// Keep sending from the client's side while the hub closes everything
	// down, the interleaving the read pump produces on shutdown.
	msg := phaseNotification(t, 1)
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for i := 0; i < 200; i++ {
			client.sendMessage(msg)
		}
	}()

	cancel()
	<-done
	<-sending

	if client.trySend([]byte("{}")) {
		t.Fatal("send succeeded on a shut-down client")
	}
	hub.BroadcastToSession("sess-1", 201, phaseNotification(t, 201))
}
