package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events/bus"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session/transcript"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
)

// engineScript mirrors the real engine's stdout contract: phase banners,
// a prompt answered over stdin, the artifact, and the completion banner.
const engineScript = `
echo "📝  Phase 1: Collecting user profile…"
echo "Assistant: What is your budget?"
read answer
echo "🌐  Phase 2: Gathering property data…"
echo "🏷️  Phase 3: Scoring and ranking properties…"
echo '[{"property_id":42,"score":0.87,"rationale":"matches budget"}]' > property_matches.json
echo "🎉  Pipeline complete! Final matches written to property_matches.json"
`

func dialTestGateway(t *testing.T) *gorillaws.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := newTestLogger(t)

	cfg := &config.Config{
		Engine: config.EngineConfig{
			Command:         "sh",
			Args:            []string{"-c", engineScript},
			WorkDir:         t.TempDir(),
			ArtifactName:    "property_matches.json",
			TerminateGrace:  1,
			StderrTailBytes: 8192,
		},
	}

	eventBus := bus.NewMemoryEventBus(log)
	mgr := session.NewManager(cfg, eventBus, transcript.NewMemoryStore(0), log)
	mgr.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gateway := NewGateway(ctx, mgr, eventBus, log)
	go gateway.Hub.Run(ctx)

	router := gin.New()
	gateway.SetupRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *gorillaws.Conn, id, action string, payload interface{}) {
	t.Helper()
	req, err := ws.NewRequest(id, action, payload)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}
}

func readMessage(t *testing.T, conn *gorillaws.Conn) *ws.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg ws.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return &msg
}

// readResponse skips notifications until the response with the given ID
// arrives, returning both it and the notifications that preceded it.
func readResponse(t *testing.T, conn *gorillaws.Conn, id string) (*ws.Message, []*ws.Message) {
	t.Helper()
	var notifications []*ws.Message
	for i := 0; i < 50; i++ {
		msg := readMessage(t, conn)
		if msg.ID == id {
			return msg, notifications
		}
		notifications = append(notifications, msg)
	}
	t.Fatalf("response %q never arrived", id)
	return nil, nil
}

func TestGatewaySessionLifecycle(t *testing.T) {
	conn := dialTestGateway(t)

	sendRequest(t, conn, "r1", ws.ActionSessionStart, map[string]string{})
	resp, _ := readResponse(t, conn, "r1")
	if resp.Type != ws.MessageTypeResponse {
		t.Fatalf("expected response, got %s: %s", resp.Type, resp.Payload)
	}
	var info struct {
		ID    string `json:"id"`
		Phase string `json:"phase"`
	}
	if err := resp.ParsePayload(&info); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if info.ID == "" {
		t.Fatalf("session start returned no id")
	}

	sendRequest(t, conn, "r2", ws.ActionSessionSubscribe, map[string]string{"session_id": info.ID})
	resp, _ = readResponse(t, conn, "r2")
	if resp.Type != ws.MessageTypeResponse {
		t.Fatalf("subscribe failed: %s", resp.Payload)
	}

	sendRequest(t, conn, "r3", ws.ActionSessionSend, map[string]string{
		"session_id": info.ID,
		"text":       "around 500k, 3 bedrooms",
	})

	// Collect notifications until the results event arrives. The engine
	// emits the phase 1 banner and greeting before the subscribe, so the
	// replay must deliver those too, without duplicates.
	seen := make(map[string]int)
	seqs := make(map[int64]bool)
	var order []string
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type != ws.MessageTypeNotification {
			continue
		}
		seen[msg.Action]++
		order = append(order, msg.Action)

		var payload map[string]interface{}
		if err := msg.ParsePayload(&payload); err != nil {
			t.Fatalf("ParsePayload failed: %v", err)
		}
		if raw, ok := payload["sequence"].(float64); ok {
			seq := int64(raw)
			if seqs[seq] {
				t.Fatalf("duplicate sequence %d delivered (actions so far: %v)", seq, order)
			}
			seqs[seq] = true
		}
		if msg.Action == ws.ActionPipelineResults {
			break
		}
	}

	if seen[ws.ActionPipelineGreeting] != 1 {
		t.Fatalf("expected exactly one greeting, got %d (order: %v)", seen[ws.ActionPipelineGreeting], order)
	}
	if seen[ws.ActionPipelinePhase] == 0 {
		t.Fatalf("expected phase notifications, got none (order: %v)", order)
	}
	if seen[ws.ActionPipelineResults] != 1 {
		t.Fatalf("expected exactly one results notification, got %d", seen[ws.ActionPipelineResults])
	}
	if seen[ws.ActionPipelineError] != 0 {
		t.Fatalf("unexpected error notification (order: %v)", order)
	}

	sendRequest(t, conn, "r4", ws.ActionSessionStatus, map[string]string{"session_id": info.ID})
	resp, _ = readResponse(t, conn, "r4")
	var status struct {
		Phase string `json:"phase"`
	}
	if err := resp.ParsePayload(&status); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if status.Phase != "complete" {
		t.Fatalf("expected phase complete, got %q", status.Phase)
	}
}

func TestGatewayRejectsUnknownSession(t *testing.T) {
	conn := dialTestGateway(t)

	sendRequest(t, conn, "r1", ws.ActionSessionSend, map[string]string{
		"session_id": "no-such-session",
		"text":       "hello",
	})
	resp, _ := readResponse(t, conn, "r1")
	if resp.Type != ws.MessageTypeError {
		t.Fatalf("expected error, got %s", resp.Type)
	}
	var errPayload ws.ErrorPayload
	if err := resp.ParsePayload(&errPayload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if errPayload.Code != ws.ErrCodeSessionNotFound {
		t.Fatalf("expected code %s, got %s", ws.ErrCodeSessionNotFound, errPayload.Code)
	}
}

func TestGatewayRejectsMalformedJSON(t *testing.T) {
	conn := dialTestGateway(t)

	if err := conn.WriteMessage(gorillaws.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != ws.MessageTypeError {
		t.Fatalf("expected error message, got %s", msg.Type)
	}
	var errPayload ws.ErrorPayload
	if err := msg.ParsePayload(&errPayload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if errPayload.Code != ws.ErrCodeInvalidMessage {
		t.Fatalf("expected code %s, got %s", ws.ErrCodeInvalidMessage, errPayload.Code)
	}
}
