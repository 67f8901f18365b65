package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events/bus"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session/transcript"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

const completingEngine = `
echo "📝  Phase 1: Collecting user profile…"
echo "🌐  Phase 2: Gathering property data…"
echo "🏷️  Phase 3: Scoring and ranking properties…"
echo '[{"property_id":"lux-07","score":0.93,"rationale":"close match"}]' > property_matches.json
echo "🎉  Pipeline complete! Final matches written to property_matches.json"
`

func setupTestRouter(t *testing.T) (*session.Manager, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	cfg := &config.Config{
		Engine: config.EngineConfig{
			Command:         "sh",
			Args:            []string{"-c", completingEngine},
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

	router := gin.New()
	SetupRoutes(router, mgr, log)
	return mgr, router
}

func waitForTerminal(t *testing.T, mgr *session.Manager, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := mgr.GetSession(sessionID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if info.Phase.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal phase", sessionID)
}

func TestHandler_CreateSession(t *testing.T) {
	_, router := setupTestRouter(t)

	body, _ := json.Marshal(CreateSessionRequest{SessionID: "apisess-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var info v1.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if info.ID != "apisess-1" {
		t.Errorf("expected id apisess-1, got %s", info.ID)
	}
}

func TestHandler_GetSessionNotFound(t *testing.T) {
	_, router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ListSessions(t *testing.T) {
	mgr, router := setupTestRouter(t)

	if _, err := mgr.StartSession(context.Background(), "apisess-list"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Sessions []v1.SessionInfo `json:"sessions"`
		Total    int              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Total != 1 || len(resp.Sessions) != 1 {
		t.Errorf("expected one session, got %d", resp.Total)
	}
}

func TestHandler_GetResults(t *testing.T) {
	mgr, router := setupTestRouter(t)

	if _, err := mgr.StartSession(context.Background(), "apisess-res"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForTerminal(t, mgr, "apisess-res")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/apisess-res/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []v1.ResultItem `json:"results"`
		Total   int             `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("expected one result, got %d", resp.Total)
	}
	if string(resp.Results[0].PropertyID) != `"lux-07"` {
		t.Errorf("expected property id \"lux-07\", got %s", resp.Results[0].PropertyID)
	}
	if resp.Results[0].Score != 0.93 {
		t.Errorf("expected score 0.93, got %v", resp.Results[0].Score)
	}
}

func TestHandler_GetResultsUnknownSession(t *testing.T) {
	_, router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/never-started/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetTranscript(t *testing.T) {
	mgr, router := setupTestRouter(t)

	if _, err := mgr.StartSession(context.Background(), "apisess-tr"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForTerminal(t, mgr, "apisess-tr")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/apisess-tr/transcript", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Entries []v1.TranscriptEntry `json:"entries"`
		Total   int                  `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Total == 0 {
		t.Fatalf("expected transcript entries, got none")
	}
	first := resp.Entries[0]
	if first.EventType != "pipeline.greeting" {
		t.Errorf("expected first entry to be the greeting, got %s", first.EventType)
	}
	for i := 1; i < len(resp.Entries); i++ {
		if resp.Entries[i].ID <= resp.Entries[i-1].ID {
			t.Fatalf("transcript out of order at index %d", i)
		}
	}
}

func TestHandler_StopSession(t *testing.T) {
	mgr, router := setupTestRouter(t)

	if _, err := mgr.StartSession(context.Background(), "apisess-stop"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/apisess-stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_Health(t *testing.T) {
	_, router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
