// Package websocket provides the WebSocket gateway that bridges remote
// chat clients to relay sessions.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
	"go.uber.org/zap"
)

// TranscriptProvider retrieves the stored event transcript for a session.
// It is consulted when a client subscribes so it can catch up before
// receiving live events.
type TranscriptProvider func(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error)

// subscriberState tracks a single client's subscription to one session.
// While a transcript replay is in flight, live events are parked in
// pending; afterwards only events with a sequence above floor are
// delivered, so replayed entries are never sent twice.
type subscriberState struct {
	replaying bool
	floor     int64
	pending   []queuedEvent
}

type queuedEvent struct {
	seq  int64
	data []byte
}

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients subscribed to specific sessions
	sessionSubscribers map[string]map[*Client]*subscriberState

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Message dispatcher
	dispatcher *ws.Dispatcher

	// Provider for transcript replay on subscription
	transcripts TranscriptProvider

	mu     sync.Mutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		sessionSubscribers: make(map[string]map[*Client]*subscriberState),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		dispatcher:         dispatcher,
		logger:             log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.sessionSubscribers = make(map[string]map[*Client]*subscriberState)
}

// removeClient removes a client from the hub and all its subscriptions
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()

		for sessionID := range client.subscriptions {
			if subs, ok := h.sessionSubscribers[sessionID]; ok {
				delete(subs, client)
				if len(subs) == 0 {
					delete(h.sessionSubscribers, sessionID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToSession delivers a pipeline notification to every client
// subscribed to the session. seq is the event's transcript sequence
// number, used to suppress events a client already saw during replay.
func (h *Hub) BroadcastToSession(sessionID string, seq int64, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal session notification", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client, state := range h.sessionSubscribers[sessionID] {
		if state.replaying {
			state.pending = append(state.pending, queuedEvent{seq: seq, data: data})
			continue
		}
		if seq <= state.floor {
			continue
		}
		// A full buffer drops the event; the write pump cleans up stalled clients.
		client.trySend(data)
	}
}

// SubscribeToSession registers a client for a session's events. Live
// events are held until FinishReplay is called with the transcript's
// high-water mark.
func (h *Hub) SubscribeToSession(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessionSubscribers[sessionID]; !ok {
		h.sessionSubscribers[sessionID] = make(map[*Client]*subscriberState)
	}
	h.sessionSubscribers[sessionID][client] = &subscriberState{replaying: true}
	client.subscriptions[sessionID] = true

	h.logger.Debug("Client subscribed to session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// FinishReplay flushes events that arrived during a transcript replay,
// skipping any at or below maxSeq since the replay already covered them.
func (h *Hub) FinishReplay(client *Client, sessionID string, maxSeq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessionSubscribers[sessionID]
	if !ok {
		return
	}
	state, ok := subs[client]
	if !ok || !state.replaying {
		return
	}

	for _, ev := range state.pending {
		if ev.seq <= maxSeq {
			continue
		}
		client.trySend(ev.data)
	}
	state.pending = nil
	state.replaying = false
	state.floor = maxSeq
}

// UnsubscribeFromSession unsubscribes a client from session events
func (h *Hub) UnsubscribeFromSession(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, sessionID)
	if subs, ok := h.sessionSubscribers[sessionID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.sessionSubscribers, sessionID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}

// SetTranscriptProvider sets the provider used for catch-up on subscribe
func (h *Hub) SetTranscriptProvider(provider TranscriptProvider) {
	h.transcripts = provider
}

// TranscriptFor retrieves the stored transcript for a session
func (h *Hub) TranscriptFor(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error) {
	if h.transcripts == nil {
		return nil, nil
	}
	return h.transcripts(ctx, sessionID)
}
