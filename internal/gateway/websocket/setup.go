package websocket

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events/bus"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
)

// Gateway bundles the websocket hub, dispatcher and HTTP handler
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	logger     *logger.Logger
}

// NewGateway creates a websocket gateway wired to the session manager
// and the event bus.
func NewGateway(ctx context.Context, manager *session.Manager, eventBus bus.EventBus, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	handler := NewHandler(hub, log)

	RegisterSessionHandlers(dispatcher, manager)
	hub.SetTranscriptProvider(manager.Transcript)
	RegisterPipelineNotifications(ctx, eventBus, hub, log)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    handler,
		logger:     log,
	}
}

// SetupRoutes adds the WebSocket routes to the Gin engine
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}
