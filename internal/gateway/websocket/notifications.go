package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events/bus"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
)

// PipelineBroadcaster forwards pipeline events from the internal bus to
// websocket clients subscribed to the originating session.
type PipelineBroadcaster struct {
	hub          *Hub
	subscription bus.Subscription
	logger       *logger.Logger
}

// RegisterPipelineNotifications subscribes to all session event subjects
// and fans events out to session subscribers. The subscription is torn
// down when ctx is cancelled.
func RegisterPipelineNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *PipelineBroadcaster {
	b := &PipelineBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_pipeline_broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	sub, err := eventBus.Subscribe(events.SubjectAll, func(ctx context.Context, event *bus.Event) error {
		sessionID := extractString(event.Data, "session_id")
		if sessionID == "" {
			return nil
		}
		msg, err := ws.NewNotification(event.Type, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("event_type", event.Type), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToSession(sessionID, extractSequence(event.Data), msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to session events", zap.Error(err))
		return b
	}
	b.subscription = sub

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close tears down the bus subscription
func (b *PipelineBroadcaster) Close() {
	if b.subscription != nil && b.subscription.IsValid() {
		_ = b.subscription.Unsubscribe()
	}
	b.subscription = nil
}

func extractString(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

// extractSequence reads the transcript sequence number from the event
// payload. Events that crossed a JSON hop carry it as a float64.
func extractSequence(data map[string]interface{}) int64 {
	if data == nil {
		return 0
	}
	switch v := data["sequence"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
