package websocket

import (
	"context"

	apperrors "github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
	ws "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/ws"
)

// StartRequest is the payload for session.start
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// SendRequest is the payload for session.send
type SendRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// StatusRequest is the payload for session.status and session.stop
type StatusRequest struct {
	SessionID string `json:"session_id"`
}

// RegisterSessionHandlers wires the session actions to the manager
func RegisterSessionHandlers(d *ws.Dispatcher, manager *session.Manager) {
	d.RegisterFunc(ws.ActionSessionStart, func(ctx context.Context, clientID string, msg *ws.Message) (*ws.Message, error) {
		var req StartRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "Invalid payload: "+err.Error(), nil)
		}

		info, err := manager.StartSession(ctx, req.SessionID)
		if err != nil {
			return errorMessage(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, info)
	})

	d.RegisterFunc(ws.ActionSessionSend, func(ctx context.Context, clientID string, msg *ws.Message) (*ws.Message, error) {
		var req SendRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "Invalid payload: "+err.Error(), nil)
		}
		if req.SessionID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "session_id is required", nil)
		}
		if req.Text == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "text is required", nil)
		}

		if err := manager.RouteUserText(req.SessionID, req.Text); err != nil {
			return errorMessage(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"session_id": req.SessionID,
		})
	})

	d.RegisterFunc(ws.ActionSessionStatus, func(ctx context.Context, clientID string, msg *ws.Message) (*ws.Message, error) {
		var req StatusRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "Invalid payload: "+err.Error(), nil)
		}
		if req.SessionID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "session_id is required", nil)
		}

		manager.Touch(req.SessionID)
		info, err := manager.GetSession(req.SessionID)
		if err != nil {
			return errorMessage(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, info)
	})

	d.RegisterFunc(ws.ActionSessionStop, func(ctx context.Context, clientID string, msg *ws.Message) (*ws.Message, error) {
		var req StatusRequest
		if err := msg.ParsePayload(&req); err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "Invalid payload: "+err.Error(), nil)
		}
		if req.SessionID == "" {
			return ws.NewError(msg.ID, msg.Action, ws.ErrCodeInvalidPayload, "session_id is required", nil)
		}

		if err := manager.StopSession(ctx, req.SessionID); err != nil {
			return errorMessage(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"session_id": req.SessionID,
		})
	})
}

// errorMessage converts an application error into a websocket error
// message that keeps the original error code.
func errorMessage(msg *ws.Message, err error) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, apperrors.Code(err), err.Error(), nil)
}
