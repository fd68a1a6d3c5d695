package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	ws "github.com/visaprep/backend/websocket"
)

// WebSocketHandler carries the turn and finish operations over the live
// interview socket.
type WebSocketHandler struct {
	hub         *ws.Hub
	lifecycle   *LifecycleManager
	engine      *TurnEngine
	synthesizer *FeedbackSynthesizer
	timeout     time.Duration
}

func NewWebSocketHandler(hub *ws.Hub, lifecycle *LifecycleManager, engine *TurnEngine, synthesizer *FeedbackSynthesizer, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &WebSocketHandler{
		hub:         hub,
		lifecycle:   lifecycle,
		engine:      engine,
		synthesizer: synthesizer,
		timeout:     timeout,
	}
}

// HandleWebSocketConnection tells a freshly connected client where the
// session stands.
func (h *WebSocketHandler) HandleWebSocketConnection(client *ws.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	state, err := h.lifecycle.Resume(ctx, client.SessionID, client.UserID)
	if err != nil {
		h.sendError(client, err)
		return
	}

	msg := ws.OutboundMessage{
		Type:      "session",
		SessionID: client.SessionID,
		TurnNo:    state.Session.TotalTurns,
		Done:      !state.CanResume,
	}
	if n := len(state.Turns); n > 0 {
		msg.Content = state.Turns[n-1].AIText
	}
	client.SendJSON(msg)
}

// HandleWebSocketMessage processes incoming WebSocket messages
func (h *WebSocketHandler) HandleWebSocketMessage(client *ws.Client, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch msg.Type {
	case "turn", "text":
		result, err := h.engine.SubmitTurn(ctx, client.SessionID, client.UserID, msg.Content, msg.ClientTurnToken)
		if err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.SendToSession(client.SessionID, client.UserID, ws.OutboundMessage{
			Type:        "officer",
			Content:     result.AIText,
			SessionID:   client.SessionID,
			TurnNo:      result.TurnNo,
			Done:        result.Done,
			QuestionKey: result.QuestionKey,
			Code:        result.Code,
		})

	case "end_session":
		slog.Info("Received end_session request", "session_id", client.SessionID)
		result, err := h.synthesizer.Finalize(ctx, client.SessionID, client.UserID)
		if err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.SendToSession(client.SessionID, client.UserID, ws.OutboundMessage{
			Type:      "feedback",
			SessionID: client.SessionID,
			Done:      true,
			Feedback:  result.Feedback,
			Warning:   result.Warning,
		})
		// give the write pump a moment to flush before closing
		go func() {
			<-time.After(200 * time.Millisecond)
			client.Conn.Close()
		}()

	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
		client.SendJSON(ws.OutboundMessage{Type: "error", Code: "BAD_REQUEST", Content: "Unknown message type"})
	}
}

func (h *WebSocketHandler) sendError(client *ws.Client, err error) {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ErrInvalidRequest):
		code = "BAD_REQUEST"
	case errors.Is(err, ErrNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, ErrSessionAbandoned):
		code = "SESSION_ABANDONED"
	default:
		slog.Error("WebSocket request failed", "error", err, "session_id", client.SessionID)
	}
	client.SendJSON(ws.OutboundMessage{Type: "error", SessionID: client.SessionID, Code: code, Content: err.Error()})
}
