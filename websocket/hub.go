package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Hub tracks live interview connections, grouped by session.
type Hub struct {
	clients    map[*Client]bool
	unregister chan *Client
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	SessionID      string
	MessageHandler func(*Client, []byte) // Function to handle incoming messages
}

// Message is what the browser sends.
type Message struct {
	Type            string `json:"type"` // "turn" (alias "text") or "end_session"
	Content         string `json:"content"`
	ClientTurnToken string `json:"client_turn_token,omitempty"`
}

// OutboundMessage is what the server pushes back.
type OutboundMessage struct {
	Type        string      `json:"type"` // "session", "officer", "feedback", "error"
	Content     string      `json:"content,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	TurnNo      int         `json:"turn_no,omitempty"`
	Done        bool        `json:"done,omitempty"`
	QuestionKey string      `json:"question_key,omitempty"`
	Code        string      `json:"code,omitempty"`
	Feedback    interface{} `json:"feedback,omitempty"`
	Warning     string      `json:"warning,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
	}
}

// Run removes clients handed to unregister and closes their send channel.
func (h *Hub) Run() {
	for client := range h.unregister {
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.Send)
		}
		h.mu.Unlock()
		slog.Info("Client unregistered", "user_id", client.UserID, "session_id", client.SessionID)
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		UserID:    userID,
		SessionID: sessionID,
	}

	// registered before return so the first message queued for it is kept
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	slog.Info("Client registered", "user_id", userID, "session_id", sessionID)
	return client
}

// SendToSession pushes msg to every connection the user has open on the
// session, so a second tab sees the same officer lines.
func (h *Hub) SendToSession(sessionID, userID string, msg OutboundMessage) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if client.SessionID == sessionID && client.UserID == userID {
			if client.trySend(payload) {
				sent++
			}
		}
	}
	return sent
}

// SendJSON queues msg for this client only. It reports false once the
// client has been unregistered.
func (c *Client) SendJSON(msg OutboundMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "error", err)
		return false
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.clients[c] {
		return false
	}
	return c.trySend(payload)
}

// trySend drops the message when the buffer is full. Callers hold the hub
// read lock and have checked the client is still registered, so Send is open.
func (c *Client) trySend(payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Error("Failed to unmarshal message", "error", err)
			continue
		}

		slog.Info("Message received", "type", msg.Type, "session_id", c.SessionID, "content_length", len(msg.Content))

		if c.MessageHandler != nil {
			// Run message handler asynchronously to avoid blocking
			go c.MessageHandler(c, messageBytes)
		} else {
			slog.Warn("No message handler registered", "type", msg.Type, "session_id", c.SessionID)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON document per frame
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
