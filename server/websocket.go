package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
)

// WSMessage is the JSON protocol for GET /api/v1/chat/ws. Clients send
// {"type":"message", ...}; the server replies with a "stream" frame per
// reply chunk, then a "done" frame carrying the conversation ID.
type WSMessage struct {
	Type           string `json:"type"` // "message" | "stream" | "done" | "error" | "status"
	Content        string `json:"content,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// handleChatWS serves the bidirectional chat transport. Turns run one at a
// time per connection; the read loop blocks until the current turn finishes
// streaming.
func (s *Server) handleChatWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	s.logger.Info("websocket client connected",
		zap.String("remote", conn.RemoteAddr().String()))

	writeJSON := func(msg WSMessage) error {
		return conn.WriteJSON(msg)
	}

	writeJSON(WSMessage{Type: "status", Content: "connected"})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			return nil
		}

		if msg.Type != "message" {
			continue
		}
		if msg.OwnerID == "" || msg.Content == "" {
			writeJSON(WSMessage{Type: "error", Content: "owner_id and content are required"})
			continue
		}

		req := core.TurnRequest{
			OwnerID:        msg.OwnerID,
			ConversationID: msg.ConversationID,
			Text:           msg.Content,
		}

		sink := func(chunk string) error {
			return writeJSON(WSMessage{Type: "stream", Content: chunk})
		}

		turn, err := s.responder.Respond(c.Request().Context(), req, sink)
		if err != nil {
			s.logger.Error("websocket turn failed", zap.Error(err))
			writeJSON(WSMessage{Type: "error", Content: "failed to generate reply"})
			continue
		}

		writeJSON(WSMessage{Type: "done", ConversationID: turn.ConversationID})
	}
}
