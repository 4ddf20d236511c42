// Package server provides the HTTP API for engramd.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/chat"
	"github.com/everbrook-ai/engram/convstore"
	"github.com/everbrook-ai/engram/core"
)

// HeaderConversationID carries the conversation identifier on streaming
// responses so clients can continue a conversation started by the server.
const HeaderConversationID = "X-Conversation-ID"

// Responder runs one conversational turn, relaying chunks through the sink.
type Responder interface {
	Respond(ctx context.Context, req core.TurnRequest, sink chat.Sink) (*chat.Turn, error)
}

// Conversations exposes the slice of the conversation store the HTTP layer
// needs. *convstore.Store satisfies it.
type Conversations interface {
	Create(ctx context.Context, ownerID string) (core.Conversation, error)
	List(ctx context.Context, ownerID string) ([]core.ConversationInfo, error)
	History(ctx context.Context, conversationID string) ([]core.Message, error)
	Get(ctx context.Context, conversationID string) (core.Conversation, error)
}

// Server provides HTTP endpoints for engramd.
type Server struct {
	echo          *echo.Echo
	responder     Responder
	conversations Conversations
	logger        *zap.Logger
	config        *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// New creates a new HTTP server.
func New(responder Responder, conversations Conversations, logger *zap.Logger, cfg *Config) (*Server, error) {
	if responder == nil {
		return nil, fmt.Errorf("responder cannot be nil")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:          e,
		responder:     responder,
		conversations: conversations,
		logger:        logger,
		config:        cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/chat/ws", s.handleChatWS)
	v1.GET("/conversations", s.handleListConversations)
	v1.GET("/conversations/:id/messages", s.handleMessages)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleChat runs one turn and streams the reply as plain-text chunks,
// flushed as they arrive. The conversation ID is returned in a response
// header since the body is reserved for reply text.
func (s *Server) handleChat(c echo.Context) error {
	var req core.TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OwnerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id field is required")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_text field is required")
	}

	// The conversation id travels in a header, so it has to exist before
	// the first chunk is written. New conversations are created here; the
	// orchestrator then appends into the existing conversation.
	if req.ConversationID == "" {
		conv, err := s.conversations.Create(c.Request().Context(), req.OwnerID)
		if err != nil {
			s.logger.Error("failed to create conversation", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
		}
		req.ConversationID = conv.ID
	}

	resp := c.Response()
	flusher, _ := resp.Writer.(http.Flusher)
	resp.Header().Set(HeaderConversationID, req.ConversationID)

	started := false
	sink := func(chunk string) error {
		if !started {
			// Headers must be settled before the first byte goes out.
			started = true
			resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
			resp.WriteHeader(http.StatusOK)
		}
		if _, err := resp.Write([]byte(chunk)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, err := s.responder.Respond(c.Request().Context(), req, sink)
	if err != nil {
		if started {
			// Partial output already sent; nothing useful left to report.
			s.logger.Error("turn failed mid-stream", zap.Error(err))
			return nil
		}
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			return echo.NewHTTPError(http.StatusBadRequest, "user_text must not be blank")
		case errors.Is(err, convstore.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		default:
			s.logger.Error("turn failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "failed to generate reply")
		}
	}
	if !started {
		// Engine produced no chunks; still a successful empty reply.
		resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
		resp.WriteHeader(http.StatusOK)
	}
	return nil
}

// ConversationsResponse is the response body for GET /api/v1/conversations.
type ConversationsResponse struct {
	Conversations []core.ConversationInfo `json:"conversations"`
}

func (s *Server) handleListConversations(c echo.Context) error {
	ownerID := c.QueryParam("owner")
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner query parameter is required")
	}

	infos, err := s.conversations.List(c.Request().Context(), ownerID)
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	if infos == nil {
		infos = []core.ConversationInfo{}
	}
	return c.JSON(http.StatusOK, ConversationsResponse{Conversations: infos})
}

// MessageView is one history entry in GET /api/v1/conversations/:id/messages.
type MessageView struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesResponse is the response body for the message history endpoint.
type MessagesResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
}

func (s *Server) handleMessages(c echo.Context) error {
	conversationID := c.Param("id")

	if _, err := s.conversations.Get(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		s.logger.Error("failed to load conversation", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}

	msgs, err := s.conversations.History(c.Request().Context(), conversationID)
	if err != nil {
		s.logger.Error("failed to load history", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, MessageView{
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, MessagesResponse{
		ConversationID: conversationID,
		Messages:       views,
	})
}

// Handler exposes the underlying handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
