package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

// jsonConn is the part of a websocket connection the ask session needs.
type jsonConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
}

type wsRequest struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type wsMessage struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Attempt  *query.Attempt  `json:"attempt,omitempty"`
	Response *query.Response `json:"response,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

type WebSocketHandler struct {
	queryEngine *query.Engine
}

func NewWebSocketHandler(queryEngine *query.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.serve(context.Background(), c)
}

// serve answers "ask" messages until the peer goes away. Model attempts are
// streamed as they finish, then the answer word by word, then the full response.
// A failed read or write cancels the answer in flight.
func (h *WebSocketHandler) serve(parent context.Context, c jsonConn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	requests := make(chan wsRequest)
	go func() {
		defer close(requests)
		for {
			var msg wsRequest
			if err := c.ReadJSON(&msg); err != nil {
				logger.Debug("WebSocket read ended", zap.Error(err))
				cancel()
				return
			}

			if msg.Type != "ask" {
				continue
			}

			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range requests {
		if err := h.streamAnswer(ctx, c, msg); err != nil {
			logger.Warn("Failed to stream answer", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamAnswer(ctx context.Context, c jsonConn, msg wsRequest) error {
	if err := c.WriteJSON(wsMessage{Type: "status", Content: "Processing question..."}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeErr error
	response, err := h.queryEngine.Answer(ctx, query.Request{
		Question: msg.Question,
		TopK:     msg.TopK,
		OnAttempt: func(a query.Attempt) {
			if writeErr != nil || ctx.Err() != nil {
				return
			}
			if writeErr = c.WriteJSON(wsMessage{Type: "attempt", Attempt: &a}); writeErr != nil {
				cancel()
			}
		},
	})
	if writeErr != nil {
		return writeErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		_, body := classifyError(err)
		return c.WriteJSON(wsMessage{Type: "error", Error: &body})
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := c.WriteJSON(wsMessage{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
	}

	return c.WriteJSON(wsMessage{Type: "complete", Response: response})
}

// splitIntoWords splits on spaces and keeps newlines as their own tokens.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
