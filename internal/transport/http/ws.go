package http

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

const (
	frameSnapshot = "snapshot"
	frameToken    = "token"
	frameEnd      = "end"
	frameError    = "error"
)

// frame is one websocket message of a chat stream.
type frame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleStreamSocket relays the chat's current stream: a snapshot of the
// text so far, then each token, then end or error.
func (s *Server) handleStreamSocket(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := s.chats.GetChat(c.Request.Context(), currentUser(c).ID, chatID); err != nil {
		fail(c, err)
		return
	}

	sub, err := s.streams.Subscribe(chatID)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.FromCtx(c.Request.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go readPump(conn, cancel)

	logger := log.FromCtx(ctx).With().Str("chat_id", chatID).Logger()
	if err := relay(ctx, conn, sub); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("stream relay stopped")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func relay(ctx context.Context, conn *websocket.Conn, sub *stream.Subscription) error {
	if err := writeFrame(conn, frame{Type: frameSnapshot, Text: sub.Snapshot()}); err != nil {
		return err
	}

	events := make(chan stream.Fragment)
	errs := make(chan error, 1)
	go func() {
		for {
			f, err := sub.Next(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case events <- f:
			case <-ctx.Done():
				return
			}
			if f.End {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case f := <-events:
			switch {
			case f.End && f.Err != nil:
				return writeFrame(conn, frame{Type: frameError, Error: f.Err.Error()})
			case f.End:
				return writeFrame(conn, frame{Type: frameEnd})
			default:
				if err := writeFrame(conn, frame{Type: frameToken, Text: f.Text}); err != nil {
					return err
				}
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// readPump drains control frames and cancels the relay once the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

