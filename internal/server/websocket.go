package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/euforicio/markpaste/internal/paste"
)

const previewTimeout = 10 * time.Second

type previewMessage struct {
	Text       string `json:"text"`
	Syntax     string `json:"syntax"`
	Shortcodes *bool  `json:"shortcodes,omitempty"`
}

type previewReply struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Error string `json:"error,omitempty"`
}

// handlePreviewSocket streams live previews: each {text, syntax} message gets
// one {title, body} or {error} reply.
func (s *Server) handlePreviewSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(s.jsonLimit())
	stop := context.AfterFunc(s.ctx, func() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	ctx := r.Context()
	key := clientIP(r)
	for {
		var msg previewMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			s.logSocketClose(err)
			return
		}

		reply := s.previewReply(ctx, key, msg)
		writeCtx, cancel := context.WithTimeout(ctx, previewTimeout)
		err := wsjson.Write(writeCtx, conn, reply)
		cancel()
		if err != nil {
			s.logSocketClose(err)
			return
		}
	}
}

func (s *Server) previewReply(ctx context.Context, key string, msg previewMessage) previewReply {
	if ok, _ := s.limiter.allow(key); !ok {
		return previewReply{Error: "Rate limit exceeded"}
	}

	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()
	doc, err := s.pastes.Preview(ctx, paste.Request{
		Text:              msg.Text,
		Syntax:            msg.Syntax,
		DisableShortcodes: msg.Shortcodes != nil && !*msg.Shortcodes,
	})
	if err != nil {
		var userErr *paste.UserError
		if errors.As(err, &userErr) {
			return previewReply{Error: userErr.Message}
		}
		s.logger.ErrorContext(ctx, "live preview failed", slog.Any("err", err))
		return previewReply{Error: "Something went wrong"}
	}
	return previewReply{Title: doc.Title, Body: doc.HTML}
}

func (s *Server) logSocketClose(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Debug("preview socket closed", slog.Any("err", err))
}
