package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/course-checks/internal/session"
)

const (
	wsIdleTimeout  = 10 * time.Minute
	wsWriteTimeout = 5 * time.Second
)

// Commands accepted over the session WebSocket.
const (
	cmdView        = "view"
	cmdSelectCheck = "select_check"
	cmdAnswer      = "answer"
	cmdAdvance     = "advance"
	cmdRestart     = "restart"
)

type wsCommand struct {
	Type    string `json:"type"`
	CheckID string `json:"check_id,omitempty"`
	Option  *int   `json:"option,omitempty"`
}

type wsReply struct {
	Type    string        `json:"type"`
	Session *session.View `json:"session,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// handleWebSocket streams session views. The client sends commands and gets
// the updated view, or an error frame carrying the unchanged view.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	v, err := s.engine.View(r.Context(), sid)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	// Lift the server's per-request deadlines; the socket manages its own.
	rc := http.NewResponseController(w)
	rc.SetReadDeadline(time.Time{})
	rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", sid, "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	if err := s.writeFrame(ctx, c, wsReply{Type: "view", Session: &v}); err != nil {
		return
	}

	for {
		readCtx, cancel := context.WithTimeout(ctx, wsIdleTimeout)
		var cmd wsCommand
		err := wsjson.Read(readCtx, c, &cmd)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					slog.Debug("websocket read ended", "session_id", sid, "error", err)
				}
			}
			return
		}

		view, err := s.dispatch(ctx, sid, cmd)
		reply := wsReply{Type: "view", Session: &view}
		if err != nil {
			_, code := errorStatus(err)
			reply = wsReply{Type: "error", Error: err.Error(), Code: code}
			if view.SessionID != "" {
				reply.Session = &view
			}
			if code == "session_not_found" {
				s.writeFrame(ctx, c, reply)
				c.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
		}
		if err := s.writeFrame(ctx, c, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sid string, cmd wsCommand) (session.View, error) {
	option := func() (int, error) {
		if cmd.Option == nil {
			return 0, fmt.Errorf("%w: option is required", errBadRequest)
		}
		return *cmd.Option, nil
	}

	switch cmd.Type {
	case cmdView:
		return s.engine.View(ctx, sid)
	case cmdSelectCheck:
		opt, err := option()
		if err != nil {
			return session.View{}, err
		}
		return s.engine.SelectCheck(ctx, sid, cmd.CheckID, opt)
	case cmdAnswer:
		opt, err := option()
		if err != nil {
			return session.View{}, err
		}
		return s.engine.Answer(ctx, sid, opt)
	case cmdAdvance:
		return s.engine.Advance(ctx, sid)
	case cmdRestart:
		return s.engine.Restart(ctx, sid)
	default:
		return session.View{}, fmt.Errorf("%w: unknown command %q", errBadRequest, cmd.Type)
	}
}

func (s *Server) writeFrame(ctx context.Context, c *websocket.Conn, reply wsReply) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c, reply); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
