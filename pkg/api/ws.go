package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/query"
)

const (
	wsReadLimit  = 64 << 10
	wsIdleLimit  = 10 * time.Minute
	wsPingEvery  = 30 * time.Second
	wsWriteGrace = 10 * time.Second
)

// Outbound frame kinds. Deltas stream while the model talks; the answer
// frame is authoritative and carries citations the deltas never had.
type wsFrame struct {
	Type    string        `json:"type"` // delta | answer | error
	Content string        `json:"content,omitempty"`
	Answer  *query.Answer `json:"answer,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Code    string        `json:"code,omitempty"`
}

type wsClientFrame struct {
	Message string `json:"message"`
}

// wsConn serialises writes; the ping ticker and the answer loop share the
// socket.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteGrace))
	return c.conn.WriteJSON(frame)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteGrace))
}

// handleChatSocket streams a conversation: the client sends {"message"},
// the server answers with delta frames as tokens arrive and one final
// answer frame. The session must already exist (POST /chat creates it) and
// belong to the caller.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, r, errdefs.ErrNotFound)
		return
	}
	claims := claimsFrom(r)
	session, err := s.loadSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	raw.SetReadLimit(wsReadLimit)
	_ = raw.SetReadDeadline(time.Now().Add(wsIdleLimit))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsIdleLimit))
	})

	// The socket outlives the request timeout; its lifecycle is the
	// connection itself.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var in wsClientFrame
		if err := raw.ReadJSON(&in); err != nil {
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsIdleLimit))

		answer, err := s.pipeline.Answer(ctx, query.Input{
			Claims:    claims,
			OrgID:     claims.OrgID,
			DomainID:  session.DomainID,
			SessionID: session.ID,
			Text:      in.Message,
			OnDelta: func(delta string) error {
				return conn.send(wsFrame{Type: "delta", Content: delta})
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if sendErr := conn.send(wsFrame{Type: "error", Detail: errdefs.Message(err), Code: errdefs.Code(err)}); sendErr != nil {
				return
			}
			continue
		}
		if err := conn.send(wsFrame{Type: "answer", Answer: answer}); err != nil {
			return
		}
	}
}

// checkWSOrigin applies the CORS origin list to websocket upgrades.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
