package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/query"
)

const streamCloseGrace = 5 * time.Second

type streamFrame struct {
	Type    string        `json:"type"`
	Content string        `json:"content,omitempty"`
	Answer  *query.Answer `json:"answer,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// StreamChat sends one message over the chat socket and consumes the
// stream: onDelta fires for each token batch, and the returned answer is
// the authoritative final frame with citations. The session must already
// exist; Chat with a Nil session creates one.
func (c *Client) StreamChat(ctx context.Context, sessionID uuid.UUID, message string, onDelta func(delta string)) (*query.Answer, error) {
	wsURL, err := c.socketURL(sessionID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("failed to dial chat socket: %w", err)
	}
	defer conn.Close()

	// Fail reads promptly when the context dies mid-stream.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(map[string]string{"message": message}); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("stream ended unexpectedly: %w", err)
		}
		switch frame.Type {
		case "delta":
			if onDelta != nil {
				onDelta(frame.Content)
			}
		case "answer":
			closeStream(conn)
			return frame.Answer, nil
		case "error":
			closeStream(conn)
			return nil, &APIError{Status: http.StatusBadGateway, Code: frame.Code, Detail: frame.Detail}
		}
	}
}

// socketURL derives the ws endpoint for a session. Browsers cannot set
// headers on upgrade requests, so the server accepts the token as a
// query parameter and this client does the same.
func (c *Client) socketURL(sessionID uuid.UUID) (string, error) {
	access, _ := c.Tokens()
	if access == "" {
		return "", fmt.Errorf("no access token for chat socket: %w", errdefs.ErrUnauthenticated)
	}
	base := c.base
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "", fmt.Errorf("base URL %q does not speak http: %w", c.base, errdefs.ErrBadRequest)
	}
	return base + "/api/v1/ws/" + sessionID.String() + "?access_token=" + access, nil
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamCloseGrace))
}
