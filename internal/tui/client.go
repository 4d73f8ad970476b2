// Package tui is a terminal client for watching and steering a discussion
// room over its websocket stream.
package tui

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nogataka/cc-discussion/internal/orchestrator"
)

// Frame is one decoded server-to-client message. Discussion events carry a
// typed Event; control frames (room_state, pong, info) only carry Raw.
type Frame struct {
	Type  string
	Event orchestrator.Event
	Raw   json.RawMessage
}

// ParticipantInfo mirrors the participant entries of a room_state snapshot.
type ParticipantInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Color      string `json:"color"`
	IsSpeaking bool   `json:"is_speaking"`
}

// RoomState is the snapshot the server sends on connect.
type RoomState struct {
	RoomID       string            `json:"room_id"`
	Status       string            `json:"status"`
	CurrentTurn  int               `json:"current_turn"`
	MaxTurns     int               `json:"max_turns"`
	Participants []ParticipantInfo `json:"participants"`
}

// Client wraps the room websocket.
type Client struct {
	ws *websocket.Conn
}

// Dial connects to the room stream of a server at baseURL, e.g.
// "http://localhost:8000".
func Dial(baseURL, roomID string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/rooms/" + roomID

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	return &Client{ws: ws}, nil
}

// ReadFrame blocks for the next server message.
func (c *Client) ReadFrame() (Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(data)
}

// ParseFrame decodes one raw server message.
func ParseFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}

	frame := Frame{Type: head.Type, Raw: data}
	if event, err := orchestrator.UnmarshalEvent(data); err == nil {
		frame.Event = event
	}
	return frame, nil
}

// Start asks the server to begin or resume the discussion.
func (c *Client) Start() error {
	return c.ws.WriteJSON(map[string]string{"type": "start"})
}

// Pause requests a pause at the next turn boundary.
func (c *Client) Pause() error {
	return c.ws.WriteJSON(map[string]string{"type": "pause"})
}

// Stop ends the discussion after the closing summary.
func (c *Client) Stop() error {
	return c.ws.WriteJSON(map[string]string{"type": "stop"})
}

// Interject asks the facilitator for a short steering turn. Only honored
// while the discussion is paused or waiting.
func (c *Client) Interject() error {
	return c.ws.WriteJSON(map[string]string{"type": "interject"})
}

// Moderate sends a moderator message into the discussion.
func (c *Client) Moderate(content string) error {
	return c.ws.WriteJSON(map[string]string{"type": "moderate", "content": content})
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.ws.Close()
}
