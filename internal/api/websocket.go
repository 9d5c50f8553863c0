package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/wafer-pendant/backend/internal/engine"
)

// WebSocket message types for the event stream protocol. Engine events
// are forwarded with their own type tag ("state_changed",
// "step_completed", ...) and the full event as payload.
const (
	// Client -> Server messages
	MsgTypePing   = "ping"
	MsgTypeStatus = "status"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// eventQueueSize bounds the broadcast backlog. Engine subscribers must
// not block, so events beyond this are dropped rather than stalling
// the run loop.
const eventQueueSize = 256

// EventHandler pushes engine events to all connected WebSocket
// clients.
type EventHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader

	// mu guards clients and serializes writes; gorilla connections
	// support one concurrent writer.
	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	events chan engine.Event
}

// NewEventHandler creates the event push handler and subscribes it to
// the engine. The broadcast pump runs for the life of the process.
func NewEventHandler(eng *engine.Engine) *EventHandler {
	h := &EventHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan engine.Event, eventQueueSize),
	}

	eng.Subscribe(h.enqueue)
	go h.pump()
	return h
}

// enqueue hands an engine event to the broadcast pump without
// blocking the emitting goroutine.
func (h *EventHandler) enqueue(ev engine.Event) {
	select {
	case h.events <- ev:
	default:
		fmt.Printf("[WebSocket] event queue full, dropping %s\n", ev.Type)
	}
}

func (h *EventHandler) pump() {
	for ev := range h.events {
		h.broadcast(ev)
	}
}

// broadcast fans an event out to every connected client. Clients that
// fail to accept the write are dropped.
func (h *EventHandler) broadcast(ev engine.Event) {
	msg := WSMessage{
		Type:      string(ev.Type),
		ID:        ev.RunID,
		Payload:   mustJSON(ev),
		Timestamp: ev.Timestamp.UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ws := range h.clients {
		if err := ws.WriteJSON(msg); err != nil {
			fmt.Printf("[WebSocket] dropping client, write failed: %v\n", err)
			ws.Close()
			delete(h.clients, ws)
		}
	}
}

// HandleEvents upgrades the HTTP connection and streams engine events
// until the client disconnects. Clients may send ping and status
// requests; everything else flows server to client.
func (h *EventHandler) HandleEvents(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer h.unregister(ws)

	fmt.Println("[WebSocket] Client connected to event stream")

	// Send welcome with the current run snapshot so late joiners can
	// render state immediately.
	h.send(ws, WSMessage{
		Type:      MsgTypeConnected,
		Payload:   mustJSON(h.engine.Snapshot()),
		Timestamp: time.Now().UnixMilli(),
	})

	h.register(ws)

	// Main message loop
	for {
		var msg WSMessage
		err := ws.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			// Respond with pong to keep connection alive
			h.send(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeStatus:
			h.send(ws, WSMessage{
				Type:      MsgTypeStatus,
				Payload:   mustJSON(h.engine.Snapshot()),
				Timestamp: time.Now().UnixMilli(),
			})
		default:
			h.sendError(ws, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	fmt.Println("[WebSocket] Client disconnected from event stream")
	return nil
}

func (h *EventHandler) register(ws *websocket.Conn) {
	h.mu.Lock()
	h.clients[ws] = true
	h.mu.Unlock()
}

func (h *EventHandler) unregister(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, ws)
	h.mu.Unlock()
	ws.Close()
}

// Helper methods

func (h *EventHandler) send(ws *websocket.Conn, msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (h *EventHandler) sendError(ws *websocket.Conn, message, code string) {
	h.send(ws, WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
