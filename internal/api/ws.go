package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/orchestrator"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const clientBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans orchestrator events out to websocket clients. A client that
// cannot keep up is dropped rather than allowed to stall the broadcast.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

// Broadcast implements the orchestrator sink contract: it never blocks.
func (h *hub) Broadcast(event orchestrator.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.S().Warnf("encoding event for broadcast: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			logger.S().Warn("dropping slow websocket client")
		}
	}
}

func (h *hub) serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writeLoop()
	go h.readLoop(client)
	return nil
}

// writeLoop pushes broadcast frames until the send channel closes.
func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop exists to detect disconnects; inbound frames are discarded.
func (h *hub) readLoop(client *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
