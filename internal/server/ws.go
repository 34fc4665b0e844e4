package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	clientSendBuffer  = 16
)

// WebSocket channels a client can subscribe to.
const (
	ChannelRouterData   = "router_data"
	ChannelSystemStatus = "system_status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from the same origin; token auth gates
	// the upgrade, so cross-origin upgrades are acceptable here.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Category  string    `json:"category,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// Hub fans collected data out to subscribed WebSocket clients, one
// writer goroutine per client so a slow consumer never blocks the
// poller.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*wsClient]bool
	log      zerolog.Logger
	done     chan struct{}
	once     sync.Once
}

// NewHub starts the heartbeat loop and returns the hub.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		channels: make(map[string]map[*wsClient]bool),
		log:      log.With().Str("component", "ws").Logger(),
		done:     make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Broadcast queues a data message to every subscriber of the channel.
// Clients whose buffers are full are dropped.
func (h *Hub) Broadcast(channel, category string, data any) {
	msg := wsMessage{
		Type:      "update",
		Channel:   channel,
		Category:  category,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	h.mu.Lock()
	var stale []*wsClient
	for client := range h.channels[channel] {
		select {
		case client.send <- msg:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.Unlock()
	for _, client := range stale {
		h.drop(client)
	}
}

// ClientCount returns the number of live subscriptions per channel.
func (h *Hub) ClientCount() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make(map[string]int, len(h.channels))
	for ch, clients := range h.channels {
		counts[ch] = len(clients)
	}
	return counts
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	var clients []*wsClient
	for _, set := range h.channels {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.channels = make(map[string]map[*wsClient]bool)
	h.mu.Unlock()
	for _, client := range clients {
		close(client.send)
		client.conn.Close()
	}
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			msg := wsMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}
			h.mu.Lock()
			seen := make(map[*wsClient]bool)
			for _, set := range h.channels {
				for client := range set {
					if !seen[client] {
						seen[client] = true
						select {
						case client.send <- msg:
						default:
						}
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) subscribe(client *wsClient, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*wsClient]bool)
	}
	h.channels[channel][client] = true
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	found := false
	for _, set := range h.channels {
		if set[client] {
			delete(set, client)
			found = true
		}
	}
	h.mu.Unlock()
	if found {
		close(client.send)
		client.conn.Close()
	}
}

// handleWebSocket upgrades the request and subscribes the client to
// the requested channel (router_data by default).
func (s *Server) handleWebSocket(c *gin.Context) {
	channel := c.DefaultQuery("channel", ChannelRouterData)
	if channel != ChannelRouterData && channel != ChannelSystemStatus {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan wsMessage, clientSendBuffer)}
	s.hub.subscribe(client, channel)
	s.log.Debug().Str("channel", channel).Msg("websocket client connected")

	go s.hub.writeLoop(client)
	go s.hub.readLoop(client)
}

// writeLoop serializes queued messages onto the connection.
func (h *Hub) writeLoop(client *wsClient) {
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteJSON(msg); err != nil {
			h.drop(client)
			return
		}
	}
}

// readLoop discards inbound frames and detects the client going away.
func (h *Hub) readLoop(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}
