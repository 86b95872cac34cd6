// Package notify fans workflow status transitions out to connected
// WebSocket listeners. It is a pure sink: no replay for late
// subscribers, no delivery guarantee beyond best effort, and a slow or
// dead connection is dropped rather than blocking the rest.
package notify

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const sendTimeout = 5 * time.Second

// Hub maintains active listeners grouped by topic (one topic per
// workflow id)
type Hub struct {
	topics     map[string]map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
}

type envelope struct {
	topic   string
	message []byte
}

// NewHub creates an empty broadcast hub
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub until the broadcast channel is closed. Call it
// from its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.topics[client.topic] == nil {
				h.topics[client.topic] = make(map[*Client]bool)
			}
			h.topics[client.topic][client] = true
			log.Printf("[Notify] Listener joined topic %s (%d on topic)", client.topic, len(h.topics[client.topic]))

		case client := <-h.unregister:
			if clients, ok := h.topics[client.topic]; ok && clients[client] {
				delete(clients, client)
				close(client.send)
				if len(clients) == 0 {
					delete(h.topics, client.topic)
				}
				log.Printf("[Notify] Listener left topic %s", client.topic)
			}

		case ev := <-h.broadcast:
			for client := range h.topics[ev.topic] {
				select {
				case client.send <- ev.message:
				default:
					// Listener can't keep up; drop it.
					delete(h.topics[ev.topic], client)
					close(client.send)
				}
			}
		}
	}
}

// Broadcast pushes a message to every current subscriber of the topic.
// Subscribers that join later never see it.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.broadcast <- envelope{topic: topic, message: message}
}

// Client is one WebSocket listener bound to a single topic
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

// NewClient attaches a WebSocket connection to the hub and starts its
// pumps
func NewClient(hub *Hub, conn *websocket.Conn, topic string) *Client {
	client := &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		send:  make(chan []byte, 16),
	}
	hub.register <- client
	go client.writePump()
	go client.readPump()
	return client
}

// readPump drains the connection so close frames are processed; inbound
// payloads are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Notify] WebSocket error on topic %s: %v", c.topic, err)
			}
			return
		}
	}
}

// writePump forwards hub messages to the connection with a bounded
// per-send deadline.
func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
