package signal

import (
	"github.com/gorilla/websocket"
)

// readPump reads messages from the WebSocket
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.closeSend()
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket error", "error", err, "client", c.id)
			}
			return
		}

		env, err := Decode(message)
		if err != nil {
			c.server.log.Warn("invalid message format", "error", err, "client", c.id)
			continue
		}
		c.handleMessage(env)
	}
}

// writePump sends messages to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.server.log.Warn("websocket write error", "error", err, "client", c.id)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// handleMessage routes one envelope from this client
func (c *Client) handleMessage(env Envelope) {
	room := c.server.room(c.room)
	if room == nil {
		return
	}

	if c.role == RoleViewer {
		env.SenderID = c.id
		env.SenderType = RoleViewer
		c.forwardToBroadcaster(room, env)
		return
	}

	env.SenderID = c.id
	env.SenderType = RoleBroadcaster
	if env.Type == TypeJoin && env.ReceiverID == RoleServer {
		c.server.log.Info("broadcaster joined", "room", room.id)
		c.system(c.id, "joined "+room.id)
		return
	}
	c.forwardToViewer(room, env)
}

// forwardToBroadcaster sends a viewer's envelope to the room's broadcaster
func (c *Client) forwardToBroadcaster(room *Room, env Envelope) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	if room.broadcaster == nil {
		c.system(c.id, "no broadcaster in room "+room.id)
		return
	}
	room.broadcaster.deliver(env)
}

// forwardToViewer routes a broadcaster envelope by receiverId
func (c *Client) forwardToViewer(room *Room, env Envelope) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	viewer, ok := room.viewers[env.ReceiverID]
	if !ok {
		c.server.log.Debug("dropping message for unknown viewer", "room", room.id, "viewer", env.ReceiverID, "type", env.Type)
		return
	}
	viewer.deliver(env)
}

// system queues a System notice for this client
func (c *Client) system(receiverID, text string) {
	c.deliver(Envelope{
		Type:       TypeSystem,
		SenderID:   RoleServer,
		SenderType: RoleServer,
		ReceiverID: receiverID,
		Payload:    text,
	})
}

// deliver queues env without blocking; a full buffer drops it
func (c *Client) deliver(env Envelope) {
	data, err := Encode(env)
	if err != nil {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.log.Warn("client buffer full, dropping message", "client", c.id, "type", env.Type)
	}
}
