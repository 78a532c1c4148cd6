package signal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket client
type Client struct {
	conn   *websocket.Conn
	room   string
	role   string // RoleBroadcaster or RoleViewer
	id     string // viewer id, or the room id for the broadcaster
	send   chan []byte
	server *Server

	sendMu sync.Mutex
	closed bool
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Room holds the broadcaster and viewers for one room id
type Room struct {
	id          string
	broadcaster *Client
	viewers     map[string]*Client
	mu          sync.RWMutex
}

// Server relays envelopes between one broadcaster and its viewers per
// room. Viewer frames go to the broadcaster stamped with the viewer id;
// broadcaster frames are routed by receiverId.
type Server struct {
	rooms    map[string]*Room
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a new signaling relay
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		rooms: make(map[string]*Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With("component", "signal-server"),
	}
}

// Handler returns the HTTP routes: the websocket endpoint at /ws/rtc and a
// health check at /health.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.RoomCount()})
	})
	router.GET("/ws/rtc", s.HandleWebSocket)
	return router
}

// StartServer serves Handler on addr until ctx is cancelled
func (s *Server) StartServer(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("signal server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// getOrCreateRoom returns existing room or creates new one
func (s *Server) getOrCreateRoom(id string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, exists := s.rooms[id]; exists {
		return room
	}
	room := &Room{
		id:      id,
		viewers: make(map[string]*Client),
	}
	s.rooms[id] = room
	return room
}

func (s *Server) room(id string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id]
}

// HandleWebSocket upgrades /ws/rtc?type=<role>&roomId=<room>[&id=<viewer>]
func (s *Server) HandleWebSocket(c *gin.Context) {
	roomID := NormalizeRoomID(c.Query("roomId"))
	if !ValidateRoomID(roomID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid roomId"})
		return
	}

	role := c.Query("type")
	var id string
	switch role {
	case RoleBroadcaster:
		id = roomID
	case RoleViewer:
		id = c.Query("id")
		if id == "" {
			id = uuid.NewString()
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be Broadcaster or Viewer"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		room:   roomID,
		role:   role,
		id:     id,
		send:   make(chan []byte, 256),
		server: s,
	}
	s.addClient(client)

	go client.writePump()
	go client.readPump()
}

// addClient registers a client with its room
func (s *Server) addClient(client *Client) {
	room := s.getOrCreateRoom(client.room)

	room.mu.Lock()
	defer room.mu.Unlock()

	if client.role == RoleBroadcaster {
		if old := room.broadcaster; old != nil && old != client {
			s.log.Info("broadcaster reconnecting, closing old connection", "room", room.id)
			old.closeSend()
		}
		room.broadcaster = client
		s.log.Info("broadcaster connected", "room", room.id)
		return
	}

	if old, ok := room.viewers[client.id]; ok && old != client {
		old.closeSend()
	}
	room.viewers[client.id] = client
	s.log.Info("viewer joined", "room", room.id, "viewer", client.id, "viewers", len(room.viewers))

	client.system(client.id, "joined "+room.id+" as "+client.id)
	if room.broadcaster != nil {
		room.broadcaster.system(room.id, "viewer "+client.id+" joined")
	}
}

// removeClient removes a client from its room
func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[client.room]
	if !exists {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if client.role == RoleBroadcaster {
		if room.broadcaster == client {
			room.broadcaster = nil
			for _, viewer := range room.viewers {
				viewer.system(viewer.id, "broadcaster disconnected")
			}
		}
	} else if room.viewers[client.id] == client {
		delete(room.viewers, client.id)
		s.log.Info("viewer left", "room", room.id, "viewer", client.id)
		if room.broadcaster != nil {
			room.broadcaster.system(room.id, "viewer "+client.id+" left")
		}
	}

	// Clean up empty rooms
	if room.broadcaster == nil && len(room.viewers) == 0 {
		delete(s.rooms, client.room)
	}
}

// ViewerCount returns number of viewers in a room
func (s *Server) ViewerCount(roomID string) int {
	room := s.room(NormalizeRoomID(roomID))
	if room == nil {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.viewers)
}

// HasBroadcaster reports whether a broadcaster is connected to the room
func (s *Server) HasBroadcaster(roomID string) bool {
	room := s.room(NormalizeRoomID(roomID))
	if room == nil {
		return false
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.broadcaster != nil
}

// RoomCount returns the number of open rooms
func (s *Server) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
