package zoneinfo

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

const (
	wsReadLimit    = 4096
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsRequest is a client frame. Type is "info" or "phases".
type wsRequest struct {
	ID   string  `json:"id,omitempty"`
	Type string  `json:"type"`
	Zone string  `json:"zone"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Z    float32 `json:"z"`
}

// wsResponse is a server frame. Info frames embed Info; phase frames carry Phase.
type wsResponse struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Zone  string `json:"zone,omitempty"`
	Phase string `json:"phase,omitempty"`
	Error string `json:"error,omitempty"`
	*Info `json:",omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsResponse

	mu     sync.Mutex
	closed bool
	unsubs []func()
}

// push queues a frame, dropping it if the client is slow or gone.
func (c *wsClient) push(r wsResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- r:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	close(c.send)
	c.mu.Unlock()

	for _, stop := range unsubs {
		stop()
	}
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, send: make(chan wsResponse, wsSendBuffer)}

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		client.close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(wsReadLimit)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.push(wsResponse{Type: "error", Error: "malformed request"})
			continue
		}
		s.handleWSRequest(client, req)
	}
}

func (s *Server) handleWSRequest(client *wsClient, req wsRequest) {
	reply := wsResponse{ID: req.ID, Type: req.Type, Zone: req.Zone}

	z, err := s.Zone(req.Zone)
	if err != nil {
		reply.Type, reply.Error = "error", err.Error()
		client.push(reply)
		return
	}

	switch req.Type {
	case "info":
		info := s.Query(z, math.Vec3{X: req.X, Y: req.Y, Z: req.Z})
		reply.Info = &info
	case "phases":
		zoneName := z.Name
		stop := z.Tracker().Subscribe(func(p navgraph.Phase) {
			client.push(wsResponse{Type: "phase", Zone: zoneName, Phase: p.String()})
		})
		client.mu.Lock()
		if client.closed {
			client.mu.Unlock()
			stop()
			return
		}
		client.unsubs = append(client.unsubs, stop)
		client.mu.Unlock()
		reply.Type = "phase"
		reply.Phase = z.Phase().String()
	default:
		reply.Type, reply.Error = "error", "unknown request type "+req.Type
	}
	client.push(reply)
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
