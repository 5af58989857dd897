package api

import (
	"net/http"
	"time"

	log "github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is pushed to /stream clients on connect and on every publish.
type StreamMessage struct {
	ID      string             `json:"id"`
	Cycle   uint64             `json:"cycle"`
	Source  string             `json:"source"`
	Taken   time.Time          `json:"taken"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics"`
}

func streamMessage(snap *snapshot.Snapshot) StreamMessage {
	return StreamMessage{
		ID:      snap.ID,
		Cycle:   snap.Cycle,
		Source:  string(snap.Source),
		Taken:   snap.Taken,
		Error:   snap.Err(),
		Metrics: snap.Values(),
	}
}

// handleStream handles GET /stream. The client receives the current
// snapshot immediately and then every published one. A slow client misses
// intermediate snapshots rather than delaying the refresher.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	if !s.trackStream() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.streams.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		log.Warningf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	updates, cancel := s.snapshots.Subscribe(4)
	defer cancel()

	log.V(1).Infof("stream client %s connected", conn.RemoteAddr())

	closed := make(chan struct{})
	go readPump(conn, closed)

	if err := writeSnapshot(conn, s.snapshots.Read()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			log.V(1).Infof("stream client %s disconnected", conn.RemoteAddr())
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				log.V(1).Infof("stream write to %s: %v", conn.RemoteAddr(), err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages, answers pongs and signals closed
// when the connection drops.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap *snapshot.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(streamMessage(snap))
}
