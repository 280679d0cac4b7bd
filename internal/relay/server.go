package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gridtown/internal/channel"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
)

// Server exposes the hub over websockets plus the diagnostics endpoints.
type Server struct {
	hub      *Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/telemetryz", s.handleTelemetry)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := struct {
		Status     string `json:"status"`
		ServerTime int64  `json:"serverTime"`
		Topics     int    `json:"topics"`
		Heartbeat  int64  `json:"heartbeatMillis"`
	}{
		Status:     "ok",
		ServerTime: time.Now().UnixMilli(),
		Topics:     s.hub.TopicCount(),
		Heartbeat:  heartbeatInterval.Milliseconds(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(s.hub.Telemetry().Snapshot())
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}

	// The first frame must be a join naming the topic and the member.
	conn.SetReadDeadline(time.Now().Add(disconnectAfter))
	join, err := readClientFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	if join.Type != channel.FrameJoin || join.Member == nil || join.Topic == "" {
		writeFrame(conn, channel.Frame{Type: channel.FrameError, Reason: "expected join frame"})
		conn.Close()
		return
	}

	sub, members, err := s.hub.Join(join.Topic, *join.Member)
	if err != nil {
		writeFrame(conn, channel.Frame{Type: channel.FrameError, Reason: err.Error()})
		conn.Close()
		return
	}

	topic := join.Topic
	memberID := join.Member.ID
	if err := writeFrame(conn, channel.Frame{Type: channel.FrameJoined, Topic: topic, Members: members}); err != nil {
		s.hub.Leave(topic, memberID)
		conn.Close()
		return
	}

	go s.writePump(conn, sub)

	conn.SetReadDeadline(time.Now().Add(disconnectAfter))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(disconnectAfter))
		return nil
	})

	for {
		frame, err := readClientFrame(conn)
		if err != nil {
			s.hub.Leave(topic, memberID)
			conn.Close()
			return
		}
		conn.SetReadDeadline(time.Now().Add(disconnectAfter))

		switch frame.Type {
		case channel.FrameBroadcast:
			s.hub.Broadcast(topic, memberID, frame.Event, frame.Payload)
		case channel.FrameLeave:
			s.hub.Leave(topic, memberID)
			conn.Close()
			return
		default:
			s.logger.Printf("discarding unknown frame type %q from %s", frame.Type, memberID)
		}
	}
}

// writePump drains the subscriber's queue into the connection and keeps the
// heartbeat going. It exits when the hub closes the queue or a write fails;
// closing the connection then unblocks the read loop, which leaves the hub.
func (s *Server) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			}
			if err := writeFrame(conn, frame); err != nil {
				s.logger.Printf("failed to send frame to %s: %v", sub.Member().ID, err)
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func readClientFrame(conn *websocket.Conn) (channel.Frame, error) {
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return channel.Frame{}, err
	}
	var frame channel.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		// A malformed frame is dropped, not fatal.
		return channel.Frame{Type: ""}, nil
	}
	return frame, nil
}

func writeFrame(conn *websocket.Conn, frame channel.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
