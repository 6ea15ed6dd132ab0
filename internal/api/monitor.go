package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/hive-nexus/internal/events"
)

const (
	monitorWriteWait  = 10 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = monitorPongWait * 9 / 10
	monitorBuffer     = 256
)

// handleEvents upgrades to a websocket and streams every bus event as
// JSON until the client goes away. ?source=loop,dispatch limits the
// stream to the named sources.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cors.allowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := map[string]bool{}
	for _, src := range strings.Split(r.URL.Query().Get("source"), ",") {
		if src = strings.TrimSpace(src); src != "" {
			filter[src] = true
		}
	}

	ch := s.opts.Bus.Subscribe(monitorBuffer)
	defer s.opts.Bus.Unsubscribe(ch)
	s.logger.Debug("event monitor connected", "remote", r.RemoteAddr, "sources", len(filter))

	// The read side only exists to notice the close and handle pongs.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event monitor read ended", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(monitorPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(monitorWriteWait))
			return
		case e := <-ch:
			if len(filter) > 0 && !filter[e.Source] {
				continue
			}
			if err := writeEvent(conn, e); err != nil {
				s.logger.Debug("event monitor write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(monitorWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
	return conn.WriteJSON(e)
}
