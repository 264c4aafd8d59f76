package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sankey-copier/relay-server/internal/snapshot"
	"go.uber.org/zap"
)

// uiTopics are every bus topic a UI client is relayed, on top of the
// snapshot broadcaster's own topic: trade/copy notifications the router
// publishes for the dashboard's live activity feed.
var uiTopics = []string{"ui/trade_received", "ui/trade_copied"}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades to a websocket and relays snapshot broadcasts plus UI
// notification topics to the client for as long as it stays connected. The
// snapshot broadcaster's timer runs only while at least one such client is
// subscribed, via Subscribe/Unsubscribe's reference count.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	sendCh := make(chan []byte, wsSendBuffer)
	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			conn.Close()
		})
	}

	s.snap.Subscribe()

	var unsubscribes []func()
	relay := func(topic string) {
		ch, unsubscribe := s.bus.Subscribe(topic)
		unsubscribes = append(unsubscribes, unsubscribe)
		go func() {
			for payload := range ch {
				select {
				case sendCh <- payload:
				default:
					s.log.Warn("dropped ws broadcast, client buffer full", zap.String("client_id", id), zap.String("topic", topic))
				}
			}
		}()
	}
	relay(snapshot.Topic)
	for _, topic := range uiTopics {
		relay(topic)
	}

	cleanup := func() {
		s.snap.Unsubscribe()
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}

	go s.wsReadPump(conn, closeConn)
	go s.wsWritePump(conn, sendCh, done, closeConn, cleanup)
}

// wsReadPump's only job is to notice when the client goes away; UI clients
// never send anything meaningful over this socket.
func (s *Server) wsReadPump(conn *websocket.Conn, closeConn func()) {
	defer closeConn()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(conn *websocket.Conn, sendCh chan []byte, done chan struct{}, closeConn, cleanup func()) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		closeConn()
		cleanup()
	}()

	for {
		select {
		case data, ok := <-sendCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
