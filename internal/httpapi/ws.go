package httpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// wsPingPeriod is how often the server sends a liveness ping.
	wsPingPeriod = 30 * time.Second
	// wsPongTimeout is how long the server waits for a pong before counting
	// it as missed.
	wsPongTimeout = 10 * time.Second
	// wsMaxMissedPongs disconnects a peer after this many consecutive
	// missed pongs.
	wsMaxMissedPongs = 2
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

// handleWebSocket upgrades the connection and serves JSON-RPC requests over
// it for the lifetime of the session, closing the connection once the peer
// misses wsMaxMissedPongs consecutive liveness pings.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	atomic.AddInt64(&s.connections, 1)
	defer atomic.AddInt64(&s.connections, -1)

	conn.SetReadLimit(wsMaxMessageSize)

	var writeMu sync.Mutex
	writeMessage := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	var missedPongs, awaitingPong int32
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&awaitingPong, 0)
		atomic.StoreInt32(&missedPongs, 0)
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}
	defer closeConn()

	go s.wsPingLoop(conn, &missedPongs, &awaitingPong, writeMu.Lock, writeMu.Unlock, done, closeConn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		resp := s.mcp.Dispatch(c.Request.Context(), message)
		if resp == nil {
			continue
		}
		if err := writeMessage(resp); err != nil {
			s.log.Debug("websocket write error", zap.Error(err))
			return
		}
	}
}

// wsPingLoop sends a liveness ping every wsPingPeriod and closes the
// connection once wsMaxMissedPongs consecutive pings have gone unanswered
// within wsPongTimeout. awaitingPong is cleared by the pong handler; if it
// is still set when the timeout fires, that ping counts as missed.
func (s *Server) wsPingLoop(conn *websocket.Conn, missedPongs, awaitingPong *int32, lock, unlock func(), done <-chan struct{}, closeConn func()) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			atomic.StoreInt32(awaitingPong, 1)

			lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			unlock()
			if err != nil {
				closeConn()
				return
			}

			time.AfterFunc(wsPongTimeout, func() {
				if atomic.LoadInt32(awaitingPong) == 0 {
					return
				}
				if atomic.AddInt32(missedPongs, 1) >= wsMaxMissedPongs {
					closeConn()
				}
			})
		}
	}
}
