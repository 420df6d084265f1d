package api

import (
	"encoding/json"
	"time"

	"github.com/danmuck/paramctl/internal/engine"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadWait   = 2 * wsPingPeriod
)

// handleWS streams the current view summary and one after every published
// change. Slow clients only ever see the latest view.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("api.Server.handleWS upgrade err=%v", err)
		return
	}
	defer conn.Close()

	views, cancel := s.engine.Subscribe(4)
	defer cancel()

	// The reader only watches for close; clients have nothing to send.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	logging.Debugf("api.Server.handleWS open remote=%s", c.Request.RemoteAddr)
	for {
		select {
		case v, ok := <-views:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(time.Second),
				)
				_ = conn.Close()
				<-readerDone
				return
			}
			if err := writeSummary(conn, v); err != nil {
				_ = conn.Close()
				<-readerDone
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				<-readerDone
				return
			}
		case <-readerDone:
			logging.Debugf("api.Server.handleWS closed remote=%s", c.Request.RemoteAddr)
			return
		}
	}
}

func writeSummary(conn *websocket.Conn, v *engine.View) error {
	b, err := json.Marshal(v.Summary())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
